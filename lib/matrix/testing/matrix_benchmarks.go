package testing

import (
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/smatrix/lib/matrix"
)

// RunMatrixBenchmarks runs all benchmarks for a sparse matrix implementation
func RunMatrixBenchmarks(b *testing.B, name string, factory MatrixFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("IncrSameRow", func(b *testing.B) {
		benchmarkIncrSameRow(b, factory())
	})

	b.Run("IncrParallel", func(b *testing.B) {
		benchmarkIncrParallel(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Get(absent)", func(b *testing.B) {
		benchmarkGetAbsent(b, factory())
	})

	b.Run("GetRow", func(b *testing.B) {
		benchmarkGetRow(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// RunPersistenceBenchmarks runs the benchmarks that need a data file
func RunPersistenceBenchmarks(b *testing.B, name string, open PersistentFactory) {
	b.Run("Reopen", func(b *testing.B) {
		benchmarkReopen(b, open)
	})
}

// benchmarkSet measures Set over many rows
func benchmarkSet(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureSet)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(uint32(i>>4), uint32(i), uint32(i))
	}
}

// benchmarkIncrSameRow measures Incr on one growing row
func benchmarkIncrSameRow(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureIncr)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Incr(1, uint32(i%100000), 1)
	}
}

// benchmarkIncrParallel measures Incr from many goroutines on random cells
func benchmarkIncrParallel(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureIncr)

	var seed int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		for pb.Next() {
			m.Incr(uint32(rng.Intn(10000)), uint32(rng.Intn(1000)), 1)
		}
	})
}

// benchmarkGet measures Get on existing cells
func benchmarkGet(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureSet|matrix.FeatureGet)

	const rows = 1000
	const cols = 64
	for row := uint32(0); row < rows; row++ {
		for col := uint32(0); col < cols; col++ {
			m.Set(row, col, row+col)
		}
	}

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := atomic.AddInt64(&counter, 1)
			m.Get(uint32(i%rows), uint32(i%cols))
		}
	})
}

// benchmarkGetAbsent measures Get on rows that do not exist
func benchmarkGetAbsent(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureGet)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Get(uint32(i), 1)
	}
}

// benchmarkGetRow measures copying out a full row
func benchmarkGetRow(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureSet|matrix.FeatureGetRow)

	for col := uint32(0); col < 256; col++ {
		m.Set(1, col, col)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.GetRow(1, 256)
	}
}

// benchmarkMixedUsage mixes reads and increments like a recommender would
func benchmarkMixedUsage(b *testing.B, m matrix.SparseMatrix) {
	b.Cleanup(func() {
		m.Close()
	})

	requireFeature(b, m, matrix.FeatureIncr|matrix.FeatureGet|matrix.FeatureGetRow)

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		localCounter := 0
		for pb.Next() {
			i := atomic.AddInt64(&counter, 1)
			row := uint32(i % 5000)

			switch localCounter % 4 {
			case 0, 1:
				m.Incr(row, uint32(i%300), 1)
			case 2:
				m.Get(row, uint32(i%300))
			case 3:
				m.GetRow(row, 32)
			}
			localCounter++
		}
	})
}

// benchmarkReopen measures opening a populated data file and touching every row
func benchmarkReopen(b *testing.B, open PersistentFactory) {
	path := filepath.Join(b.TempDir(), "reopen.smx")

	m, err := open(path)
	if err != nil {
		b.Fatalf("open failed: %v", err)
	}
	requireFeature(b, m, matrix.FeaturePersistence)
	for row := uint32(0); row < 5000; row++ {
		for col := uint32(0); col < 16; col++ {
			m.Set(row, col, 1)
		}
	}
	if err := m.Close(); err != nil {
		b.Fatalf("close failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m, err := open(path)
		if err != nil {
			b.Fatalf("open failed: %v", err)
		}
		for row := uint32(0); row < 5000; row++ {
			m.RowLength(row)
		}
		m.Close()
	}
}
