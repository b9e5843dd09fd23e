package matrix

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplSMX Implementation = "smx"
)

// Feature represents matrix features as bit flags
type Feature uint64

const (
	FeatureGet         Feature = 1 << iota // Support for Get operations
	FeatureSet                             // Support for Set operations
	FeatureIncr                            // Support for Incr operations
	FeatureDecr                            // Support for Decr operations
	FeatureRowLength                       // Support for RowLength operations
	FeatureGetRow                          // Support for GetRow operations
	FeaturePersistence                     // Rows are persisted to a file and survive Close/Open
	FeatureEviction                        // Resident rows can be evicted back to disk
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeatureSet:
		return "Set"
	case FeatureIncr:
		return "Incr"
	case FeatureDecr:
		return "Decr"
	case FeatureRowLength:
		return "RowLength"
	case FeatureGetRow:
		return "GetRow"
	case FeaturePersistence:
		return "Persistence"
	case FeatureEviction:
		return "Eviction"
	default:
		return "Unknown"
	}
}

// Entry is one (column, counter) pair of a row
type Entry struct {
	Column uint32 `json:"column"`
	Value  uint32 `json:"value"`
}

type MatrixInfo struct {
	Rows              int            `json:"rows"`
	ResidentRows      int            `json:"resident_rows"`
	MemoryBytes       int64          `json:"memory_bytes"`
	FileBytes         int64          `json:"file_bytes"`
	Path              string         `json:"path"`
	MatrixType        Implementation `json:"matrix_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Matrix Interface
// --------------------------------------------------------------------------

// SparseMatrix defines an interface for sparse (row, column) -> counter stores.
// Rows and columns are 32-bit keys, counters are unsigned 32-bit values.
// Operations on the same row are linearizable; operations on different rows
// are not ordered relative to each other.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type SparseMatrix interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set replaces the counter at (row, col) and returns the new value.
	// The row and the column are created if absent.
	Set(row, col, value uint32) (uint32, error)

	// Incr adds delta to the counter at (row, col) and returns the new value.
	// The row and the column are created if absent.
	Incr(row, col, delta uint32) (uint32, error)

	// Decr subtracts delta from the counter at (row, col) and returns the new value.
	// The row and the column are created if absent.
	Decr(row, col, delta uint32) (uint32, error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the counter at (row, col), or 0 if the row or column is absent.
	// Get never creates anything.
	Get(row, col uint32) (uint32, error)

	// RowLength returns the number of live columns in a row, or 0 if the row is absent.
	RowLength(row uint32) (uint32, error)

	// GetRow returns up to capacity entries of a row in unspecified order.
	// A short result is not an error; callers compare against RowLength if needed.
	GetRow(row uint32, capacity int) ([]Entry, error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Flush writes every dirty row to the backing file and syncs it.
	// For memory-only matrices this is a no-op.
	Flush() (err error)

	// WriteMetrics writes the matrix metrics in Prometheus text format.
	WriteMetrics(w io.Writer)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the matrix.
	GetInfo() (info MatrixInfo)

	// Close flushes all dirty state, releases every row and closes the backing file.
	Close() (err error)
}
