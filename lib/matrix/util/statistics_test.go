package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if s.Mean != 5 {
		t.Errorf("Expected mean 5, got %f", s.Mean)
	}
	if s.StdDeviation != 2 {
		t.Errorf("Expected std deviation 2, got %f", s.StdDeviation)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("Expected min/max 2/9, got %f/%f", s.Min, s.Max)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Expected zero stats for empty input, got %+v", empty)
	}
}

func TestLengthHistogram(t *testing.T) {
	h := NewLengthHistogram()

	if h.PercentileEstimate(50) != 0 {
		t.Error("Empty histogram should estimate 0")
	}

	// 90 short rows, 10 long rows
	for i := 0; i < 90; i++ {
		h.AddSample(3)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(1000)
	}

	if h.Count() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.Count())
	}
	if h.Max() != 1000 {
		t.Errorf("Expected max 1000, got %d", h.Max())
	}
	if math.Abs(h.Average()-102.7) > 1e-9 {
		t.Errorf("Expected average 102.7, got %f", h.Average())
	}
	if p := h.PercentileEstimate(50); p != 4 {
		t.Errorf("Expected median bucket bound 4, got %d", p)
	}
	if p := h.PercentileEstimate(99); p != 1000 {
		t.Errorf("Expected p99 clamped to max 1000, got %d", p)
	}

	bounds, percentages := h.Distribution()
	if len(bounds) != 11 || bounds[10] != 1024 {
		t.Fatalf("Unexpected bounds %v", bounds)
	}
	if percentages[2] != 90 || percentages[10] != 10 {
		t.Errorf("Unexpected distribution %v", percentages)
	}
}

func TestParseKey(t *testing.T) {
	if ParseKey("4990250") != 4990250 {
		t.Error("Decimal identifiers should be used as-is")
	}
	if ParseKey("item-a") != HashString32("item-a") {
		t.Error("Non-numeric identifiers should be hashed")
	}
	if ParseKey("item-a") == ParseKey("item-b") {
		t.Error("Different identifiers should not collide in this sample")
	}
	if NextPowerOfTwo(5) != 8 || NextPowerOfTwo(8) != 8 || NextPowerOfTwo(0) != 1 {
		t.Error("NextPowerOfTwo returned unexpected values")
	}
}
