package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Engine configuration struct
// --------------------------------------------------------------------------

// EngineConfig holds all configuration parameters for opening a matrix
type EngineConfig struct {
	// Path of the data file, empty for a memory-only matrix
	Path string

	// Memory
	MemoryLimitMB int64
	HardLimit     bool

	// Table sizing
	IndexSize     uint32
	RowSize       uint32
	BlockCapacity int64

	// Persistence
	WriteBack string

	// Arithmetic
	Checked bool

	// Logging configuration
	LogLevel string
}

// ToOptions converts the EngineConfig to smx.Options
func (c *EngineConfig) ToOptions() (*smx.Options, error) {
	mode, err := smx.ParseWriteBackMode(c.WriteBack)
	if err != nil {
		return nil, err
	}
	if c.MemoryLimitMB < 0 {
		return nil, errors.Newf("memory limit must not be negative, got %d MB", c.MemoryLimitMB)
	}
	if c.HardLimit && c.MemoryLimitMB == 0 {
		return nil, errors.New("a hard memory limit needs a memory limit")
	}

	return &smx.Options{
		InitialIndexSize:   c.IndexSize,
		InitialRowSize:     c.RowSize,
		IndexBlockCapacity: c.BlockCapacity,
		WriteBack:          mode,
		CheckedArithmetic:  c.Checked,
		MemoryLimit:        c.MemoryLimitMB << 20,
		MemoryHardLimit:    c.HardLimit,
	}, nil
}

// String returns a formatted string representation of the configuration
func (c *EngineConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Storage
	addSection("Storage")
	if c.Path == "" {
		addField("Data File", "(memory only)")
	} else {
		addField("Data File", c.Path)
	}
	addField("Write Back", c.WriteBack)
	addField("Index Block Capacity", strconv.FormatInt(c.BlockCapacity, 10))

	// Memory
	addSection("Memory")
	if c.MemoryLimitMB == 0 {
		addField("Memory Limit", "unlimited")
	} else {
		addField("Memory Limit", fmt.Sprintf("%d MB", c.MemoryLimitMB))
		addField("Hard Limit", strconv.FormatBool(c.HardLimit))
	}

	// Tables
	addSection("Tables")
	addField("Initial Index Size", strconv.FormatUint(uint64(c.IndexSize), 10))
	addField("Initial Row Size", strconv.FormatUint(uint64(c.RowSize), 10))
	addField("Checked Arithmetic", strconv.FormatBool(c.Checked))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
