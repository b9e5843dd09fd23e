package common

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx"
	"github.com/lni/dragonboat/v4/logger"
)

func TestToOptions(t *testing.T) {
	conf := EngineConfig{
		Path:          "test.smx",
		MemoryLimitMB: 64,
		HardLimit:     true,
		IndexSize:     1024,
		RowSize:       16,
		BlockCapacity: 128,
		WriteBack:     "sync",
		Checked:       true,
		LogLevel:      "info",
	}

	opts, err := conf.ToOptions()
	if err != nil {
		t.Fatalf("ToOptions failed: %v", err)
	}
	if opts.MemoryLimit != 64<<20 {
		t.Errorf("Expected memory limit %d, got %d", 64<<20, opts.MemoryLimit)
	}
	if opts.WriteBack != smx.WriteBackSync {
		t.Errorf("Expected write-back sync, got %s", opts.WriteBack)
	}
	if !opts.CheckedArithmetic || !opts.MemoryHardLimit {
		t.Error("Flags were not carried over")
	}
	if opts.InitialIndexSize != 1024 || opts.InitialRowSize != 16 || opts.IndexBlockCapacity != 128 {
		t.Errorf("Sizes were not carried over: %+v", opts)
	}
}

func TestToOptionsInvalid(t *testing.T) {
	cases := []EngineConfig{
		{WriteBack: "sometimes"},
		{MemoryLimitMB: -1},
		{HardLimit: true},
	}
	for _, conf := range cases {
		if _, err := conf.ToOptions(); err == nil {
			t.Errorf("Expected an error for %+v", conf)
		}
	}
}

func TestConfigString(t *testing.T) {
	conf := EngineConfig{WriteBack: "deferred", LogLevel: "warn"}
	s := conf.String()
	for _, want := range []string{"STORAGE", "(memory only)", "unlimited", "LOGGING", "warn"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %q in:\n%s", want, s)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"":        logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}
