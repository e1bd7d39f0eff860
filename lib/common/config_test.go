package common

import (
	"strings"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	return &Config{
		DataDir:            t.TempDir(),
		MaxSegmentSize:     4096,
		CompactionInterval: 0,
		Recover:            true,
		LogLevel:           "info",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"EmptyDir":         func(c *Config) { c.DataDir = "" },
		"ZeroSegmentSize":  func(c *Config) { c.MaxSegmentSize = 0 },
		"NegativeInterval": func(c *Config) { c.CompactionInterval = -time.Second },
		"InvalidLogLevel":  func(c *Config) { c.LogLevel = "verbose" },
	}

	if err := testConfig(t).Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := testConfig(t)
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("Expected invalid config to be rejected")
			}
		})
	}
}

func TestConfigToOptions(t *testing.T) {
	c := testConfig(t)
	c.SyncWrites = true
	c.CompactionInterval = time.Minute

	opts := c.ToOptions()
	if opts.Dir != c.DataDir || opts.MaxSegmentSizeBytes != 4096 || !opts.SyncWrites ||
		!opts.Recover || opts.CompactionInterval != time.Minute {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestConfigOpenLog(t *testing.T) {
	for _, compress := range []bool{false, true} {
		c := testConfig(t)
		c.Compress = compress

		log, err := c.OpenLog()
		if err != nil {
			t.Fatalf("OpenLog(compress=%v) failed: %v", compress, err)
		}
		value := []byte(strings.Repeat("compressible ", 50))
		if err := log.Put("key", value); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		_ = log.Close()

		// reopen with the same serializer
		log, err = c.OpenLog()
		if err != nil {
			t.Fatalf("Reopen failed: %v", err)
		}
		record, found, err := log.Get("key")
		if err != nil || !found || string(*record.Value) != string(value) {
			t.Errorf("Get after reopen = %v, %v (compress=%v)", found, err, compress)
		}

		info := log.GetInfo()
		if compress && info.SizeBytes >= len(value) {
			t.Errorf("Expected compressed frames to be smaller than the value, got %d bytes", info.SizeBytes)
		}
		_ = log.Close()
	}
}

func TestConfigString(t *testing.T) {
	c := testConfig(t)
	c.Compress = true
	s := c.String()

	for _, want := range []string{"STORAGE", "COMPACTION", "disabled", "zstd", "Max Segment Size"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %q in config string:\n%s", want, s)
		}
	}

	c.Compress = false
	if s := c.String(); !strings.Contains(s, "none") || strings.Contains(s, "zstd") {
		t.Errorf("Expected compression none in config string:\n%s", s)
	}
}
