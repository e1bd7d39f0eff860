package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/db/engines/seglog"
	"github.com/ValentinKolb/dLog/lib/db/serializer"
)

// --------------------------------------------------------------------------
// Log configuration struct
// --------------------------------------------------------------------------

// Config holds all configuration parameters of a log opened by the CLI.
type Config struct {
	// Storage
	DataDir            string
	MaxSegmentSize     uint64 // bytes
	CompactionInterval time.Duration
	SyncWrites         bool
	Recover            bool

	// Values are stored zstd compressed
	Compress bool

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory must not be empty")
	}
	if c.MaxSegmentSize == 0 {
		return errors.New("max segment size must be greater than zero")
	}
	if c.CompactionInterval < 0 {
		return errors.New("compaction interval must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ToOptions converts the configuration to seglog options
func (c *Config) ToOptions() *seglog.Options {
	opts := seglog.DefaultOptions()
	opts.Dir = c.DataDir
	opts.MaxSegmentSizeBytes = c.MaxSegmentSize
	opts.CompactionInterval = c.CompactionInterval
	opts.SyncWrites = c.SyncWrites
	opts.Recover = c.Recover
	return opts
}

// Serializer returns the value serializer selected by the configuration.
// A log must always be reopened with the serializer it was written with.
func (c *Config) Serializer() (serializer.IValueSerializer[[]byte], error) {
	s := serializer.NewBytesSerializer()
	if !c.Compress {
		return s, nil
	}
	return serializer.NewZstdSerializer(s)
}

// OpenLog opens the byte-valued log described by the configuration
func (c *Config) OpenLog() (db.KVLog[[]byte], error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s, err := c.Serializer()
	if err != nil {
		return nil, fmt.Errorf("create serializer: %w", err)
	}
	return seglog.NewSegLog(c.ToOptions(), s)
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
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
	addField("Data Directory", c.DataDir)
	addField("Max Segment Size", bytefmt.ByteSize(c.MaxSegmentSize))
	addField("Sync Writes", fmt.Sprintf("%t", c.SyncWrites))
	addField("Recover", fmt.Sprintf("%t", c.Recover))
	compression := "none"
	if c.Compress {
		compression = "zstd"
	}
	addField("Compression", compression)

	// Compaction
	addSection("Compaction")
	if c.CompactionInterval == 0 {
		addField("Interval", "disabled")
	} else {
		addField("Interval", c.CompactionInterval.String())
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
