package seglog

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLog/lib/db/engines/seglog/internal"
)

// Constants for log behavior
const (
	defaultDir                = "data"
	defaultMaxSegmentSize     = 4 * 1024 * 1024  // 4 MB per segment file
	defaultCompactionInterval = 10 * time.Second // Default interval between compaction runs
)

// Options configures the log during initialization
type Options struct {
	Dir                 string        // Directory holding the segment files
	MaxSegmentSizeBytes uint64        // Upper bound of every segment file
	CompactionInterval  time.Duration // Time between compaction runs (0 = no background compaction)
	SyncWrites          bool          // fsync after every append
	Recover             bool          // Rebuild the log from the segment files in Dir (false = start empty)
	Clock               func() time.Time
}

// DefaultOptions returns the default log options
func DefaultOptions() *Options {
	return &Options{
		Dir:                 defaultDir,
		MaxSegmentSizeBytes: defaultMaxSegmentSize,
		CompactionInterval:  defaultCompactionInterval,
		SyncWrites:          false,
		Recover:             true,
		Clock:               time.Now,
	}
}

// validate checks the options and fills in defaults for optional fields
func (o *Options) validate() error {
	if o.Dir == "" {
		return errors.New("seglog: directory must not be empty")
	}
	if o.MaxSegmentSizeBytes == 0 {
		return errors.New("seglog: max segment size must be greater than zero")
	}
	if o.MaxSegmentSizeBytes > internal.MaxFrameSize {
		return fmt.Errorf("seglog: max segment size must not exceed %d bytes (largest readable frame)", internal.MaxFrameSize)
	}
	if o.CompactionInterval < 0 {
		return errors.New("seglog: compaction interval must not be negative")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}
