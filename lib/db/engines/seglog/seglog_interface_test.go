package seglog

import (
	"testing"

	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/db/serializer"
	dbtesting "github.com/ValentinKolb/dLog/lib/db/testing"
)

func logFactory(segmentSize uint64) dbtesting.DBFactory {
	return func(t testing.TB) db.KVLog[[]byte] {
		opts := DefaultOptions()
		opts.Dir = t.TempDir()
		opts.MaxSegmentSizeBytes = segmentSize
		opts.CompactionInterval = 0
		log, err := NewSegLog(opts, serializer.NewBytesSerializer())
		if err != nil {
			t.Fatalf("NewSegLog failed: %v", err)
		}
		return log
	}
}

func Test(t *testing.T) {
	dbtesting.RunKVLogTests(t, "SegLog", logFactory(defaultMaxSegmentSize))
	// small segments force rollovers in every test
	dbtesting.RunKVLogTests(t, "SegLog(128KB)", logFactory(128*1024))
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVLogBenchmarks(b, "SegLog", logFactory(defaultMaxSegmentSize))
}
