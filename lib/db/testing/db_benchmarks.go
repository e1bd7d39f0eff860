package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLog/lib/db"
)

// RunKVLogBenchmarks runs all benchmarks for a KVLog implementation
func RunKVLogBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory(b))
	})

	b.Run("PutExisting", func(b *testing.B) {
		benchmarkPutExisting(b, factory(b))
	})

	b.Run("PutLargeValue", func(b *testing.B) {
		benchmarkPutLargeValue(b, factory(b))
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory(b))
	})

	b.Run("Get(not)", func(b *testing.B) {
		benchmarkGetNot(b, factory(b))
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, factory(b))
	})

	b.Run("Compact", func(b *testing.B) {
		benchmarkCompact(b, factory(b))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory(b))
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Put operation
func benchmarkPut(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend)

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			key := fmt.Sprintf("test-key-%d", i)
			value := []byte(fmt.Sprintf("test-value-%d", i))
			_ = database.Put(key, value)
		}
	})
}

// Benchmark for Put operation with existing keys
func benchmarkPutExisting(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend)

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d", i)))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d", counter)))
			counter++
		}
	})
}

// Benchmark for Put operation with large values
func benchmarkPutLargeValue(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend)

	largeValue := make([]byte, 256*1024) // 256KB
	var counter atomic.Int64

	b.SetBytes(int64(len(largeValue)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter.Add(1))
			_ = database.Put(key, largeValue)
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend|db.FeatureGet)

	// Prepare data
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d", i)))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			_, _, _ = database.Get(key)
			counter++
		}
	})
}

// Parallel benchmarking for Get of keys that were never written.
// Every lookup has to visit all segments.
func benchmarkGetNot(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend|db.FeatureGet)

	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d", i)))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, _, _ = database.Get(fmt.Sprintf("missing-key-%d", counter))
			counter++
		}
	})
}

// Parallel benchmarking for Delete operation
func benchmarkDelete(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend|db.FeatureDelete)

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d", i)))
	}

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			_ = database.Delete(fmt.Sprintf("test-key-%d", i%int64(numKeys)))
		}
	})
}

// Benchmark for a compaction cycle over a log where every key was written ten times
func benchmarkCompact(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend|db.FeatureCompact)

	numKeys := 1000
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for round := 0; round < 10; round++ {
			for k := 0; k < numKeys; k++ {
				key := fmt.Sprintf("test-key-%d", k)
				_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d-%d", round, k)))
			}
		}
		b.StartTimer()

		if err := database.Compact(); err != nil {
			b.Fatalf("Compact failed: %v", err)
		}
	}
}

// Benchmark for a mix of reads, writes and deletes
func benchmarkMixedUsage(b *testing.B, database db.KVLog[[]byte]) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureAppend|db.FeatureGet|db.FeatureDelete)

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		_ = database.Put(key, []byte(fmt.Sprintf("test-value-%d", i)))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", r.Intn(numKeys))
			switch op := r.Intn(100); {
			case op < 70: // 70% reads
				_, _, _ = database.Get(key)
			case op < 95: // 25% writes
				_ = database.Put(key, []byte("updated-value"))
			default: // 5% deletes
				_ = database.Delete(key)
			}
		}
	})
}
