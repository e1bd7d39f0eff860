package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLog/lib/db"
)

// DBFactory creates a new, empty instance of a KVLog implementation.
// The factory should place its files below t.TempDir().
type DBFactory func(t testing.TB) db.KVLog[[]byte]

// RunKVLogTests runs a comprehensive test suite for a KVLog implementation.
func RunKVLogTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("AppendTombstone", func(t *testing.T) {
			testAppendTombstone(t, factory(t))
		})

		t.Run("AppendTime", func(t *testing.T) {
			testAppendTime(t, factory(t))
		})

		t.Run("Compact", func(t *testing.T) {
			testCompact(t, factory(t))
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory(t))
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory(t))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(t))
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory(t))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVLog[[]byte], feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// requireValue fails the test if key is not found or holds a different value
func requireValue(t testing.TB, database db.KVLog[[]byte], key string, expected []byte) {
	t.Helper()

	record, found, err := database.Get(key)
	if err != nil {
		t.Errorf("Get(%q) returned error: %v", key, err)
		return
	}
	if !found {
		t.Errorf("Expected key %s to exist", key)
		return
	}
	if record.Value == nil || !bytes.Equal(*record.Value, expected) {
		t.Errorf("Expected value %q for key %s, got %v", expected, key, record.Value)
	}
}

// requireAbsent fails the test if key is found
func requireAbsent(t testing.TB, database db.KVLog[[]byte], key string) {
	t.Helper()

	_, found, err := database.Get(key)
	if err != nil {
		t.Errorf("Get(%q) returned error: %v", key, err)
	}
	if found {
		t.Errorf("Expected key %s to not exist", key)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if err := database.Put(testKey, testValue1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	requireValue(t, database, testKey, testValue1)

	if err := database.Put(testKey, testValue2); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	requireValue(t, database, testKey, testValue2)

	requireAbsent(t, database, "nonexistent-key")

	record, _, _ := database.Get(testKey)
	(*record.Value)[0] = 'X'
	requireValue(t, database, testKey, testValue2)

	if record.Key != testKey {
		t.Errorf("Expected record key %s, got %s", testKey, record.Key)
	}
}

func testDelete(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet|db.FeatureDelete)

	testKey := "delete-test-key"
	testValue := []byte("delete-test-value")

	if err := database.Put(testKey, testValue); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	requireValue(t, database, testKey, testValue)

	if err := database.Delete(testKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	requireAbsent(t, database, testKey)

	// deleting an unknown key just appends a tombstone
	if err := database.Delete("nonexistent-key"); err != nil {
		t.Errorf("Delete of nonexistent key failed: %v", err)
	}

	// a key can be written again after a delete
	if err := database.Put(testKey, []byte("revived")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	requireValue(t, database, testKey, []byte("revived"))
}

func testAppendTombstone(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet)

	value := []byte("value")
	if err := database.Append("key", &value); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	requireValue(t, database, "key", value)

	if err := database.Append("key", nil); err != nil {
		t.Fatalf("Append of tombstone failed: %v", err)
	}
	requireAbsent(t, database, "key")
}

func testAppendTime(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet)

	var last int64
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("time-key-%d", i)
		if err := database.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		record, found, err := database.Get(key)
		if err != nil || !found {
			t.Fatalf("Get(%s) = found %v, err %v", key, found, err)
		}
		if record.AppendTime < last {
			t.Errorf("Append time went backwards: %d after %d", record.AppendTime, last)
		}
		last = record.AppendTime
	}
}

func testCompact(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet|db.FeatureDelete|db.FeatureCompact)

	for round := 0; round < 3; round++ {
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("compact-key-%d", i)
			if err := database.Put(key, []byte(fmt.Sprintf("value-%d-%d", round, i))); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
	}
	for i := 0; i < 200; i += 2 {
		if err := database.Delete(fmt.Sprintf("compact-key-%d", i)); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	}

	if err := database.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("compact-key-%d", i)
		if i%2 == 0 {
			requireAbsent(t, database, key)
		} else {
			requireValue(t, database, key, []byte(fmt.Sprintf("value-2-%d", i)))
		}
	}

	// a second cycle on compacted data changes nothing
	if err := database.Compact(); err != nil {
		t.Fatalf("Second Compact failed: %v", err)
	}
	requireValue(t, database, "compact-key-1", []byte("value-2-1"))
	requireAbsent(t, database, "compact-key-0")
}

func testInfo(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend)

	if err := database.Put("info-key", []byte("info-value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	info := database.GetInfo()
	if info.SizeBytes <= 0 {
		t.Errorf("Expected positive size after Put, got %d", info.SizeBytes)
	}
	for _, f := range info.SupportedFeatures {
		if !database.SupportsFeature(f) {
			t.Errorf("Info lists feature %s which is not supported", f)
		}
	}

	if database.SupportsFeature(db.FeatureMetrics) {
		var buf bytes.Buffer
		database.WriteMetrics(&buf)
		if buf.Len() == 0 {
			t.Errorf("Expected metrics output")
		}
	}
}

func testClose(t *testing.T, database db.KVLog[[]byte]) {
	requireFeature(t, database, db.FeatureAppend|db.FeatureGet)

	if err := database.Put("key", []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := database.Put("key", []byte("value")); err == nil {
		t.Errorf("Expected Put after Close to fail")
	}
	if _, _, err := database.Get("key"); err == nil {
		t.Errorf("Expected Get after Close to fail")
	}
	if err := database.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func testEdgeCases(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet)

	t.Run("EmptyKey", func(t *testing.T) {
		if err := database.Put("", []byte("empty-key-value")); err != nil {
			t.Fatalf("Put with empty key failed: %v", err)
		}
		requireValue(t, database, "", []byte("empty-key-value"))
	})

	t.Run("EmptyValue", func(t *testing.T) {
		if err := database.Put("empty-value", []byte{}); err != nil {
			t.Fatalf("Put with empty value failed: %v", err)
		}
		requireValue(t, database, "empty-value", []byte{})
	})

	t.Run("BinaryData", func(t *testing.T) {
		binary := []byte{0, 1, 2, 3, 255, 254, 0, 0}
		if err := database.Put("binary\x00key", binary); err != nil {
			t.Fatalf("Put with binary data failed: %v", err)
		}
		requireValue(t, database, "binary\x00key", binary)
	})

	t.Run("UnicodeKey", func(t *testing.T) {
		if err := database.Put("ключ-🔑", []byte("unicode")); err != nil {
			t.Fatalf("Put with unicode key failed: %v", err)
		}
		requireValue(t, database, "ключ-🔑", []byte("unicode"))
	})

	t.Run("LargeValue", func(t *testing.T) {
		large := bytes.Repeat([]byte("x"), 64*1024)
		if err := database.Put("large", large); err != nil {
			t.Fatalf("Put with large value failed: %v", err)
		}
		requireValue(t, database, "large", large)
	})
}

func testConcurrentAccess(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet)

	const (
		writers   = 8
		perWriter = 250
	)

	var wg sync.WaitGroup
	var failures atomic.Int64

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-key-%d", w, i)
				if err := database.Put(key, []byte(key)); err != nil {
					failures.Add(1)
				}
			}
		}(w)
	}

	// readers run while writers append
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w0-key-%d", i)
				record, found, err := database.Get(key)
				if err != nil {
					failures.Add(1)
					continue
				}
				if found && !bytes.Equal(*record.Value, []byte(key)) {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := failures.Load(); n > 0 {
		t.Fatalf("%d concurrent operations failed", n)
	}

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d-key-%d", w, i)
			requireValue(t, database, key, []byte(key))
		}
	}
}

func testRealisticUsage(t *testing.T, database db.KVLog[[]byte]) {
	defer database.Close()

	requireFeature(t, database, db.FeatureAppend|db.FeatureGet|db.FeatureDelete)

	// a session store: sessions are created, refreshed and logged out
	expected := make(map[string][]byte)
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("session:%d", i%120)
		switch {
		case i%7 == 0:
			if err := database.Delete(key); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			delete(expected, key)
		default:
			value := []byte(fmt.Sprintf("user-%d-token-%d", i%120, i))
			if err := database.Put(key, value); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			expected[key] = value
		}

		if i == 250 && database.SupportsFeature(db.FeatureCompact) {
			if err := database.Compact(); err != nil {
				t.Fatalf("Compact failed: %v", err)
			}
		}
	}

	for i := 0; i < 120; i++ {
		key := fmt.Sprintf("session:%d", i)
		if value, ok := expected[key]; ok {
			requireValue(t, database, key, value)
		} else {
			requireAbsent(t, database, key)
		}
	}
}
