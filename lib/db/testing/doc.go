// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVLog interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the KVLog interface contract
//   - benchmark: Performance tests for measuring throughput of common log operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(t testing.TB) db.KVLog[[]byte] {
//		return NewMyLog(t.TempDir())
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVLogTests(t, "MyLog", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKVLogBenchmarks(b, "MyLog", factory)
package testing
