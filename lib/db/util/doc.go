// Package util provides utility components for
// database implementations that satisfy the db.KVLog interface.
//
// The package contains:
//   - statistics: summary statistics over a set of samples and a lock-free SizeHistogram
//     for tracking the distribution of record sizes
//
// Engines use these types to fill the Metadata of db.DatabaseInfo without scanning
// their files.
package util
