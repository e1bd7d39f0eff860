// Package common contains the configuration and logging setup shared by the
// command line tools of dLog.
//
// Config describes a log on disk (directory, segment size, compaction interval,
// durability and compression) and knows how to open it. InitLoggers installs a
// zap backed factory for the dragonboat logger facade that every package logs through.
package common
