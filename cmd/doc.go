// Package cmd implements the command-line interface for the dLog log-structured
// key-value store. Every command opens the log directly, there is no server.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (set, get, del, has, compact, info, perf)
//   - shell: An interactive shell that keeps the log open between commands
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set through DLOG_<FLAG> environment variables or
// .env / .env.local files. See dlog -help for a list of all commands.
package cmd
