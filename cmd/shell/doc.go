// Package shell implements the interactive dlog shell. The log is opened once and
// stays open while commands are read from a readline prompt with history and completion.
package shell
