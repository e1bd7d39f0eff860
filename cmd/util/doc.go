// Package util contains the flag, configuration and store setup shared by the dlog commands.
package util
