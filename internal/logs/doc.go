// Package logs reads the daemon log file for the CLI.
//
// Tail returns the last N lines or everything after a byte offset, optionally
// waiting for new output, and can narrow the result to one job's entries in
// either the console or the JSON log format.
package logs
