// Package diag provides the process-wide diagnostics sink shared by the
// slab and buddy allocators. It mirrors the debug_level/pr_debug/pr_info/...
// macro stack of the original C mempool: a single verbosity knob, gated
// log emission, no per-call allocation on the fast path when logging is
// disabled.
package diag

import (
	"log"
	"sync/atomic"
)

// Level identifies a diagnostic verbosity. Higher values are more verbose.
type Level int32

const (
	// Emerg is the least verbose level: only emergencies are logged.
	Emerg Level = iota - 1
	// Verbose is the next level up from Emerg; Debug is the most verbose.
	Verbose
	Warning
	Info
	Debug
)

// level holds the process-wide debug_level. Readers may observe a stale
// value under concurrent SetLevel calls; this is tolerated per the
// concurrency model (writers are rare).
var level atomic.Int32

// SetLevel sets the process-wide debug level.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// CurrentLevel returns the process-wide debug level.
func CurrentLevel() Level {
	return Level(level.Load())
}

// enabled reports whether a record at the given level would be emitted.
func enabled(recordLevel Level) bool {
	return CurrentLevel() > recordLevel
}

// Logf emits a log record iff the current debug level exceeds recordLevel.
func Logf(recordLevel Level, format string, args ...interface{}) {
	if !enabled(recordLevel) {
		return
	}

	log.Printf(format, args...)
}

// Debugf logs at Debug verbosity.
func Debugf(format string, args ...interface{}) { Logf(Debug, format, args...) }

// Infof logs at Info verbosity.
func Infof(format string, args ...interface{}) { Logf(Info, format, args...) }

// Warningf logs at Warning verbosity.
func Warningf(format string, args ...interface{}) { Logf(Warning, format, args...) }

// Verbosef logs at Verbose verbosity.
func Verbosef(format string, args ...interface{}) { Logf(Verbose, format, args...) }

// Emergf logs at Emerg verbosity. Since Emerg is the lowest level, this is
// emitted whenever the debug level is anything above Emerg.
func Emergf(format string, args ...interface{}) { Logf(Emerg, format, args...) }
