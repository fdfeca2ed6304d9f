package monitoring

import "log"

// Logf is the shared diagnostic logger for the daemon. It defaults to
// log.Printf; callers may swap it out with SetLogger to redirect or silence
// output (tests do this to keep runs quiet).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
