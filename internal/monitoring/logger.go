// Package monitoring carries the process-wide diagnostic logger and the
// expvar counters exported at /debug/varz.
package monitoring

import (
	"expvar"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	countersMu sync.Mutex
	counters   = map[string]*expvar.Int{}
)

// Counter returns the named process counter, registering it on first use.
// Counters appear in the /debug/varz output of the admin mux.
func Counter(name string) *expvar.Int {
	countersMu.Lock()
	defer countersMu.Unlock()
	if v, ok := counters[name]; ok {
		return v
	}
	v := expvar.NewInt(name)
	counters[name] = v
	return v
}
