// Package monitoring provides the component loggers shared by the scan engine.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// SetLogger replaces the sink behind every component logger. Passing nil
// mutes all output.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

func output(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// Logger writes lines tagged with a bracketed component name, e.g. "[scan]".
type Logger struct {
	component string
}

// New returns a Logger for the named component.
func New(component string) Logger {
	return Logger{component: component}
}

// Printf logs an informational line.
func (l Logger) Printf(format string, v ...interface{}) {
	output("[%s] %s", l.component, fmt.Sprintf(format, v...))
}

// Warnf logs a low-severity diagnostic.
func (l Logger) Warnf(format string, v ...interface{}) {
	output("[%s] WARNING: %s", l.component, fmt.Sprintf(format, v...))
}

// Errorf logs a problem that degraded a result without stopping the run.
func (l Logger) Errorf(format string, v ...interface{}) {
	output("[%s] ERROR: %s", l.component, fmt.Sprintf(format, v...))
}
