package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerPrefixes(t *testing.T) {
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { SetLogger(nil) })

	l := New("scan")
	l.Printf("chunk %d/%d done", 1, 2)
	l.Warnf("%d out of %d points are invalid", 3, 4)
	l.Errorf("worker %d failed", 0)

	assert.Equal(t, []string{
		"[scan] chunk 1/2 done",
		"[scan] WARNING: 3 out of 4 points are invalid",
		"[scan] ERROR: worker 0 failed",
	}, lines)
}

func TestSetLoggerNilMutes(t *testing.T) {
	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)
	t.Cleanup(func() { SetLogger(nil) })

	New("space").Printf("ignored")
	assert.False(t, called)
}
