// Package testutil provides fake simulators and shared assertions for tests
// that drive real processes.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WriteScript writes an executable shell script to dir/name and returns its
// path.
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", path, err)
	}
	return path
}

// EchoSimulator behaves like a spectrum generator that accepts any input: it
// copies the input file to the output file and appends a MASS block with a
// Higgs mass of 125.
func EchoSimulator(t testing.TB, dir string) string {
	t.Helper()
	return WriteScript(t, dir, "echo-sim", `cat "$1" > "$2"
printf 'BLOCK MASS\n 25 125.0 # h0\n' >> "$2"
`)
}

// SlowOnMatch is EchoSimulator, except that inputs containing a line that
// matches pattern (a basic regular expression) hang for the given number of
// seconds first.
func SlowOnMatch(t testing.TB, dir, pattern string, seconds int) string {
	t.Helper()
	return WriteScript(t, dir, "slow-sim", `if grep -q '`+pattern+`' "$1"; then sleep `+strconv.Itoa(seconds)+`; fi
cat "$1" > "$2"
printf 'BLOCK MASS\n 25 125.0 # h0\n' >> "$2"
`)
}

// CrashingSimulator prints a diagnostic and exits non-zero without output.
func CrashingSimulator(t testing.TB, dir string) string {
	t.Helper()
	return WriteScript(t, dir, "crash-sim", `echo "Error: tachyonic state" >&2
exit 3
`)
}

// SilentSimulator exits cleanly without writing output.
func SilentSimulator(t testing.TB, dir string) string {
	t.Helper()
	return WriteScript(t, dir, "silent-sim", "exit 0\n")
}

// GarbageSimulator writes output that is not valid SLHA.
func GarbageSimulator(t testing.TB, dir string) string {
	t.Helper()
	return WriteScript(t, dir, "garbage-sim", `echo " 25 125.0" > "$2"
`)
}

// AppendSimulator appends a block to an existing output file, as the second
// program of a chain would.
func AppendSimulator(t testing.TB, dir, block string, id int, value string) string {
	t.Helper()
	return WriteScript(t, dir, "append-"+block, `printf 'BLOCK `+block+`\n `+strconv.Itoa(id)+` `+value+`\n' >> "$1"
`)
}
