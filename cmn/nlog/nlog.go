// Package nlog is a small leveled logger over the standard "log" package.
//
// It exists because every node-facing subsystem in this codebase needs the
// same three things: a cheap level check before formatting, a consistent
// timestamped line format, and a way for tests to capture what was logged.
// None of that justifies pulling in a third-party logging framework.
package nlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelTrace
)

var (
	mu    sync.Mutex
	level = LevelInfo
	std   = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	ring  []string
	ringN = 256
)

// SetLevel changes the minimum level that gets logged. Safe for concurrent use.
func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

// SetOutput redirects the underlying writer, e.g. to capture log lines in tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	std.SetOutput(w)
	mu.Unlock()
}

func log_(l Level, prefix, s string) {
	mu.Lock()
	defer mu.Unlock()
	if l > level {
		return
	}
	line := prefix + s
	std.Output(3, line) //nolint:errcheck
	ring = append(ring, line)
	if len(ring) > ringN {
		ring = ring[len(ring)-ringN:]
	}
}

// Recent returns the last logged lines, most useful from tests and the
// httpstats introspection endpoint.
func Recent() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, len(ring))
	copy(out, ring)
	return out
}

func Errorln(v ...any) { log_(LevelError, "E ", fmt.Sprintln(v...)) }
func Warnln(v ...any)  { log_(LevelWarn, "W ", fmt.Sprintln(v...)) }
func Infoln(v ...any)  { log_(LevelInfo, "I ", fmt.Sprintln(v...)) }
func Traceln(v ...any) { log_(LevelTrace, "T ", fmt.Sprintln(v...)) }

func Errorf(format string, v ...any) { log_(LevelError, "E ", fmt.Sprintf(format, v...)+"\n") }
func Warnf(format string, v ...any)  { log_(LevelWarn, "W ", fmt.Sprintf(format, v...)+"\n") }
func Infof(format string, v ...any)  { log_(LevelInfo, "I ", fmt.Sprintf(format, v...)+"\n") }
func Tracef(format string, v ...any) { log_(LevelTrace, "T ", fmt.Sprintf(format, v...)+"\n") }
