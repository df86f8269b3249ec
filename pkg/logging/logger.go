package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger.
type writer struct {
	// callback is the logging callback.
	callback func(string)
	// buffer is any incomplete line fragment left over from a previous write.
	buffer []byte
}

// trimCarriageReturn trims any single trailing carriage return from the end
// of a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything, so that components may
// accept a *Logger parameter and pass it straight through without a nil
// check at every call site. It is safe for concurrent usage.
type Logger struct {
	// prefix is any prefix specified for the logger.
	prefix string
	// level controls which calls actually produce output.
	level Level
	// backing is the underlying standard library logger.
	backing *log.Logger
}

// NewLogger creates a new root logger writing to output at the specified
// level.
func NewLogger(level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		level:   level,
		backing: log.New(output, "", log.LstdFlags),
	}
}

// Sublogger creates a new sublogger with the specified name.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{
		prefix:  prefix,
		level:   l.level,
		backing: l.backing,
	}
}

// output is the internal logging method.
func (l *Logger) output(level Level, line string) {
	if l == nil || l.level < level || l.backing == nil {
		return
	}
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	l.backing.Output(3, line)
}

// Printf logs operational information at LevelInfo.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.output(LevelInfo, fmt.Sprintf(format, v...))
}

// Debugf logs low-level information, but only if the logger's level allows
// debug output.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.output(LevelDebug, fmt.Sprintf(format, v...))
}

// Warn logs a per-process operational error with a warning prefix and
// yellow color. It is used for things like sweep and fetch failures that are
// bypassed rather than fatal.
func (l *Logger) Warn(err error) {
	l.output(LevelWarn, color.YellowString("warning: %v", err))
}

// Error logs error information with an error prefix and red color.
func (l *Logger) Error(err error) {
	l.output(LevelError, color.RedString("error: %v", err))
}

// RecordWarn logs a per-object validation warning (e.g. a skipped overlay
// record), distinguished from Warn's per-process operational channel by its
// "record" tag so the two can be filtered independently downstream.
func (l *Logger) RecordWarn(description string, err error) {
	l.output(LevelWarn, color.YellowString("record warning (%s): %v", description, err))
}

// Writer returns an io.Writer that writes lines at LevelInfo.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.Printf("%s", s) }}
}
