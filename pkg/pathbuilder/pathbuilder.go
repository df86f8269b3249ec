// Package pathbuilder provides a segment-accumulating path builder used by
// the cache package to assemble and normalize the on-disk paths of cache
// nodes from segment lists without repeatedly allocating and cleaning
// intermediate strings.
package pathbuilder

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxPathLength is the maximum total compiled path length this builder will
// accept; Append reports an error for any segment that would push the
// compiled path past it, instead of producing a truncated path.
const MaxPathLength = 4096

// Builder accumulates path segments and compiles them into a single path
// string. Its zero value is ready to use.
type Builder struct {
	segments []string
	length   int
}

// New returns an initialized, empty Builder. It is equivalent to the zero
// value but mirrors the explicit init/cancel lifecycle of the original
// component.
func New() *Builder {
	return &Builder{}
}

// Append adds a segment to the end of the builder. It returns an error if
// doing so would cause the compiled path to exceed MaxPathLength.
func (b *Builder) Append(segment string) error {
	projected := b.length + len(segment)
	if len(b.segments) > 0 {
		projected++ // account for the joining separator
	}
	if projected > MaxPathLength {
		return fmt.Errorf("path exceeds maximum length of %d bytes", MaxPathLength)
	}
	b.segments = append(b.segments, segment)
	b.length = projected
	return nil
}

// Pop removes and returns the last segment appended, if any.
func (b *Builder) Pop() (string, bool) {
	if len(b.segments) == 0 {
		return "", false
	}
	last := b.segments[len(b.segments)-1]
	b.segments = b.segments[:len(b.segments)-1]
	b.length -= len(last)
	if len(b.segments) > 0 {
		b.length--
	}
	return last, true
}

// Reverse reverses the accumulated segment order in place. It is used after
// a child-to-root ascent to rebuild a root-to-child path.
func (b *Builder) Reverse() {
	for i, j := 0, len(b.segments)-1; i < j; i, j = i+1, j-1 {
		b.segments[i], b.segments[j] = b.segments[j], b.segments[i]
	}
}

// Peek returns the currently accumulated path, joined with '/', without
// resetting the builder.
func (b *Builder) Peek() string {
	return strings.Join(b.segments, "/")
}

// Compile joins the accumulated segments using the platform path separator
// and resets the builder, transferring ownership of the resulting string to
// the caller.
func (b *Builder) Compile() string {
	joined := filepath.Join(b.segments...)
	b.Cancel()
	return joined
}

// Cancel discards any accumulated segments, returning the builder to its
// initial empty state.
func (b *Builder) Cancel() {
	b.segments = nil
	b.length = 0
}

// Len reports the number of segments currently accumulated.
func (b *Builder) Len() int {
	return len(b.segments)
}
