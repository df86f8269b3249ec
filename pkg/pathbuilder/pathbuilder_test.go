package pathbuilder

import (
	"strings"
	"testing"
)

func TestAppendAndCompile(t *testing.T) {
	b := New()
	for _, s := range []string{"https", "h", "a", "b.cer"} {
		if err := b.Append(s); err != nil {
			t.Fatalf("unexpected error appending %q: %v", s, err)
		}
	}
	if got, want := b.Peek(), "https/h/a/b.cer"; got != want {
		t.Fatalf("Peek() = %q, want %q", got, want)
	}
	compiled := b.Compile()
	if !strings.HasSuffix(compiled, "b.cer") {
		t.Fatalf("Compile() = %q, missing expected suffix", compiled)
	}
	if b.Len() != 0 {
		t.Fatalf("Compile() did not reset builder, Len() = %d", b.Len())
	}
}

func TestPopAndReverse(t *testing.T) {
	b := New()
	_ = b.Append("a")
	_ = b.Append("b")
	_ = b.Append("c")

	last, ok := b.Pop()
	if !ok || last != "c" {
		t.Fatalf("Pop() = (%q, %v), want (\"c\", true)", last, ok)
	}
	if got, want := b.Peek(), "a/b"; got != want {
		t.Fatalf("Peek() after Pop() = %q, want %q", got, want)
	}

	b.Reverse()
	if got, want := b.Peek(), "b/a"; got != want {
		t.Fatalf("Peek() after Reverse() = %q, want %q", got, want)
	}
}

func TestCancel(t *testing.T) {
	b := New()
	_ = b.Append("a")
	_ = b.Append("b")
	b.Cancel()
	if b.Len() != 0 || b.Peek() != "" {
		t.Fatalf("Cancel() did not reset builder state")
	}
}

func TestAppendTooLong(t *testing.T) {
	b := New()
	huge := strings.Repeat("x", MaxPathLength+1)
	if err := b.Append(huge); err == nil {
		t.Fatal("expected error for oversized segment, got nil")
	}
}

func TestPopEmpty(t *testing.T) {
	b := New()
	if _, ok := b.Pop(); ok {
		t.Fatal("Pop() on empty builder returned ok=true")
	}
}
