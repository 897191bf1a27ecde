// Package status implements the tree-shaped debug dump consumer used
// throughout this codebase's Status(sc *status.StatusConsumer) methods:
// every subsystem that wants to describe itself for the dump-logs /
// dump-registrations control surface (§6) Emits lines and Forks a child
// consumer for nested detail, Join-ing when done.
package status

import (
	"fmt"
	"strings"
)

// StatusConsumer collects indented lines from a tree of Status() calls.
// It is not safe for concurrent use by multiple goroutines at once;
// callers that Fork across goroutines must serialize with the owning
// Executor, matching how every other piece of per-shard state is
// accessed (§5).
type StatusConsumer struct {
	lines  *[]string
	depth  int
	closed *bool
}

// NewStatusConsumer creates a fresh, top-level consumer.
func NewStatusConsumer() *StatusConsumer {
	lines := make([]string, 0, 16)
	closed := false
	return &StatusConsumer{lines: &lines, depth: 0, closed: &closed}
}

// Emit appends one line at the consumer's current indentation depth.
func (sc *StatusConsumer) Emit(line string) {
	*sc.lines = append(*sc.lines, strings.Repeat("  ", sc.depth)+line)
}

// Emitf is a convenience wrapper around Emit+fmt.Sprintf.
func (sc *StatusConsumer) Emitf(format string, args ...interface{}) {
	sc.Emit(fmt.Sprintf(format, args...))
}

// Fork returns a child consumer sharing the same backing line buffer but
// indented one level deeper. Join is called on the forked child once it
// has finished emitting (sub := sc.Fork(), then, later, sub.Join()).
func (sc *StatusConsumer) Fork() *StatusConsumer {
	return &StatusConsumer{lines: sc.lines, depth: sc.depth + 1, closed: sc.closed}
}

// Join is a no-op placeholder that exists to pair visually with Fork at
// call sites, matching the teacher convention; indentation is already
// fixed at Fork time so there is nothing to restore.
func (sc *StatusConsumer) Join() {}

// String renders the accumulated lines, one per line.
func (sc *StatusConsumer) String() string {
	return strings.Join(*sc.lines, "\n")
}

// Lines returns a copy of the accumulated lines.
func (sc *StatusConsumer) Lines() []string {
	out := make([]string, len(*sc.lines))
	copy(out, *sc.lines)
	return out
}
