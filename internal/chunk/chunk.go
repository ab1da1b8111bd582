// Package chunk regroups an append-only stream of text deltas into
// word-count-bounded chunks for speech synthesis.
package chunk

import (
	"strings"
)

// EmitFunc receives each chunk. Returning an error aborts the stream.
type EmitFunc func(chunk string) error

// Chunker accumulates text deltas and emits them in chunks of exactly
// size words. Words are the pieces of the buffer split on single spaces,
// so emitted chunks joined with " " reproduce the concatenated input.
//
// A size of zero or less disables chunking: every delta is emitted as is.
type Chunker struct {
	size int
	emit EmitFunc
	buf  string
}

// New creates a Chunker that emits through fn.
func New(size int, fn EmitFunc) *Chunker {
	return &Chunker{size: size, emit: fn}
}

// Enabled reports whether deltas are regrouped.
func (c *Chunker) Enabled() bool {
	return c.size > 0
}

// Push adds a delta, emitting every full chunk available while more than
// size words are buffered.
func (c *Chunker) Push(delta string) error {
	if !c.Enabled() {
		return c.emit(delta)
	}

	c.buf += delta
	words := strings.Split(c.buf, " ")
	for len(words) > c.size {
		chunk := strings.Join(words[:c.size], " ")
		words = words[c.size:]
		c.buf = strings.Join(words, " ")
		if err := c.emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits whatever remains buffered. It is a no-op when chunking is
// disabled or the buffer is empty.
func (c *Chunker) Flush() error {
	if !c.Enabled() || c.buf == "" {
		return nil
	}
	rest := c.buf
	c.buf = ""
	return c.emit(rest)
}
