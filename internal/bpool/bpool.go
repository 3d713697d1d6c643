// Package bpool pools the buffers frames are encoded into before
// they are written to a connection.
package bpool

import (
	"bytes"
	"sync"
)

// maxPooled keeps a single large frame from pinning its buffer.
const maxPooled = 64 << 10

var pool sync.Pool

// Get returns an empty buffer from the pool or a new one.
func Get() *bytes.Buffer {
	b, ok := pool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
	}
	return b
}

// Put resets b and returns it to the pool.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxPooled {
		return
	}
	b.Reset()
	pool.Put(b)
}
