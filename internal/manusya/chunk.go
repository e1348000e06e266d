// Package manusya implements the chunk service: an in-process bank of
// append-only chunks backed by a Store, plus the direct service surface
// and the optional replicated registry.
package manusya

import (
	"fmt"
	"sync"
	"sync/atomic"

	"pain/internal/base"
	"pain/internal/status"
	"pain/internal/store"
)

// ChunkState is the lifecycle state of a chunk.
type ChunkState uint8

const (
	ChunkOpen ChunkState = iota
	ChunkSealed
)

func (s ChunkState) String() string {
	if s == ChunkSealed {
		return "sealed"
	}
	return "open"
}

// ChunkOptions is reserved for per-chunk creation knobs.
type ChunkOptions struct{}

// Chunk is an append-only byte container. Writes are accepted only
// while the chunk is open and only at the current tail; sealing is
// terminal and freezes the size.
//
// Concurrency: appends are serialized by the chunk mutex. Reads take
// the read lock and may run alongside each other; a read concurrent
// with an append observes a prefix of the chunk. The size is published
// through an atomic after the backing write completes.
type Chunk struct {
	id  base.ObjectId
	st  store.Store
	key string

	mu    sync.RWMutex
	state ChunkState
	data  []byte
	size  atomic.Uint64
}

// newChunk creates an open, empty chunk backed by st.
func newChunk(opts ChunkOptions, st store.Store, id base.ObjectId) (*Chunk, error) {
	_ = opts
	c := &Chunk{id: id, st: st, key: id.String(), state: ChunkOpen}
	if err := st.Put(c.key, nil); err != nil {
		return nil, fmt.Errorf("persist chunk %s: %w", c.key, err)
	}
	return c, nil
}

// loadChunk reconstructs a chunk from the bytes already in the store.
func loadChunk(st store.Store, id base.ObjectId) (*Chunk, error) {
	key := id.String()
	data, err := st.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", key, err)
	}
	c := &Chunk{id: id, st: st, key: key, state: ChunkOpen, data: data}
	c.size.Store(uint64(len(data)))
	return c, nil
}

func (c *Chunk) ChunkID() base.ObjectId { return c.id }

// Size returns the published size; safe without the chunk lock.
func (c *Chunk) Size() uint64 { return c.size.Load() }

func (c *Chunk) State() ChunkState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Append writes buf at offset. The offset must equal the current size
// (strict append); anything else is InvalidArgument. Appends to a
// sealed chunk fail with FailedPrecondition.
func (c *Chunk) Append(buf []byte, offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ChunkOpen {
		return status.Errorf(status.FailedPrecondition, "chunk %s is sealed", c.key)
	}
	if offset != uint64(len(c.data)) {
		return status.Errorf(status.InvalidArgument,
			"append at offset %d, tail is %d", offset, len(c.data))
	}

	next := append(c.data, buf...)
	if err := c.st.Put(c.key, next); err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	c.data = next
	c.size.Store(uint64(len(next)))
	return nil
}

// Read returns the intersection of [offset, offset+length) with the
// written bytes. An offset past the current size is InvalidArgument.
func (c *Chunk) Read(offset, length uint64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	size := uint64(len(c.data))
	if offset > size {
		return nil, status.Errorf(status.InvalidArgument,
			"read at offset %d past size %d", offset, size)
	}
	end := offset + length
	if end > size {
		end = size
	}
	out := make([]byte, end-offset)
	copy(out, c.data[offset:end])
	return out, nil
}

// QueryAndSeal reads the current size and seals the chunk. Sealing an
// already sealed chunk is a no-op; the call is idempotent.
func (c *Chunk) QueryAndSeal() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ChunkSealed
	return uint64(len(c.data)), nil
}
