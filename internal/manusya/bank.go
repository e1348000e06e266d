package manusya

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"pain/internal/base"
	"pain/internal/logging"
	"pain/internal/status"
	"pain/internal/store"
)

// Bank is the in-process registry of chunks on a storage node, keyed
// and iterated in ObjectId order. One Bank per process, passed
// explicitly to everything that needs it.
//
// A single mutex guards the registry. ListChunk runs its callback
// under that lock, so callbacks must be short and must not re-enter
// the bank.
type Bank struct {
	mu     sync.Mutex
	st     store.Store
	chunks map[base.ObjectId]*Chunk
	order  []base.ObjectId

	logger *slog.Logger
}

func NewBank(st store.Store, logger *slog.Logger) *Bank {
	return &Bank{
		st:     st,
		chunks: make(map[base.ObjectId]*Chunk),
		logger: logging.Default(logger).With("component", "bank"),
	}
}

// Load scans the store and reconstructs every chunk. Chunks that
// survived a restart are sealed: the node cannot vouch for a clean
// tail, so they are frozen at their persisted size.
func (b *Bank) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.st.ForEach(func(key string) error {
		id, err := base.ParseObjectId(key)
		if err != nil {
			return fmt.Errorf("store key %q: %w", key, err)
		}
		chunk, err := loadChunk(b.st, id)
		if err != nil {
			return err
		}
		size, _ := chunk.QueryAndSeal()
		b.insertLocked(id, chunk)
		b.logger.Debug("loaded chunk", "chunk", key, "size", size)
		return nil
	})
}

// CreateChunk generates a fresh ObjectId in the given partition and
// registers an open, empty chunk for it.
func (b *Bank) CreateChunk(opts ChunkOptions, partitionID uint32) (*Chunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := base.GenerateObjectId(partitionID)
	chunk, err := newChunk(opts, b.st, id)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "")
	}
	b.insertLocked(id, chunk)
	return chunk, nil
}

func (b *Bank) GetChunk(id base.ObjectId) (*Chunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chunk, ok := b.chunks[id]
	if !ok {
		return nil, status.Errorf(status.NotFound, "chunk %s not found", id)
	}
	return chunk, nil
}

// RemoveChunk drops the chunk from the registry and from the store.
func (b *Bank) RemoveChunk(id base.ObjectId) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.chunks[id]; !ok {
		return status.Errorf(status.NotFound, "chunk %s not found", id)
	}
	delete(b.chunks, id)
	if i, ok := slices.BinarySearchFunc(b.order, id, base.ObjectId.Compare); ok {
		b.order = slices.Delete(b.order, i, i+1)
	}
	if err := b.st.Remove(id.String()); err != nil {
		b.logger.Error("failed to remove chunk bytes", "chunk", id.String(), "error", err)
	}
	return nil
}

// ListChunk visits up to limit chunk ids >= start in ascending order.
// cb runs under the bank lock and must not call back into the bank.
func (b *Bank) ListChunk(start base.ObjectId, limit uint32, cb func(id base.ObjectId)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, _ := slices.BinarySearchFunc(b.order, start, base.ObjectId.Compare)
	for n := uint32(0); n < limit && i < len(b.order); n, i = n+1, i+1 {
		cb(b.order[i])
	}
}

// ListChunkIDs is the copy-then-release variant of ListChunk for
// callers that need to do real work per entry.
func (b *Bank) ListChunkIDs(start base.ObjectId, limit uint32) []base.ObjectId {
	out := make([]base.ObjectId, 0, limit)
	b.ListChunk(start, limit, func(id base.ObjectId) {
		out = append(out, id)
	})
	return out
}

func (b *Bank) insertLocked(id base.ObjectId, chunk *Chunk) {
	b.chunks[id] = chunk
	i, _ := slices.BinarySearchFunc(b.order, id, base.ObjectId.Compare)
	b.order = slices.Insert(b.order, i, id)
}
