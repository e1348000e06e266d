package manusya

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"pain/internal/base"
	"pain/internal/rsm"
	"pain/internal/status"
)

// Registry op space: 101..200. Registry membership is the only manusya
// metadata worth replicating; chunk bytes stay on the direct path.
const RegistryOpVersion int32 = 1

type RegistryOpType uint32

const (
	OpRegisterChunk   RegistryOpType = 101
	OpDeregisterChunk RegistryOpType = 102
	OpListRegistered  RegistryOpType = 110
)

type RegisterChunkRequest struct {
	ChunkID base.ObjectId `msgpack:"chunk_id"`
}

type RegisterChunkResponse struct{}

type DeregisterChunkRequest struct {
	ChunkID base.ObjectId `msgpack:"chunk_id"`
}

type DeregisterChunkResponse struct{}

type ListRegisteredRequest struct{}

type ListRegisteredResponse struct {
	ChunkIDs []base.ObjectId `msgpack:"chunk_ids"`
}

// Registry is the replicated chunk-membership container. It records
// which chunk ids this node group owns so membership survives replica
// restarts; the chunk bytes themselves never pass through the log.
type Registry struct {
	mu     sync.Mutex
	chunks map[base.ObjectId]struct{}
}

var _ rsm.Container = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{chunks: make(map[base.ObjectId]struct{})}
}

func (r *Registry) OpFactory() rsm.OpFactory { return registryOpFactory{r: r} }

func (r *Registry) processRegister(version int32, req *RegisterChunkRequest, resp *RegisterChunkResponse, index uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chunks[req.ChunkID]; ok {
		return status.Errorf(status.AlreadyExists, "chunk %s already registered", req.ChunkID)
	}
	r.chunks[req.ChunkID] = struct{}{}
	return nil
}

func (r *Registry) processDeregister(version int32, req *DeregisterChunkRequest, resp *DeregisterChunkResponse, index uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chunks[req.ChunkID]; !ok {
		return status.Errorf(status.NotFound, "chunk %s not registered", req.ChunkID)
	}
	delete(r.chunks, req.ChunkID)
	return nil
}

func (r *Registry) processList(version int32, req *ListRegisteredRequest, resp *ListRegisteredResponse, index uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp.ChunkIDs = r.sortedLocked()
	return nil
}

func (r *Registry) sortedLocked() []base.ObjectId {
	out := make([]base.ObjectId, 0, len(r.chunks))
	for id := range r.chunks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type registryImage struct {
	ChunkIDs []base.ObjectId `msgpack:"chunk_ids"`
}

func (r *Registry) SaveSnapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return msgpack.Marshal(&registryImage{ChunkIDs: r.sortedLocked()})
}

func (r *Registry) LoadSnapshot(data []byte) error {
	var image registryImage
	if err := msgpack.Unmarshal(data, &image); err != nil {
		return fmt.Errorf("decode registry image: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = make(map[base.ObjectId]struct{}, len(image.ChunkIDs))
	for _, id := range image.ChunkIDs {
		r.chunks[id] = struct{}{}
	}
	return nil
}

type registryOpFactory struct {
	r *Registry
}

var _ rsm.OpFactory = registryOpFactory{}

func (f registryOpFactory) Create(opType uint32, version int32) (rsm.Op, error) {
	if version != RegistryOpVersion {
		return nil, fmt.Errorf("%w: registry op %d v%d", rsm.ErrBadOpVersion, opType, version)
	}
	switch RegistryOpType(opType) {
	case OpRegisterChunk:
		return rsm.NewOp(opType, version, true, RegisterChunkRequest{}, f.r.processRegister), nil
	case OpDeregisterChunk:
		return rsm.NewOp(opType, version, true, DeregisterChunkRequest{}, f.r.processDeregister), nil
	case OpListRegistered:
		return rsm.NewOp(opType, version, false, ListRegisteredRequest{}, f.r.processList), nil
	}
	return nil, fmt.Errorf("%w: registry op %d", rsm.ErrUnknownOp, opType)
}
