package deva

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"pain/internal/base"
	"pain/internal/logging"
	"pain/internal/rsm"
	"pain/internal/status"
	"pain/internal/store"
)

const (
	fileKeyspace = "file"
	nodeKeyspace = "node"

	// replicaTargets is how many storage nodes a new chunk is placed on.
	replicaTargets = 3

	// heartbeatWindow is how many log entries a node's heartbeat may
	// trail the current op before the node stops receiving placements.
	// Liveness is measured in log position so placement stays
	// deterministic across replicas.
	heartbeatWindow = 10000
)

// Deva is the metadata container: namespace, file chunk layouts, and
// the storage-node registry. Mutations arrive only through applied ops
// in committed log order; read-only ops share the state under a mutex
// because they run on RPC goroutines alongside the apply thread.
type Deva struct {
	mu       sync.Mutex
	st       store.Store
	ns       *Namespace
	files    map[base.ObjectId]*FileMeta
	manusyas map[string]ManusyaInfo

	logger *slog.Logger
}

var _ rsm.Container = (*Deva)(nil)

func New(st store.Store, logger *slog.Logger) *Deva {
	return &Deva{
		st:       st,
		ns:       NewNamespace(st),
		files:    make(map[base.ObjectId]*FileMeta),
		manusyas: make(map[string]ManusyaInfo),
		logger:   logging.Default(logger).With("component", "deva"),
	}
}

// Load rebuilds the container from the store, for nodes starting
// without a snapshot.
func (d *Deva) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ns.Load(); err != nil {
		return err
	}
	d.files = make(map[base.ObjectId]*FileMeta)
	d.manusyas = make(map[string]ManusyaInfo)
	return d.st.ForEach(func(key string) error {
		switch {
		case strings.HasPrefix(key, fileKeyspace+"/"):
			data, err := d.st.Get(key)
			if err != nil {
				return err
			}
			var meta FileMeta
			if err := msgpack.Unmarshal(data, &meta); err != nil {
				return fmt.Errorf("decode file meta %q: %w", key, err)
			}
			d.files[meta.ID] = &meta
		case strings.HasPrefix(key, nodeKeyspace+"/"):
			data, err := d.st.Get(key)
			if err != nil {
				return err
			}
			var info ManusyaInfo
			if err := msgpack.Unmarshal(data, &info); err != nil {
				return fmt.Errorf("decode node %q: %w", key, err)
			}
			d.manusyas[info.NodeID] = info
		}
		return nil
	})
}

func (d *Deva) OpFactory() rsm.OpFactory { return opFactory{d: d} }

// --------------------------------------------------------------------
// Namespace ops
// --------------------------------------------------------------------

func (d *Deva) processCreateFile(version int32, req *CreateFileRequest, resp *CreateFileResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.ns.LookupParent(req.Path)
	if err != nil {
		return err
	}
	if err := d.ns.Create(parent, name, FileTypeFile, req.FileID); err != nil {
		return err
	}
	meta := &FileMeta{ID: req.FileID}
	if err := d.putFileLocked(meta); err != nil {
		return err
	}
	resp.FileID = req.FileID
	return nil
}

func (d *Deva) processCreateDir(version int32, req *CreateDirRequest, resp *CreateDirResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.ns.LookupParent(req.Path)
	if err != nil {
		return err
	}
	if err := d.ns.Create(parent, name, FileTypeDirectory, req.DirID); err != nil {
		return err
	}
	resp.DirID = req.DirID
	return nil
}

func (d *Deva) processRemoveFile(version int32, req *RemoveFileRequest, resp *RemoveFileResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.ns.LookupParent(req.Path)
	if err != nil {
		return err
	}
	inode, typ, err := d.ns.Lookup(req.Path)
	if err != nil {
		return err
	}
	if err := d.ns.Remove(parent, name); err != nil {
		return err
	}
	if typ == FileTypeFile {
		delete(d.files, inode)
		if err := d.st.Remove(fileKey(inode)); err != nil && err != store.ErrKeyNotFound {
			return status.Wrap(status.Internal, err, "")
		}
	}
	return nil
}

// --------------------------------------------------------------------
// Chunk layout ops
// --------------------------------------------------------------------

func (d *Deva) processSealFile(version int32, req *SealFileRequest, resp *SealFileResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.fileLocked(req.FileID)
	if err != nil {
		return err
	}
	if n := len(meta.Chunks); n > 0 {
		meta.Chunks[n-1].Sealed = true
	}
	meta.Sealed = true
	return d.putFileLocked(meta)
}

func (d *Deva) processCreateChunk(version int32, req *CreateChunkRequest, resp *CreateChunkResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.fileLocked(req.FileID)
	if err != nil {
		return err
	}
	if meta.Sealed {
		return status.Errorf(status.FailedPrecondition, "file %s is sealed", req.FileID)
	}
	if n := len(meta.Chunks); n > 0 && !meta.Chunks[n-1].Sealed {
		return status.Errorf(status.FailedPrecondition,
			"file %s already has an open tail chunk", req.FileID)
	}

	span := ChunkSpan{ChunkID: req.ChunkID, Offset: meta.Size()}
	meta.Chunks = append(meta.Chunks, span)
	if err := d.putFileLocked(meta); err != nil {
		return err
	}
	resp.ChunkID = span.ChunkID
	resp.Offset = span.Offset
	resp.Targets = d.placementLocked(index)
	return nil
}

func (d *Deva) processCheckInChunk(version int32, req *CheckInChunkRequest, resp *CheckInChunkResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.fileLocked(req.FileID)
	if err != nil {
		return err
	}
	span, err := meta.span(req.ChunkID)
	if err != nil {
		return err
	}
	if req.Size < span.Size {
		return status.Errorf(status.InvalidArgument,
			"chunk %s size %d regresses below %d", req.ChunkID, req.Size, span.Size)
	}
	span.Size = req.Size
	return d.putFileLocked(meta)
}

func (d *Deva) processSealChunk(version int32, req *SealChunkRequest, resp *SealChunkResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.fileLocked(req.FileID)
	if err != nil {
		return err
	}
	span, err := meta.span(req.ChunkID)
	if err != nil {
		return err
	}
	if req.Size < span.Size {
		return status.Errorf(status.InvalidArgument,
			"chunk %s size %d regresses below %d", req.ChunkID, req.Size, span.Size)
	}
	span.Size = req.Size
	span.Sealed = true
	return d.putFileLocked(meta)
}

// processSealAndNewChunk seals the tail and allocates its successor in
// one log entry, keeping the one-open-tail invariant airtight.
func (d *Deva) processSealAndNewChunk(version int32, req *SealAndNewChunkRequest, resp *SealAndNewChunkResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.fileLocked(req.FileID)
	if err != nil {
		return err
	}
	if meta.Sealed {
		return status.Errorf(status.FailedPrecondition, "file %s is sealed", req.FileID)
	}
	n := len(meta.Chunks)
	if n == 0 {
		return status.Errorf(status.FailedPrecondition, "file %s has no tail chunk", req.FileID)
	}
	tail := &meta.Chunks[n-1]
	if tail.Sealed {
		return status.Errorf(status.FailedPrecondition, "tail chunk %s is already sealed", tail.ChunkID)
	}
	if req.Size < tail.Size {
		return status.Errorf(status.InvalidArgument,
			"chunk %s size %d regresses below %d", tail.ChunkID, req.Size, tail.Size)
	}
	tail.Size = req.Size
	tail.Sealed = true
	sealedID := tail.ChunkID

	span := ChunkSpan{ChunkID: req.NewChunkID, Offset: meta.Size()}
	meta.Chunks = append(meta.Chunks, span)
	if err := d.putFileLocked(meta); err != nil {
		return err
	}
	resp.SealedChunkID = sealedID
	resp.NewChunkID = span.ChunkID
	resp.Offset = span.Offset
	resp.Targets = d.placementLocked(index)
	return nil
}

// --------------------------------------------------------------------
// Read-only ops
// --------------------------------------------------------------------

func (d *Deva) processReadDir(version int32, req *ReadDirRequest, resp *ReadDirResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir, typ, err := d.ns.Lookup(req.Path)
	if err != nil {
		return err
	}
	if typ != FileTypeDirectory {
		return status.Errorf(status.FailedPrecondition, "%q is not a directory", req.Path)
	}
	for _, entry := range d.ns.List(dir) {
		resp.Entries = append(resp.Entries, DirEntryInfo{
			Name:  entry.Name,
			Type:  entry.Type,
			Inode: entry.Child,
		})
	}
	return nil
}

func (d *Deva) processGetFileInfo(version int32, req *GetFileInfoRequest, resp *GetFileInfoResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	inode, typ, err := d.ns.Lookup(req.Path)
	if err != nil {
		return err
	}
	if typ != FileTypeFile {
		return status.Errorf(status.FailedPrecondition, "%q is not a file", req.Path)
	}
	meta, err := d.fileLocked(inode)
	if err != nil {
		return err
	}
	resp.FileID = meta.ID
	resp.Sealed = meta.Sealed
	resp.Size = meta.Size()
	resp.Chunks = append([]ChunkSpan(nil), meta.Chunks...)
	return nil
}

// --------------------------------------------------------------------
// Storage-node registry ops
// --------------------------------------------------------------------

func (d *Deva) processManusyaHeartbeat(version int32, req *ManusyaHeartbeatRequest, resp *ManusyaHeartbeatResponse, index uint64) error {
	if req.NodeID == "" {
		return status.Errorf(status.InvalidArgument, "heartbeat without node id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ManusyaInfo{NodeID: req.NodeID, Addr: req.Addr, LastSeenIndex: index}
	rec, err := msgpack.Marshal(&info)
	if err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	if err := d.st.Put(nodeKey(req.NodeID), rec); err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	d.manusyas[req.NodeID] = info
	return nil
}

func (d *Deva) processListManusya(version int32, req *ListManusyaRequest, resp *ListManusyaResponse, index uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, info := range d.manusyas {
		resp.Nodes = append(resp.Nodes, info)
	}
	sort.Slice(resp.Nodes, func(i, j int) bool { return resp.Nodes[i].NodeID < resp.Nodes[j].NodeID })
	return nil
}

// --------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------

// devaImage is the container's snapshot form. All slices are in
// deterministic order so two replicas at the same log prefix marshal
// byte-equal images.
type devaImage struct {
	Inodes   []Inode       `msgpack:"inodes"`
	Dentries []DirEntry    `msgpack:"dentries"`
	Files    []FileMeta    `msgpack:"files"`
	Nodes    []ManusyaInfo `msgpack:"nodes"`
}

func (d *Deva) SaveSnapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	image := devaImage{
		Inodes:   d.ns.snapshotInodes(),
		Dentries: d.ns.snapshotDentries(),
	}
	for _, meta := range d.files {
		image.Files = append(image.Files, *meta)
	}
	sort.Slice(image.Files, func(i, j int) bool { return image.Files[i].ID.Less(image.Files[j].ID) })
	for _, info := range d.manusyas {
		image.Nodes = append(image.Nodes, info)
	}
	sort.Slice(image.Nodes, func(i, j int) bool { return image.Nodes[i].NodeID < image.Nodes[j].NodeID })

	return msgpack.Marshal(&image)
}

func (d *Deva) LoadSnapshot(data []byte) error {
	var image devaImage
	if err := msgpack.Unmarshal(data, &image); err != nil {
		return fmt.Errorf("decode container image: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ns.restore(image.Inodes, image.Dentries); err != nil {
		return err
	}

	for id := range d.files {
		_ = d.st.Remove(fileKey(id))
	}
	for nodeID := range d.manusyas {
		_ = d.st.Remove(nodeKey(nodeID))
	}
	d.files = make(map[base.ObjectId]*FileMeta, len(image.Files))
	d.manusyas = make(map[string]ManusyaInfo, len(image.Nodes))

	for i := range image.Files {
		meta := image.Files[i]
		d.files[meta.ID] = &meta
		if err := d.putFileLocked(&meta); err != nil {
			return err
		}
	}
	for _, info := range image.Nodes {
		rec, err := msgpack.Marshal(&info)
		if err != nil {
			return err
		}
		if err := d.st.Put(nodeKey(info.NodeID), rec); err != nil {
			return err
		}
		d.manusyas[info.NodeID] = info
	}
	return nil
}

// --------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------

func fileKey(id base.ObjectId) string { return fileKeyspace + "/" + id.String() }
func nodeKey(nodeID string) string    { return nodeKeyspace + "/" + nodeID }

func (d *Deva) fileLocked(id base.ObjectId) (*FileMeta, error) {
	meta, ok := d.files[id]
	if !ok {
		return nil, status.Errorf(status.NotFound, "file %s not found", id)
	}
	return meta, nil
}

func (d *Deva) putFileLocked(meta *FileMeta) error {
	rec, err := msgpack.Marshal(meta)
	if err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	if err := d.st.Put(fileKey(meta.ID), rec); err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	d.files[meta.ID] = meta
	return nil
}

func (m *FileMeta) span(chunkID base.ObjectId) (*ChunkSpan, error) {
	for i := range m.Chunks {
		if m.Chunks[i].ChunkID == chunkID {
			return &m.Chunks[i], nil
		}
	}
	return nil, status.Errorf(status.NotFound, "chunk %s not in file %s", chunkID, m.ID)
}

// placementLocked picks up to replicaTargets live nodes in node-id
// order. Liveness is heartbeat recency in log entries relative to the
// op being applied, so every replica computes the same answer.
func (d *Deva) placementLocked(index uint64) []string {
	ids := make([]string, 0, len(d.manusyas))
	for nodeID := range d.manusyas {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)

	var targets []string
	for _, nodeID := range ids {
		info := d.manusyas[nodeID]
		if index > info.LastSeenIndex && index-info.LastSeenIndex > heartbeatWindow {
			continue
		}
		targets = append(targets, info.Addr)
		if len(targets) == replicaTargets {
			break
		}
	}
	return targets
}
