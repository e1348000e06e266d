package deva

import (
	"bytes"
	"fmt"
	"testing"

	"pain/internal/base"
	"pain/internal/status"
	"pain/internal/store"
)

// applyOp drives the container the way the Rsm does on apply.
func applyOp[Req, Resp any](t *testing.T, process func(int32, *Req, *Resp, uint64) error, req Req, index uint64) (*Resp, error) {
	t.Helper()
	var resp Resp
	err := process(OpVersion, &req, &resp, index)
	return &resp, err
}

func newTestDeva() *Deva {
	return New(store.NewMemoryStore(), nil)
}

func TestDevaCreateAndReadDir(t *testing.T) {
	d := newTestDeva()

	if _, err := applyOp(t, d.processCreateDir, CreateDirRequest{Path: "/a", DirID: base.GenerateObjectId(0)}, 1); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	fileID := base.GenerateObjectId(0)
	resp, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/a/b", FileID: fileID}, 2)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if resp.FileID != fileID {
		t.Fatalf("expected file id %s, got %s", fileID, resp.FileID)
	}

	list, err := applyOp(t, d.processReadDir, ReadDirRequest{Path: "/a"}, 0)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(list.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(list.Entries))
	}
	if list.Entries[0].Name != "b" || list.Entries[0].Type != FileTypeFile {
		t.Fatalf("unexpected entry %+v", list.Entries[0])
	}

	_, err = applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/a/b", FileID: base.GenerateObjectId(0)}, 3)
	if status.CodeOf(err) != status.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestDevaCreateFileErrors(t *testing.T) {
	d := newTestDeva()

	_, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/missing/f", FileID: base.GenerateObjectId(0)}, 1)
	if status.CodeOf(err) != status.NotFound {
		t.Fatalf("expected NotFound for missing parent, got %v", err)
	}

	if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/f", FileID: base.GenerateObjectId(0)}, 2); err != nil {
		t.Fatalf("create file: %v", err)
	}
	_, err = applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/f/child", FileID: base.GenerateObjectId(0)}, 3)
	if status.CodeOf(err) != status.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition for file parent, got %v", err)
	}
}

func TestDevaRemoveFile(t *testing.T) {
	d := newTestDeva()

	dirID := base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateDir, CreateDirRequest{Path: "/a", DirID: dirID}, 1); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	fileID := base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/a/b", FileID: fileID}, 2); err != nil {
		t.Fatalf("create file: %v", err)
	}

	_, err := applyOp(t, d.processRemoveFile, RemoveFileRequest{Path: "/a"}, 3)
	if status.CodeOf(err) != status.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition for non-empty dir, got %v", err)
	}

	if _, err := applyOp(t, d.processRemoveFile, RemoveFileRequest{Path: "/a/b"}, 4); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	if _, ok := d.files[fileID]; ok {
		t.Fatal("file meta should be deleted with the file")
	}
	if _, err := applyOp(t, d.processRemoveFile, RemoveFileRequest{Path: "/a"}, 5); err != nil {
		t.Fatalf("remove now-empty dir: %v", err)
	}
}

func createFileWithChunk(t *testing.T, d *Deva, path string) (fileID, chunkID base.ObjectId) {
	t.Helper()
	fileID = base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: path, FileID: fileID}, 1); err != nil {
		t.Fatalf("create file: %v", err)
	}
	chunkID = base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateChunk, CreateChunkRequest{FileID: fileID, ChunkID: chunkID}, 2); err != nil {
		t.Fatalf("create chunk: %v", err)
	}
	return fileID, chunkID
}

func TestDevaChunkLifecycle(t *testing.T) {
	d := newTestDeva()
	fileID, chunkID := createFileWithChunk(t, d, "/f")

	// Only one open tail at a time.
	_, err := applyOp(t, d.processCreateChunk, CreateChunkRequest{FileID: fileID, ChunkID: base.GenerateObjectId(0)}, 3)
	if status.CodeOf(err) != status.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition for second open chunk, got %v", err)
	}

	// The client reports appended bytes.
	if _, err := applyOp(t, d.processCheckInChunk, CheckInChunkRequest{FileID: fileID, ChunkID: chunkID, Size: 100}, 4); err != nil {
		t.Fatalf("check in: %v", err)
	}
	_, err = applyOp(t, d.processCheckInChunk, CheckInChunkRequest{FileID: fileID, ChunkID: chunkID, Size: 50}, 5)
	if status.CodeOf(err) != status.InvalidArgument {
		t.Fatalf("expected InvalidArgument for size regression, got %v", err)
	}

	// Seal the tail and open its successor atomically.
	newChunkID := base.GenerateObjectId(0)
	roll, err := applyOp(t, d.processSealAndNewChunk, SealAndNewChunkRequest{FileID: fileID, Size: 128, NewChunkID: newChunkID}, 6)
	if err != nil {
		t.Fatalf("seal and new: %v", err)
	}
	if roll.SealedChunkID != chunkID || roll.NewChunkID != newChunkID {
		t.Fatalf("unexpected roll result %+v", roll)
	}
	if roll.Offset != 128 {
		t.Fatalf("successor should start at 128, got %d", roll.Offset)
	}

	info, err := applyOp(t, d.processGetFileInfo, GetFileInfoRequest{Path: "/f"}, 0)
	if err != nil {
		t.Fatalf("get file info: %v", err)
	}
	if len(info.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(info.Chunks))
	}
	if !info.Chunks[0].Sealed || info.Chunks[1].Sealed {
		t.Fatalf("exactly the tail should be open: %+v", info.Chunks)
	}
	if info.Size != 128 {
		t.Fatalf("expected file size 128, got %d", info.Size)
	}

	// Seal the file: tail freezes, no further chunks.
	if _, err := applyOp(t, d.processSealChunk, SealChunkRequest{FileID: fileID, ChunkID: newChunkID, Size: 64}, 7); err != nil {
		t.Fatalf("seal chunk: %v", err)
	}
	if _, err := applyOp(t, d.processSealFile, SealFileRequest{FileID: fileID}, 8); err != nil {
		t.Fatalf("seal file: %v", err)
	}
	_, err = applyOp(t, d.processCreateChunk, CreateChunkRequest{FileID: fileID, ChunkID: base.GenerateObjectId(0)}, 9)
	if status.CodeOf(err) != status.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition on sealed file, got %v", err)
	}

	info, err = applyOp(t, d.processGetFileInfo, GetFileInfoRequest{Path: "/f"}, 0)
	if err != nil {
		t.Fatalf("get file info: %v", err)
	}
	if !info.Sealed || info.Size != 192 {
		t.Fatalf("expected sealed file of size 192, got sealed=%v size=%d", info.Sealed, info.Size)
	}
}

func TestDevaSealAndNewChunkPreconditions(t *testing.T) {
	d := newTestDeva()
	fileID := base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/f", FileID: fileID}, 1); err != nil {
		t.Fatalf("create file: %v", err)
	}

	// No tail chunk yet.
	_, err := applyOp(t, d.processSealAndNewChunk, SealAndNewChunkRequest{FileID: fileID, Size: 1, NewChunkID: base.GenerateObjectId(0)}, 2)
	if status.CodeOf(err) != status.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition without tail, got %v", err)
	}

	_, err = applyOp(t, d.processSealAndNewChunk, SealAndNewChunkRequest{FileID: base.GenerateObjectId(0), Size: 1, NewChunkID: base.GenerateObjectId(0)}, 3)
	if status.CodeOf(err) != status.NotFound {
		t.Fatalf("expected NotFound for unknown file, got %v", err)
	}
}

func TestDevaHeartbeatAndPlacement(t *testing.T) {
	d := newTestDeva()

	for i := 0; i < 4; i++ {
		req := ManusyaHeartbeatRequest{NodeID: fmt.Sprintf("node-%d", i), Addr: fmt.Sprintf("10.0.0.%d:8101", i)}
		if _, err := applyOp(t, d.processManusyaHeartbeat, req, uint64(i+1)); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}

	nodes, err := applyOp(t, d.processListManusya, ListManusyaRequest{}, 0)
	if err != nil {
		t.Fatalf("list manusya: %v", err)
	}
	if len(nodes.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes.Nodes))
	}
	if nodes.Nodes[0].NodeID != "node-0" || nodes.Nodes[0].LastSeenIndex != 1 {
		t.Fatalf("unexpected first node %+v", nodes.Nodes[0])
	}

	// Heartbeats without a node id are rejected.
	_, err = applyOp(t, d.processManusyaHeartbeat, ManusyaHeartbeatRequest{Addr: "x"}, 9)
	if status.CodeOf(err) != status.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	// Placement picks at most three live nodes in node-id order.
	fileID := base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/f", FileID: fileID}, 10); err != nil {
		t.Fatalf("create file: %v", err)
	}
	resp, err := applyOp(t, d.processCreateChunk, CreateChunkRequest{FileID: fileID, ChunkID: base.GenerateObjectId(0)}, 11)
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}
	want := []string{"10.0.0.0:8101", "10.0.0.1:8101", "10.0.0.2:8101"}
	if len(resp.Targets) != len(want) {
		t.Fatalf("expected %d targets, got %v", len(want), resp.Targets)
	}
	for i, target := range want {
		if resp.Targets[i] != target {
			t.Fatalf("target %d: expected %s, got %s", i, target, resp.Targets[i])
		}
	}

	// A node whose heartbeat fell out of the window stops receiving
	// placements.
	d.mu.Lock()
	stale := d.manusyas["node-0"]
	stale.LastSeenIndex = 0
	d.manusyas["node-0"] = stale
	targets := d.placementLocked(heartbeatWindow + 2)
	d.mu.Unlock()
	want = []string{"10.0.0.1:8101", "10.0.0.2:8101", "10.0.0.3:8101"}
	if len(targets) != len(want) {
		t.Fatalf("expected %v, got %v", want, targets)
	}
	for i, target := range want {
		if targets[i] != target {
			t.Fatalf("target %d: expected %s, got %s", i, target, targets[i])
		}
	}
}

func TestDevaSnapshotDeterminismAcrossReplicas(t *testing.T) {
	// Two containers applying the same op sequence must produce
	// byte-equal images.
	ops := func(d *Deva) {
		dirID := base.MustParseObjectId("00000000-00000000-0000-0000-0000-00000000000a")
		fileID := base.MustParseObjectId("00000000-00000000-0000-0000-0000-00000000000b")
		chunkID := base.MustParseObjectId("00000000-00000000-0000-0000-0000-00000000000c")
		if _, err := applyOp(t, d.processCreateDir, CreateDirRequest{Path: "/a", DirID: dirID}, 1); err != nil {
			t.Fatalf("create dir: %v", err)
		}
		if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/a/f", FileID: fileID}, 2); err != nil {
			t.Fatalf("create file: %v", err)
		}
		if _, err := applyOp(t, d.processCreateChunk, CreateChunkRequest{FileID: fileID, ChunkID: chunkID}, 3); err != nil {
			t.Fatalf("create chunk: %v", err)
		}
		if _, err := applyOp(t, d.processManusyaHeartbeat, ManusyaHeartbeatRequest{NodeID: "n1", Addr: "a:1"}, 4); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}

	left, right := newTestDeva(), newTestDeva()
	ops(left)
	ops(right)

	leftImage, err := left.SaveSnapshot()
	if err != nil {
		t.Fatalf("save left: %v", err)
	}
	rightImage, err := right.SaveSnapshot()
	if err != nil {
		t.Fatalf("save right: %v", err)
	}
	if !bytes.Equal(leftImage, rightImage) {
		t.Fatal("replicas at the same log prefix must snapshot byte-identically")
	}

	// A third container loaded from the image snapshots identically too.
	restored := newTestDeva()
	if err := restored.LoadSnapshot(leftImage); err != nil {
		t.Fatalf("load: %v", err)
	}
	restoredImage, err := restored.SaveSnapshot()
	if err != nil {
		t.Fatalf("save restored: %v", err)
	}
	if !bytes.Equal(leftImage, restoredImage) {
		t.Fatal("load/save round trip must preserve the image")
	}

	// And serves the same answers.
	info, err := applyOp(t, restored.processGetFileInfo, GetFileInfoRequest{Path: "/a/f"}, 0)
	if err != nil {
		t.Fatalf("get file info after restore: %v", err)
	}
	if len(info.Chunks) != 1 {
		t.Fatalf("expected restored layout, got %+v", info)
	}
}

func TestDevaLoadFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	d := New(st, nil)

	fileID := base.GenerateObjectId(0)
	if _, err := applyOp(t, d.processCreateFile, CreateFileRequest{Path: "/f", FileID: fileID}, 1); err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := applyOp(t, d.processManusyaHeartbeat, ManusyaHeartbeatRequest{NodeID: "n1", Addr: "a:1"}, 2); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	fresh := New(st, nil)
	if err := fresh.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	info, err := applyOp(t, fresh.processGetFileInfo, GetFileInfoRequest{Path: "/f"}, 0)
	if err != nil {
		t.Fatalf("get file info: %v", err)
	}
	if info.FileID != fileID {
		t.Fatalf("expected file %s, got %s", fileID, info.FileID)
	}
	nodes, err := applyOp(t, fresh.processListManusya, ListManusyaRequest{}, 0)
	if err != nil {
		t.Fatalf("list manusya: %v", err)
	}
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].NodeID != "n1" {
		t.Fatalf("unexpected nodes %+v", nodes.Nodes)
	}
}
