package manusya

import (
	"sort"
	"testing"

	"pain/internal/base"
	"pain/internal/status"
	"pain/internal/store"
)

func TestBankCreateAndGet(t *testing.T) {
	bank := NewBank(store.NewMemoryStore(), nil)

	created, err := bank.CreateChunk(ChunkOptions{}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.State() != ChunkOpen || created.Size() != 0 {
		t.Fatalf("fresh chunk state=%v size=%d", created.State(), created.Size())
	}

	got, err := bank.GetChunk(created.ChunkID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != created {
		t.Fatal("get should return the registered chunk")
	}

	_, err = bank.GetChunk(base.GenerateObjectId(0))
	if status.CodeOf(err) != status.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestBankCreateUniqueIDs(t *testing.T) {
	bank := NewBank(store.NewMemoryStore(), nil)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		chunk, err := bank.CreateChunk(ChunkOptions{}, uint32(i))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		key := chunk.ChunkID().String()
		if seen[key] {
			t.Fatalf("duplicate chunk id %s", key)
		}
		seen[key] = true
	}
}

func TestBankListChunk(t *testing.T) {
	bank := NewBank(store.NewMemoryStore(), nil)

	ids := make([]base.ObjectId, 0, 5)
	for i := 0; i < 5; i++ {
		chunk, err := bank.CreateChunk(ChunkOptions{}, uint32(i))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, chunk.ChunkID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	var listed []base.ObjectId
	bank.ListChunk(ids[1], 10, func(id base.ObjectId) {
		listed = append(listed, id)
	})

	if len(listed) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(listed))
	}
	for i, id := range listed {
		if id != ids[i+1] {
			t.Fatalf("entry %d: expected %s, got %s", i, ids[i+1], id)
		}
		if i > 0 && !listed[i-1].Less(id) {
			t.Fatal("listing must be strictly increasing")
		}
	}

	// Limit truncates.
	listed = bank.ListChunkIDs(ids[0], 2)
	if len(listed) != 2 || listed[0] != ids[0] || listed[1] != ids[1] {
		t.Fatalf("unexpected limited listing %v", listed)
	}

	// A start past the last id yields nothing.
	after := ids[4]
	after.PartitionID++
	if got := bank.ListChunkIDs(after, 10); len(got) != 0 {
		t.Fatalf("expected empty listing, got %v", got)
	}
}

func TestBankRemoveChunk(t *testing.T) {
	st := store.NewMemoryStore()
	bank := NewBank(st, nil)

	chunk, err := bank.CreateChunk(ChunkOptions{}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := chunk.ChunkID()

	if err := bank.RemoveChunk(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := bank.RemoveChunk(id); status.CodeOf(err) != status.NotFound {
		t.Fatalf("expected NotFound on double remove, got %v", err)
	}
	if _, err := st.Get(id.String()); err != store.ErrKeyNotFound {
		t.Fatalf("chunk bytes should be gone from the store, got %v", err)
	}
	if got := bank.ListChunkIDs(base.ObjectId{}, 10); len(got) != 0 {
		t.Fatalf("registry should be empty, got %v", got)
	}
}

func TestBankLoadSealsPersistedChunks(t *testing.T) {
	st := store.NewMemoryStore()

	first := NewBank(st, nil)
	chunk, err := first.CreateChunk(ChunkOptions{}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := chunk.Append([]byte("payload"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	id := chunk.ChunkID()

	// A second bank over the same store simulates a restart.
	second := NewBank(st, nil)
	if err := second.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded, err := second.GetChunk(id)
	if err != nil {
		t.Fatalf("get after load: %v", err)
	}
	if loaded.State() != ChunkSealed {
		t.Fatal("persisted chunks must come back sealed")
	}
	if loaded.Size() != 7 {
		t.Fatalf("expected size 7 after load, got %d", loaded.Size())
	}
	got, err := loaded.Read(0, 7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected payload, got %q", got)
	}
}
