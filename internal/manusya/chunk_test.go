package manusya

import (
	"bytes"
	"errors"
	"testing"

	"pain/internal/status"
	"pain/internal/store"
)

func newTestChunk(t *testing.T) *Chunk {
	t.Helper()
	bank := NewBank(store.NewMemoryStore(), nil)
	chunk, err := bank.CreateChunk(ChunkOptions{}, 0)
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}
	return chunk
}

func TestChunkAppendRead(t *testing.T) {
	chunk := newTestChunk(t)

	if chunk.State() != ChunkOpen {
		t.Fatal("fresh chunk should be open")
	}
	if chunk.Size() != 0 {
		t.Fatalf("fresh chunk size %d", chunk.Size())
	}

	if err := chunk.Append([]byte("hello"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := chunk.Append([]byte(" world"), 5); err != nil {
		t.Fatalf("append: %v", err)
	}
	if chunk.Size() != 11 {
		t.Fatalf("expected size 11, got %d", chunk.Size())
	}

	got, err := chunk.Read(0, 11)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}
}

func TestChunkAppendWrongOffset(t *testing.T) {
	chunk := newTestChunk(t)

	err := chunk.Append([]byte("x"), 3)
	if status.CodeOf(err) != status.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestChunkSealIsIdempotentAndTerminal(t *testing.T) {
	chunk := newTestChunk(t)

	if err := chunk.Append([]byte("hello world"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	size, err := chunk.QueryAndSeal()
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if size != 11 {
		t.Fatalf("expected sealed size 11, got %d", size)
	}

	size, err = chunk.QueryAndSeal()
	if err != nil {
		t.Fatalf("second seal: %v", err)
	}
	if size != 11 {
		t.Fatalf("second seal returned %d", size)
	}
	if chunk.State() != ChunkSealed {
		t.Fatal("chunk should be sealed")
	}

	err = chunk.Append([]byte("!"), 11)
	if status.CodeOf(err) != status.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestChunkReadBounds(t *testing.T) {
	chunk := newTestChunk(t)
	if err := chunk.Append([]byte("abcdef"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Reads clamp to the written range.
	got, err := chunk.Read(4, 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "ef" {
		t.Fatalf("expected ef, got %q", got)
	}

	// Reading at exactly the size yields nothing.
	got, err = chunk.Read(6, 1)
	if err != nil {
		t.Fatalf("read at size: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty read, got %q", got)
	}

	// Reading past the size is an error.
	_, err = chunk.Read(7, 1)
	if status.CodeOf(err) != status.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestChunkAppendSequence(t *testing.T) {
	chunk := newTestChunk(t)

	parts := [][]byte{[]byte("aa"), []byte("bbb"), []byte("c"), []byte("dddd")}
	var all []byte
	var offset uint64
	for _, part := range parts {
		if err := chunk.Append(part, offset); err != nil {
			t.Fatalf("append at %d: %v", offset, err)
		}
		offset += uint64(len(part))
		all = append(all, part...)
	}

	if chunk.Size() != uint64(len(all)) {
		t.Fatalf("expected size %d, got %d", len(all), chunk.Size())
	}
	got, err := chunk.Read(0, chunk.Size())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, all) {
		t.Fatalf("concatenation mismatch: %q vs %q", got, all)
	}
}

func TestChunkStatusErrorsMatch(t *testing.T) {
	chunk := newTestChunk(t)
	if _, err := chunk.QueryAndSeal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	err := chunk.Append([]byte("x"), 0)
	if !errors.Is(err, status.Errorf(status.FailedPrecondition, "")) {
		t.Fatalf("coded errors should match by code, got %v", err)
	}
}
