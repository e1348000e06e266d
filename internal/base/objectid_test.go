package base

import (
	"sort"
	"testing"
)

func TestObjectIdParseLiteral(t *testing.T) {
	id, err := ParseObjectId("00000000-73404092-a3c7-471c-8364-10e96c1dada1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.PartitionID != 0 {
		t.Fatalf("expected partition 0, got %d", id.PartitionID)
	}
	if got := id.UUID.String(); got != "73404092-a3c7-471c-8364-10e96c1dada1" {
		t.Fatalf("unexpected uuid %q", got)
	}
}

func TestObjectIdRoundTrip(t *testing.T) {
	for _, pid := range []uint32{0, 1, 100, 1 << 20, ^uint32(0)} {
		id := GenerateObjectId(pid)
		s := id.String()
		if len(s) != ObjectIdStringLen {
			t.Fatalf("string form %q has length %d", s, len(s))
		}
		parsed, err := ParseObjectId(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if parsed != id {
			t.Fatalf("round trip mismatch: %v != %v", parsed, id)
		}
	}
}

func TestObjectIdParseRejects(t *testing.T) {
	cases := []string{
		"",
		"-",
		"00000000-73404092-a3c7-471c-8364-10e96c1dada", // short
		"00000000-73404092-a3c7-471c-8364-10e96c1dada12", // long
		"00000000x73404092-a3c7-471c-8364-10e96c1dada1",  // bad separator
		"00000000-73404092xa3c7-471c-8364-10e96c1dada1",  // bad dash position
		"00000000-73404092-A3C7-471c-8364-10e96c1dada1",  // uppercase
		"0000000g-73404092-a3c7-471c-8364-10e96c1dada1",  // non-hex partition
		"123-73404092-a3c7-471c-8364-10e96c1dada1",       // numeric prefix form
	}
	for _, s := range cases {
		if _, err := ParseObjectId(s); err == nil {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestMustParseObjectIdPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustParseObjectId("not-an-object-id")
}

func TestObjectIdOrdering(t *testing.T) {
	a := MustParseObjectId("00000064-050e8400-0000-0000-0000-000000000000")
	b := MustParseObjectId("00000064-6ba7b810-9dad-11d1-80b4-80c04fd430c8")
	c := MustParseObjectId("000000c8-050e8400-0000-0000-0000-000000000000")

	if !a.Less(b) {
		t.Fatal("same partition: smaller uuid should order first")
	}
	if !b.Less(c) {
		t.Fatal("partition id should dominate the order")
	}
	if a.Compare(a) != 0 {
		t.Fatal("id should compare equal to itself")
	}

	ids := []ObjectId{c, b, a}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	if ids[0] != a || ids[1] != b || ids[2] != c {
		t.Fatalf("unexpected sort order: %v", ids)
	}
}

func TestObjectIdHash(t *testing.T) {
	a := GenerateObjectId(123)
	b := a
	if a.Hash() != b.Hash() {
		t.Fatal("equal ids must hash equal")
	}
	c := GenerateObjectId(123)
	if a.Hash() == c.Hash() {
		t.Fatal("distinct ids should (almost surely) hash differently")
	}
}
