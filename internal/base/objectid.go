// Package base holds the small shared types of the fabric, most
// importantly ObjectId: the partition-prefixed identifier used for
// chunks, inodes, and every other addressable object.
package base

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidObjectId = errors.New("invalid object id")

// ObjectIdStringLen is the length of the canonical string form:
// 8 hex chars of partition id, a dash, then the 36-char UUID.
const ObjectIdStringLen = 45

// ObjectId identifies an object within a partition. It orders by
// (PartitionID, UUID) and its string form is lowercase hex with fixed
// dash positions, e.g. "00000000-73404092-a3c7-471c-8364-10e96c1dada1".
type ObjectId struct {
	PartitionID uint32
	UUID        uuid.UUID
}

// GenerateObjectId returns a fresh random ObjectId in the given partition.
func GenerateObjectId(partitionID uint32) ObjectId {
	return ObjectId{PartitionID: partitionID, UUID: uuid.New()}
}

// dash positions in the canonical string form. Position 8 separates the
// partition prefix; the rest are the UUID's own dashes shifted by 9.
var objectIdDashes = [5]int{8, 17, 22, 27, 32}

func isLowerHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}

// ParseObjectId parses the canonical 45-char form. It rejects wrong
// lengths, misplaced dashes, and anything outside lowercase hex.
func ParseObjectId(s string) (ObjectId, error) {
	if len(s) != ObjectIdStringLen {
		return ObjectId{}, fmt.Errorf("%w: length %d (want %d)", ErrInvalidObjectId, len(s), ObjectIdStringLen)
	}
	dash := 0
	for i := 0; i < len(s); i++ {
		if dash < len(objectIdDashes) && i == objectIdDashes[dash] {
			if s[i] != '-' {
				return ObjectId{}, fmt.Errorf("%w: missing dash at %d", ErrInvalidObjectId, i)
			}
			dash++
			continue
		}
		if !isLowerHex(s[i]) {
			return ObjectId{}, fmt.Errorf("%w: non-hex character at %d", ErrInvalidObjectId, i)
		}
	}

	var pid uint32
	for i := 0; i < 8; i++ {
		pid = pid<<4 | uint32(hexVal(s[i]))
	}
	u, err := uuid.Parse(s[9:])
	if err != nil {
		return ObjectId{}, fmt.Errorf("%w: %v", ErrInvalidObjectId, err)
	}
	return ObjectId{PartitionID: pid, UUID: u}, nil
}

// MustParseObjectId parses a pre-validated id and panics on malformed
// input. Use only where the string has already passed validation.
func MustParseObjectId(s string) ObjectId {
	id, err := ParseObjectId(s)
	if err != nil {
		panic(err)
	}
	return id
}

func hexVal(b byte) byte {
	if b >= 'a' {
		return b - 'a' + 10
	}
	return b - '0'
}

// String returns the canonical lowercase 45-char form.
func (id ObjectId) String() string {
	return fmt.Sprintf("%08x-%s", id.PartitionID, id.UUID.String())
}

// Compare orders ids by partition id first, then by UUID bytes.
func (id ObjectId) Compare(other ObjectId) int {
	switch {
	case id.PartitionID < other.PartitionID:
		return -1
	case id.PartitionID > other.PartitionID:
		return 1
	}
	for i := range id.UUID {
		switch {
		case id.UUID[i] < other.UUID[i]:
			return -1
		case id.UUID[i] > other.UUID[i]:
			return 1
		}
	}
	return 0
}

func (id ObjectId) Less(other ObjectId) bool {
	return id.Compare(other) < 0
}

func (id ObjectId) IsZero() bool {
	return id == ObjectId{}
}

// Hash folds the partition id and the UUID halves with xor. Collisions
// across partitions are acceptable; this is not a cryptographic hash.
func (id ObjectId) Hash() uint64 {
	hi := binary.BigEndian.Uint64(id.UUID[:8])
	lo := binary.BigEndian.Uint64(id.UUID[8:])
	return uint64(id.PartitionID) ^ hi ^ lo
}

// MarshalText/UnmarshalText let ObjectId pass through msgpack and other
// structured encoders in its canonical string form.
func (id ObjectId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectId) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
