// Package rsm hosts a deterministic container on top of a hashicorp/raft
// group: typed versioned ops are encoded through the replicated log,
// reconstructed via the container's op factory on every replica, and
// applied in committed log order.
package rsm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotLeader    = errors.New("not the leader")
	ErrShortEntry   = errors.New("log entry shorter than header")
	ErrUnknownOp    = errors.New("unknown op type")
	ErrBadOpVersion = errors.New("unsupported op version")
)

// Op is a single replicated command. Mutating ops travel through the
// log; read-only ops are served directly from leader state with log
// index 0.
type Op interface {
	OpType() uint32
	Version() int32
	Mutating() bool

	// EncodePayload and DecodePayload handle only the payload; the
	// (type, version) header is the entry codec's business.
	EncodePayload() ([]byte, error)
	DecodePayload(data []byte) error

	// OnApply runs the op against its container at the given log index.
	OnApply(index uint64) error
	// OnFinish delivers the final status to the originator's callback.
	OnFinish(err error)

	// Response exposes the response produced by OnApply so the apply
	// result can travel back to the submitter through the raft future.
	Response() any
}

// OpFactory reconstructs ops from their wire identity so any replica
// can apply an entry it did not originate. Each container enumerates
// its op types in a stable numeric space.
type OpFactory interface {
	Create(opType uint32, version int32) (Op, error)
}

// Log entry layout: u32 op type, i32 version, payload. Header integers
// are big-endian.
const entryHeaderLen = 8

// EncodeEntry frames an op for the replicated log.
func EncodeEntry(op Op) ([]byte, error) {
	payload, err := op.EncodePayload()
	if err != nil {
		return nil, fmt.Errorf("encode op %d payload: %w", op.OpType(), err)
	}
	buf := make([]byte, entryHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], op.OpType())
	binary.BigEndian.PutUint32(buf[4:8], uint32(op.Version()))
	copy(buf[entryHeaderLen:], payload)
	return buf, nil
}

// DecodeEntry splits a log entry into its op identity and payload.
func DecodeEntry(data []byte) (opType uint32, version int32, payload []byte, err error) {
	if len(data) < entryHeaderLen {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrShortEntry, len(data))
	}
	opType = binary.BigEndian.Uint32(data[0:4])
	version = int32(binary.BigEndian.Uint32(data[4:8]))
	return opType, version, data[entryHeaderLen:], nil
}
