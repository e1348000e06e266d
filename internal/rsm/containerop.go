package rsm

import (
	"github.com/vmihailenco/msgpack/v5"

	"pain/internal/status"
)

// ProcessFunc is a container method applying one op type: deterministic
// given (pre-state, version, request), writing its result into resp.
type ProcessFunc[Req, Resp any] func(version int32, req *Req, resp *Resp, index uint64) error

// ContainerOp binds an op identity to a request/response pair and the
// container method that processes it. Payloads are msgpack, so request
// types can grow fields without breaking older replicas of the same
// version.
type ContainerOp[Req, Resp any] struct {
	opType   uint32
	version  int32
	mutating bool
	req      Req
	resp     Resp
	process  ProcessFunc[Req, Resp]
	finish   func(error)
}

// NewOp builds a ContainerOp carrying req. The zero Resp is filled in
// by OnApply.
func NewOp[Req, Resp any](opType uint32, version int32, mutating bool, req Req, process ProcessFunc[Req, Resp]) *ContainerOp[Req, Resp] {
	return &ContainerOp[Req, Resp]{
		opType:   opType,
		version:  version,
		mutating: mutating,
		req:      req,
		process:  process,
	}
}

// WithFinish attaches a completion callback invoked with the final
// status after apply (or after the submission fails).
func (op *ContainerOp[Req, Resp]) WithFinish(fn func(error)) *ContainerOp[Req, Resp] {
	op.finish = fn
	return op
}

func (op *ContainerOp[Req, Resp]) OpType() uint32 { return op.opType }
func (op *ContainerOp[Req, Resp]) Version() int32 { return op.version }
func (op *ContainerOp[Req, Resp]) Mutating() bool { return op.mutating }
func (op *ContainerOp[Req, Resp]) Response() any { return &op.resp }

func (op *ContainerOp[Req, Resp]) EncodePayload() ([]byte, error) {
	return msgpack.Marshal(&op.req)
}

func (op *ContainerOp[Req, Resp]) DecodePayload(data []byte) error {
	return msgpack.Unmarshal(data, &op.req)
}

func (op *ContainerOp[Req, Resp]) OnApply(index uint64) error {
	return op.process(op.version, &op.req, &op.resp, index)
}

func (op *ContainerOp[Req, Resp]) OnFinish(err error) {
	if op.finish != nil {
		op.finish(err)
	}
}

// Submit routes an op to its container. Mutating ops are framed and
// handed to consensus; the response produced during apply travels back
// through the raft future and is copied into this op. Read-only ops
// require leadership and apply directly with log index 0.
//
// Domain errors from processing come back as the returned error; the
// log entry is still committed (a failed attempt applies as a no-op on
// every replica).
func Submit[Req, Resp any](r *Rsm, op *ContainerOp[Req, Resp]) (*Resp, error) {
	if !op.mutating {
		if !r.IsLeader() {
			err := status.Errorf(status.FailedPrecondition, "not the leader")
			op.OnFinish(err)
			return nil, err
		}
		if err := op.OnApply(0); err != nil {
			op.OnFinish(err)
			return nil, err
		}
		op.OnFinish(nil)
		return &op.resp, nil
	}

	data, err := EncodeEntry(op)
	if err != nil {
		err = status.Wrap(status.Internal, err, "")
		op.OnFinish(err)
		return nil, err
	}
	result, err := r.apply(data)
	if err != nil {
		op.OnFinish(err)
		return nil, err
	}
	if result.err != nil {
		op.OnFinish(result.err)
		return nil, result.err
	}
	if resp, ok := result.resp.(*Resp); ok {
		op.resp = *resp
	}
	op.OnFinish(nil)
	return &op.resp, nil
}
