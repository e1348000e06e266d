package deva

import (
	"fmt"

	"pain/internal/rsm"
)

// opFactory reconstructs deva ops from their wire identity on apply.
// Any op type or version outside the known space means this replica
// cannot interpret the log; the Rsm treats that as fatal.
type opFactory struct {
	d *Deva
}

var _ rsm.OpFactory = opFactory{}

func (f opFactory) Create(opType uint32, version int32) (rsm.Op, error) {
	if version != OpVersion {
		return nil, fmt.Errorf("%w: deva op %d v%d", rsm.ErrBadOpVersion, opType, version)
	}
	d := f.d
	switch OpType(opType) {
	case OpCreateFile:
		return rsm.NewOp(opType, version, true, CreateFileRequest{}, d.processCreateFile), nil
	case OpCreateDir:
		return rsm.NewOp(opType, version, true, CreateDirRequest{}, d.processCreateDir), nil
	case OpRemoveFile:
		return rsm.NewOp(opType, version, true, RemoveFileRequest{}, d.processRemoveFile), nil
	case OpSealFile:
		return rsm.NewOp(opType, version, true, SealFileRequest{}, d.processSealFile), nil
	case OpCreateChunk:
		return rsm.NewOp(opType, version, true, CreateChunkRequest{}, d.processCreateChunk), nil
	case OpCheckInChunk:
		return rsm.NewOp(opType, version, true, CheckInChunkRequest{}, d.processCheckInChunk), nil
	case OpSealChunk:
		return rsm.NewOp(opType, version, true, SealChunkRequest{}, d.processSealChunk), nil
	case OpSealAndNewChunk:
		return rsm.NewOp(opType, version, true, SealAndNewChunkRequest{}, d.processSealAndNewChunk), nil
	case OpReadDir:
		return rsm.NewOp(opType, version, false, ReadDirRequest{}, d.processReadDir), nil
	case OpGetFileInfo:
		return rsm.NewOp(opType, version, false, GetFileInfoRequest{}, d.processGetFileInfo), nil
	case OpManusyaHeartbeat:
		return rsm.NewOp(opType, version, true, ManusyaHeartbeatRequest{}, d.processManusyaHeartbeat), nil
	case OpListManusya:
		return rsm.NewOp(opType, version, false, ListManusyaRequest{}, d.processListManusya), nil
	}
	return nil, fmt.Errorf("%w: deva op %d", rsm.ErrUnknownOp, opType)
}
