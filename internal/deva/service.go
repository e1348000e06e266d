package deva

import (
	"pain/internal/base"
	"pain/internal/rsm"
)

// Service is the typed front door to a replicated Deva: writes are
// framed as ops and submitted through the Rsm, reads are served from
// leader state. It plays the same role the config raft store plays for
// the config plane: one struct holding both the consensus handle and
// the container, so ops never need a back-reference into the Rsm.
type Service struct {
	rsm       *rsm.Rsm
	deva      *Deva
	partition uint32
}

func NewService(r *rsm.Rsm, d *Deva, partition uint32) *Service {
	return &Service{rsm: r, deva: d, partition: partition}
}

// Rsm exposes the underlying consensus handle for lifecycle control.
func (s *Service) Rsm() *rsm.Rsm { return s.rsm }

// IsLeader reports whether this node can serve mutations.
func (s *Service) IsLeader() bool { return s.rsm.IsLeader() }

// Fresh object ids are generated here, before the op enters the log,
// so every replica applies the same identity.

func (s *Service) CreateFile(path string) (*CreateFileResponse, error) {
	req := CreateFileRequest{Path: path, FileID: base.GenerateObjectId(s.partition)}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpCreateFile), OpVersion, true, req, s.deva.processCreateFile))
}

func (s *Service) CreateDir(path string) (*CreateDirResponse, error) {
	req := CreateDirRequest{Path: path, DirID: base.GenerateObjectId(s.partition)}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpCreateDir), OpVersion, true, req, s.deva.processCreateDir))
}

func (s *Service) RemoveFile(path string) error {
	req := RemoveFileRequest{Path: path}
	_, err := rsm.Submit(s.rsm, rsm.NewOp(uint32(OpRemoveFile), OpVersion, true, req, s.deva.processRemoveFile))
	return err
}

func (s *Service) SealFile(fileID base.ObjectId) error {
	req := SealFileRequest{FileID: fileID}
	_, err := rsm.Submit(s.rsm, rsm.NewOp(uint32(OpSealFile), OpVersion, true, req, s.deva.processSealFile))
	return err
}

func (s *Service) CreateChunk(fileID base.ObjectId) (*CreateChunkResponse, error) {
	req := CreateChunkRequest{FileID: fileID, ChunkID: base.GenerateObjectId(s.partition)}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpCreateChunk), OpVersion, true, req, s.deva.processCreateChunk))
}

func (s *Service) CheckInChunk(fileID, chunkID base.ObjectId, size uint64) error {
	req := CheckInChunkRequest{FileID: fileID, ChunkID: chunkID, Size: size}
	_, err := rsm.Submit(s.rsm, rsm.NewOp(uint32(OpCheckInChunk), OpVersion, true, req, s.deva.processCheckInChunk))
	return err
}

func (s *Service) SealChunk(fileID, chunkID base.ObjectId, size uint64) error {
	req := SealChunkRequest{FileID: fileID, ChunkID: chunkID, Size: size}
	_, err := rsm.Submit(s.rsm, rsm.NewOp(uint32(OpSealChunk), OpVersion, true, req, s.deva.processSealChunk))
	return err
}

func (s *Service) SealAndNewChunk(fileID base.ObjectId, size uint64) (*SealAndNewChunkResponse, error) {
	req := SealAndNewChunkRequest{FileID: fileID, Size: size, NewChunkID: base.GenerateObjectId(s.partition)}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpSealAndNewChunk), OpVersion, true, req, s.deva.processSealAndNewChunk))
}

func (s *Service) ReadDir(path string) (*ReadDirResponse, error) {
	req := ReadDirRequest{Path: path}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpReadDir), OpVersion, false, req, s.deva.processReadDir))
}

func (s *Service) GetFileInfo(path string) (*GetFileInfoResponse, error) {
	req := GetFileInfoRequest{Path: path}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpGetFileInfo), OpVersion, false, req, s.deva.processGetFileInfo))
}

func (s *Service) ManusyaHeartbeat(nodeID, addr string) error {
	req := ManusyaHeartbeatRequest{NodeID: nodeID, Addr: addr}
	_, err := rsm.Submit(s.rsm, rsm.NewOp(uint32(OpManusyaHeartbeat), OpVersion, true, req, s.deva.processManusyaHeartbeat))
	return err
}

func (s *Service) ListManusya() (*ListManusyaResponse, error) {
	req := ListManusyaRequest{}
	return rsm.Submit(s.rsm, rsm.NewOp(uint32(OpListManusya), OpVersion, false, req, s.deva.processListManusya))
}
