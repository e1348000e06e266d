package manusya

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"pain/internal/base"
	"pain/internal/logging"
	"pain/internal/status"
)

// HeartbeatSink receives this node's periodic heartbeats. In a full
// deployment it is the deva client; tests plug in whatever they like.
type HeartbeatSink interface {
	ManusyaHeartbeat(nodeID, addr string) error
}

// Service is the direct (non-replicated) chunk surface of a storage
// node, plus the heartbeat reporter. Mutations go straight to the
// bank; ordering per chunk comes from the chunk's own append contract.
type Service struct {
	bank   *Bank
	nodeID string
	addr   string

	sink      HeartbeatSink
	scheduler gocron.Scheduler

	logger *slog.Logger
}

func NewService(bank *Bank, nodeID, addr string, sink HeartbeatSink, logger *slog.Logger) *Service {
	return &Service{
		bank:   bank,
		nodeID: nodeID,
		addr:   addr,
		sink:   sink,
		logger: logging.Default(logger).With("component", "manusya"),
	}
}

func (s *Service) Bank() *Bank { return s.bank }

// CreateChunk allocates a fresh open chunk in the given partition.
func (s *Service) CreateChunk(partitionID uint32) (base.ObjectId, error) {
	chunk, err := s.bank.CreateChunk(ChunkOptions{}, partitionID)
	if err != nil {
		return base.ObjectId{}, err
	}
	return chunk.ChunkID(), nil
}

// AppendChunk appends buf at offset and returns the new size.
func (s *Service) AppendChunk(id base.ObjectId, buf []byte, offset uint64) (uint64, error) {
	chunk, err := s.bank.GetChunk(id)
	if err != nil {
		return 0, err
	}
	if err := chunk.Append(buf, offset); err != nil {
		return 0, err
	}
	return chunk.Size(), nil
}

// ReadChunk reads the intersection of [offset, offset+length) with the
// chunk's written bytes.
func (s *Service) ReadChunk(id base.ObjectId, offset, length uint64) ([]byte, error) {
	chunk, err := s.bank.GetChunk(id)
	if err != nil {
		return nil, err
	}
	return chunk.Read(offset, length)
}

// QueryChunk reports size and sealed state without changing either.
func (s *Service) QueryChunk(id base.ObjectId) (size uint64, sealed bool, err error) {
	chunk, err := s.bank.GetChunk(id)
	if err != nil {
		return 0, false, err
	}
	return chunk.Size(), chunk.State() == ChunkSealed, nil
}

// QueryAndSealChunk seals the chunk and returns its final size.
func (s *Service) QueryAndSealChunk(id base.ObjectId) (uint64, error) {
	chunk, err := s.bank.GetChunk(id)
	if err != nil {
		return 0, err
	}
	return chunk.QueryAndSeal()
}

func (s *Service) RemoveChunk(id base.ObjectId) error {
	return s.bank.RemoveChunk(id)
}

// ListChunk returns up to limit chunk ids >= start, in order.
func (s *Service) ListChunk(start base.ObjectId, limit uint32) []base.ObjectId {
	return s.bank.ListChunkIDs(start, limit)
}

// StartHeartbeats begins reporting this node to the sink on a fixed
// interval.
func (s *Service) StartHeartbeats(interval time.Duration) error {
	if s.sink == nil {
		return status.Errorf(status.InvalidArgument, "no heartbeat sink configured")
	}
	if s.scheduler != nil {
		return status.Errorf(status.FailedPrecondition, "heartbeats already started")
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create heartbeat scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.beat),
		gocron.WithName("manusya-heartbeat"),
	)
	if err != nil {
		return fmt.Errorf("schedule heartbeat job: %w", err)
	}
	s.scheduler = scheduler
	scheduler.Start()
	s.logger.Info("heartbeats started", "node", s.nodeID, "interval", interval)
	return nil
}

func (s *Service) beat() {
	if err := s.sink.ManusyaHeartbeat(s.nodeID, s.addr); err != nil {
		s.logger.Warn("heartbeat failed", "node", s.nodeID, "error", err)
	}
}

// Stop halts the heartbeat reporter.
func (s *Service) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	return err
}
