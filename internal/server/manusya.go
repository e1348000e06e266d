package server

import (
	"fmt"
	"log/slog"
	"time"

	"pain/internal/base"
	"pain/internal/cluster"
	"pain/internal/logging"
	"pain/internal/manusya"
	"pain/internal/rsm"
	"pain/internal/store"
)

// ManusyaConfig extends the group configuration with the storage
// node's own knobs.
type ManusyaConfig struct {
	Config

	// StoreURI selects the chunk store backend: "memory://" or
	// "local://<dir>".
	StoreURI string

	// HeartbeatIntervalS is how often the node reports itself to the
	// metadata plane. Zero disables the reporter.
	HeartbeatIntervalS int

	// EnableRegistry replicates chunk registry membership through a
	// raft group of its own, so membership survives replica restarts.
	EnableRegistry bool
}

// ManusyaServer is one storage node: the bank and its direct service
// surface, the heartbeat reporter, and (optionally) the replicated
// chunk registry.
type ManusyaServer struct {
	cfg     ManusyaConfig
	st      store.Store
	bank    *manusya.Bank
	service *manusya.Service

	// Registry plumbing, nil unless EnableRegistry.
	registry *manusya.Registry
	machine  *rsm.Rsm
	node     *raftNode
	cluster  *cluster.Server

	logger *slog.Logger
}

// NewManusyaServer opens the chunk store, loads the bank, and, when
// the registry is enabled, assembles its raft group.
func NewManusyaServer(cfg ManusyaConfig, sink manusya.HeartbeatSink, logger *slog.Logger) (*ManusyaServer, error) {
	cfg.Config = cfg.Config.withDefaults()
	logger = logging.Default(logger)
	if cfg.StoreURI == "" {
		cfg.StoreURI = "memory://"
	}

	st, err := store.Open(cfg.StoreURI)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	bank := manusya.NewBank(st, logger)
	if err := bank.Load(); err != nil {
		st.Close()
		return nil, fmt.Errorf("load bank: %w", err)
	}

	s := &ManusyaServer{
		cfg:     cfg,
		st:      st,
		bank:    bank,
		service: manusya.NewService(bank, cfg.NodeID, cfg.AdvertiseAddr, sink, logger),
		logger:  logger.With("component", "manusya-server"),
	}

	if cfg.EnableRegistry {
		if err := s.buildRegistry(logger); err != nil {
			st.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *ManusyaServer) buildRegistry(logger *slog.Logger) error {
	dirs, err := makeGroupDirs(s.cfg.DataPath, s.cfg.Group)
	if err != nil {
		return err
	}
	s.registry = manusya.NewRegistry()
	s.machine = rsm.New(s.cfg.Group, s.registry, applyTimeout, logger)

	clusterSrv, err := cluster.New(cluster.Config{
		ListenAddr:   s.cfg.ListenAddr,
		LocalAddr:    s.cfg.AdvertiseAddr,
		Group:        s.cfg.Group,
		DisableAdmin: s.cfg.DisableCLI,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	node, err := buildRaft(s.cfg.Config, dirs, s.machine, clusterSrv, logger)
	if err != nil {
		clusterSrv.Stop()
		return err
	}
	s.cluster = clusterSrv
	s.node = node
	return nil
}

// Service is the direct chunk surface.
func (s *ManusyaServer) Service() *manusya.Service { return s.service }

// Registry returns the replicated membership container, nil when
// disabled.
func (s *ManusyaServer) Registry() *manusya.Registry { return s.registry }

// RegisterChunk records a chunk id in the replicated registry.
func (s *ManusyaServer) RegisterChunk(id base.ObjectId) error {
	if s.machine == nil {
		return fmt.Errorf("registry not enabled")
	}
	req := manusya.RegisterChunkRequest{ChunkID: id}
	op := rsm.NewOp[manusya.RegisterChunkRequest, manusya.RegisterChunkResponse](
		uint32(manusya.OpRegisterChunk), manusya.RegistryOpVersion, true, req, nil)
	_, err := rsm.Submit(s.machine, op)
	return err
}

// DeregisterChunk drops a chunk id from the replicated registry.
func (s *ManusyaServer) DeregisterChunk(id base.ObjectId) error {
	if s.machine == nil {
		return fmt.Errorf("registry not enabled")
	}
	req := manusya.DeregisterChunkRequest{ChunkID: id}
	op := rsm.NewOp[manusya.DeregisterChunkRequest, manusya.DeregisterChunkResponse](
		uint32(manusya.OpDeregisterChunk), manusya.RegistryOpVersion, true, req, nil)
	_, err := rsm.Submit(s.machine, op)
	return err
}

// Start begins serving: the cluster port when the registry is enabled,
// then the heartbeat reporter.
func (s *ManusyaServer) Start() error {
	if s.cluster != nil {
		if err := s.cluster.Start(); err != nil {
			return fmt.Errorf("start cluster port: %w", err)
		}
	}
	if s.cfg.HeartbeatIntervalS > 0 {
		interval := time.Duration(s.cfg.HeartbeatIntervalS) * time.Second
		if err := s.service.StartHeartbeats(interval); err != nil {
			return err
		}
	}
	s.logger.Info("manusya node started", "node", s.cfg.NodeID, "store", s.cfg.StoreURI)
	return nil
}

// Stop shuts everything down in reverse order.
func (s *ManusyaServer) Stop() error {
	err := s.service.Stop()
	if s.machine != nil {
		s.machine.Shutdown()
		if jerr := s.machine.Join(); err == nil {
			err = jerr
		}
	}
	if s.cluster != nil {
		s.cluster.Stop()
	}
	if s.node != nil {
		s.node.close()
	}
	if cerr := s.st.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("manusya node stopped", "node", s.cfg.NodeID)
	return err
}
