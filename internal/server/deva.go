package server

import (
	"fmt"
	"log/slog"
	"time"

	"pain/internal/cluster"
	"pain/internal/deva"
	"pain/internal/logging"
	"pain/internal/rsm"
	"pain/internal/store"
)

const applyTimeout = 10 * time.Second

// DevaServer is one metadata node: a bbolt-backed Deva container
// hosted by an Rsm behind a cluster port.
type DevaServer struct {
	cfg     Config
	st      *store.BoltStore
	deva    *deva.Deva
	machine *rsm.Rsm
	node    *raftNode
	cluster *cluster.Server
	service *deva.Service

	logger *slog.Logger
}

// NewDevaServer opens the group's data directories and assembles the
// node. Start completes consensus wiring.
func NewDevaServer(cfg Config, logger *slog.Logger) (*DevaServer, error) {
	cfg = cfg.withDefaults()
	logger = logging.Default(logger)

	dirs, err := makeGroupDirs(cfg.DataPath, cfg.Group)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenBoltStore(dirs.db)
	if err != nil {
		return nil, err
	}

	container := deva.New(st, logger)
	machine := rsm.New(cfg.Group, container, applyTimeout, logger)

	clusterSrv, err := cluster.New(cluster.Config{
		ListenAddr:   cfg.ListenAddr,
		LocalAddr:    cfg.AdvertiseAddr,
		Group:        cfg.Group,
		DisableAdmin: cfg.DisableCLI,
		Logger:       logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	node, err := buildRaft(cfg, dirs, machine, clusterSrv, logger)
	if err != nil {
		clusterSrv.Stop()
		st.Close()
		return nil, err
	}

	return &DevaServer{
		cfg:     cfg,
		st:      st,
		deva:    container,
		machine: machine,
		node:    node,
		cluster: clusterSrv,
		service: deva.NewService(machine, container, 0),
		logger:  logger.With("component", "deva-server"),
	}, nil
}

// Service is the typed metadata surface.
func (s *DevaServer) Service() *deva.Service { return s.service }

// Cluster exposes the membership surface of the group.
func (s *DevaServer) Cluster() *cluster.Server { return s.cluster }

// Start begins serving the cluster port.
func (s *DevaServer) Start() error {
	if err := s.cluster.Start(); err != nil {
		return fmt.Errorf("start cluster port: %w", err)
	}
	s.logger.Info("deva node started",
		"node", s.cfg.NodeID, "group", s.cfg.Group, "addr", s.cluster.Addr())
	return nil
}

// Stop shuts the node down: consensus first, then the port and stores.
func (s *DevaServer) Stop() error {
	s.machine.Shutdown()
	err := s.machine.Join()
	s.cluster.Stop()
	s.node.close()
	if cerr := s.st.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("deva node stopped", "node", s.cfg.NodeID)
	return err
}
