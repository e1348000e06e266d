// Package cluster manages the dedicated gRPC port a replication group
// uses for Raft consensus and membership RPCs. The port is separate
// from any service-facing surface.
//
// Lifecycle:
//  1. New(cfg)      — create the server and bind the listen port
//  2. Transport()   — get the raft.Transport for raft.NewRaft()
//  3. SetRaft(r)    — provide the Raft instance after creation
//  4. Start()       — register services and serve
//  5. Stop()        — graceful shutdown
package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	transport "github.com/Jille/raft-grpc-transport"
	"github.com/Jille/raft-grpc-leader-rpc/leaderhealth"
	"github.com/Jille/raftadmin"
	hraft "github.com/hashicorp/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"pain/internal/logging"
)

// Config holds cluster server configuration.
type Config struct {
	// ListenAddr is the listen address for the cluster gRPC port.
	ListenAddr string

	// LocalAddr is the advertised address other nodes use to reach this
	// node. Defaults to the bound listen address if empty.
	LocalAddr string

	// Group names the replication group, used for leader-health
	// service registration.
	Group string

	// DisableAdmin leaves the membership-management RPCs unregistered.
	DisableAdmin bool

	// Logger for structured logging.
	Logger *slog.Logger
}

// Server manages the cluster gRPC port and the Raft transport.
type Server struct {
	cfg       Config
	grpcSrv   *grpc.Server
	tm        *transport.Manager
	listener  net.Listener
	localAddr string
	logger    *slog.Logger

	// Set after Raft is created, before Start().
	raft *hraft.Raft
}

// New creates a cluster Server and binds the listen port immediately,
// so resolved :0 ports are known before the transport advertises them.
func New(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen cluster port %s: %w", cfg.ListenAddr, err)
	}

	localAddr := cfg.LocalAddr
	if localAddr == "" {
		localAddr = ln.Addr().String()
	}

	return &Server{
		cfg:       cfg,
		listener:  ln,
		localAddr: localAddr,
		logger:    logging.Default(cfg.Logger).With("component", "cluster"),
	}, nil
}

// Transport creates the raft-grpc-transport Manager and returns a
// raft.Transport for raft.NewRaft(). Must be called before Start().
func (s *Server) Transport() hraft.Transport {
	s.tm = transport.New(
		hraft.ServerAddress(s.localAddr),
		[]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	)
	return s.tm.Transport()
}

// SetRaft provides the Raft instance after it is created.
// Must be called before Start().
func (s *Server) SetRaft(r *hraft.Raft) {
	s.raft = r
}

// Start creates the gRPC server, registers all services, and begins
// serving. The listener was already bound in New().
func (s *Server) Start() error {
	s.grpcSrv = grpc.NewServer()

	// Raft transport (AppendEntries, RequestVote, InstallSnapshot, ...).
	s.tm.Register(s.grpcSrv)

	if s.raft != nil {
		if !s.cfg.DisableAdmin {
			raftadmin.Register(s.grpcSrv, s.raft)
		}
		leaderhealth.Setup(s.raft, s.grpcSrv, []string{s.cfg.Group})
	}

	s.logger.Info("cluster gRPC server starting", "addr", s.listener.Addr().String())

	go func() {
		if err := s.grpcSrv.Serve(s.listener); err != nil {
			s.logger.Error("cluster gRPC server error", "error", err)
		}
	}()

	return nil
}

// AddVoter adds a node to the group as a voter. Must run on the
// leader; blocks until the change commits or the timeout expires.
func (s *Server) AddVoter(id, addr string, timeout time.Duration) error {
	if s.raft == nil {
		return errors.New("raft not initialized")
	}
	return s.raft.AddVoter(hraft.ServerID(id), hraft.ServerAddress(addr), 0, timeout).Error()
}

// AddNonvoter adds a node that replicates the log without voting.
func (s *Server) AddNonvoter(id, addr string, timeout time.Duration) error {
	if s.raft == nil {
		return errors.New("raft not initialized")
	}
	return s.raft.AddNonvoter(hraft.ServerID(id), hraft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer drops a node from the group configuration.
func (s *Server) RemoveServer(id string, timeout time.Duration) error {
	if s.raft == nil {
		return errors.New("raft not initialized")
	}
	return s.raft.RemoveServer(hraft.ServerID(id), 0, timeout).Error()
}

// LeaderInfo returns the current leader's address and server id, or
// empty strings if there is no known leader.
func (s *Server) LeaderInfo() (address string, id string) {
	if s.raft == nil {
		return "", ""
	}
	addr, serverID := s.raft.LeaderWithID()
	return string(addr), string(serverID)
}

// Stop gracefully stops the cluster gRPC server with a deadline.
func (s *Server) Stop() {
	if s.grpcSrv == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Debug("cluster gRPC graceful stop timed out, forcing")
		s.grpcSrv.Stop()
	}

	if s.tm != nil {
		_ = s.tm.Close()
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
