// Package server assembles nodes: it opens the per-group data
// directories, wires the consensus plumbing around an Rsm, and owns
// service lifecycle.
package server

import (
	"fmt"
	"strings"

	hraft "github.com/hashicorp/raft"
)

// Config is the environment a node consumes. Flag parsing lives in the
// commands; this struct is the boundary.
type Config struct {
	// NodeID uniquely identifies this node in its group.
	NodeID string

	// Group names the replication group.
	Group string

	// DataPath is the root for the per-group log, raft_meta, snapshot,
	// and db subdirectories.
	DataPath string

	// ListenAddr is the cluster port listen address (host:port).
	ListenAddr string

	// AdvertiseAddr is the address peers dial; defaults to the bound
	// listen address.
	AdvertiseAddr string

	// InitialConfiguration is the comma-separated peer list, each peer
	// "id@host:port". Empty means join an existing group later via the
	// membership RPCs.
	InitialConfiguration string

	// ElectionTimeoutMs is the follower election timeout.
	ElectionTimeoutMs int

	// SnapshotIntervalS is how often raft considers taking a snapshot.
	SnapshotIntervalS int

	// DisableCLI leaves the membership-management RPCs unregistered on
	// the cluster port.
	DisableCLI bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Group == "" {
		out.Group = "default"
	}
	if out.ElectionTimeoutMs <= 0 {
		out.ElectionTimeoutMs = 1000
	}
	if out.SnapshotIntervalS <= 0 {
		out.SnapshotIntervalS = 120
	}
	return out
}

// parsePeers parses "id@host:port,id@host:port" into a raft
// configuration.
func parsePeers(conf string) ([]hraft.Server, error) {
	if conf == "" {
		return nil, nil
	}
	var servers []hraft.Server
	for _, peer := range strings.Split(conf, ",") {
		peer = strings.TrimSpace(peer)
		if peer == "" {
			continue
		}
		id, addr, ok := strings.Cut(peer, "@")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer %q (want id@host:port)", peer)
		}
		servers = append(servers, hraft.Server{
			ID:      hraft.ServerID(id),
			Address: hraft.ServerAddress(addr),
		})
	}
	return servers, nil
}
