package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"pain/internal/cluster"
	"pain/internal/logging"
	"pain/internal/rsm"
)

// groupDirs is the persisted layout of one replication group under
// data_path: log/ and raft_meta/ for raft-boltdb, snapshot/ for the
// file snapshot store, db/ for the container-owned store.
type groupDirs struct {
	log      string
	raftMeta string
	snapshot string
	db       string
}

func makeGroupDirs(dataPath, group string) (groupDirs, error) {
	root := filepath.Join(dataPath, group)
	dirs := groupDirs{
		log:      filepath.Join(root, "log"),
		raftMeta: filepath.Join(root, "raft_meta"),
		snapshot: filepath.Join(root, "snapshot"),
		db:       filepath.Join(root, "db"),
	}
	for _, dir := range []string{dirs.log, dirs.raftMeta, dirs.snapshot, dirs.db} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return groupDirs{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// raftNode holds the consensus plumbing of one group.
type raftNode struct {
	raft        *hraft.Raft
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore
}

// buildRaft wires a raft instance around the given Rsm: durable log
// and stable stores, file snapshot store, the cluster port transport,
// and first-boot bootstrap from the initial configuration.
func buildRaft(cfg Config, dirs groupDirs, machine *rsm.Rsm, clusterSrv *cluster.Server, logger *slog.Logger) (*raftNode, error) {
	conf := hraft.DefaultConfig()
	conf.LocalID = hraft.ServerID(cfg.NodeID)
	conf.ElectionTimeout = time.Duration(cfg.ElectionTimeoutMs) * time.Millisecond
	conf.HeartbeatTimeout = conf.ElectionTimeout
	conf.LeaderLeaseTimeout = conf.ElectionTimeout / 2
	conf.SnapshotInterval = time.Duration(cfg.SnapshotIntervalS) * time.Second
	conf.NotifyCh = machine.NotifyCh()
	conf.Logger = logging.Hclog(logger, "raft")

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dirs.log, "log.db"))
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dirs.raftMeta, "stable.db"))
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapStore, err := hraft.NewFileSnapshotStoreWithLogger(dirs.snapshot, 2, logging.Hclog(logger, "snapshot"))
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	transport := clusterSrv.Transport()

	hasState, err := hraft.HasExistingState(logStore, stableStore, snapStore)
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return nil, fmt.Errorf("check existing raft state: %w", err)
	}

	r, err := hraft.NewRaft(conf, machine, logStore, stableStore, snapStore, transport)
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return nil, fmt.Errorf("create raft: %w", err)
	}

	if !hasState {
		servers, err := parsePeers(cfg.InitialConfiguration)
		if err != nil {
			return nil, err
		}
		if len(servers) > 0 {
			fut := r.BootstrapCluster(hraft.Configuration{Servers: servers})
			if err := fut.Error(); err != nil {
				return nil, fmt.Errorf("bootstrap group %s: %w", cfg.Group, err)
			}
		}
	}

	machine.SetRaft(r)
	machine.Start()
	clusterSrv.SetRaft(r)

	return &raftNode{raft: r, logStore: logStore, stableStore: stableStore}, nil
}

func (n *raftNode) close() {
	if n.logStore != nil {
		_ = n.logStore.Close()
	}
	if n.stableStore != nil {
		_ = n.stableStore.Close()
	}
}
