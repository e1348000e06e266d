package rsm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"
	"github.com/klauspost/compress/zstd"

	"pain/internal/logging"
	"pain/internal/status"
)

// Rsm wraps one raft group hosting one container. It implements
// raft.FSM: committed entries are decoded through the container's op
// factory and applied in log order, exactly one apply in progress per
// group. Leader and follower run the identical factory path, so the
// same log prefix produces the same state everywhere.
//
// Lifecycle mirrors the cluster server's: build the Rsm first (raft
// needs the FSM), create the raft instance around it, then SetRaft
// and Start.
type Rsm struct {
	group        string
	container    Container
	applyTimeout time.Duration
	logger       *slog.Logger

	raft       *raft.Raft
	leaderTerm atomic.Int64

	mu          sync.Mutex
	notifyCh    chan bool
	quitCh      chan struct{}
	shutdownFut raft.Future
	watcherDone chan struct{}
}

var _ raft.FSM = (*Rsm)(nil)

// New creates an Rsm for the given group. The container owns all
// domain state.
func New(group string, container Container, applyTimeout time.Duration, logger *slog.Logger) *Rsm {
	r := &Rsm{
		group:        group,
		container:    container,
		applyTimeout: applyTimeout,
		logger:       logging.Default(logger).With("component", "rsm", "group", group),
		notifyCh:     make(chan bool, 8),
		quitCh:       make(chan struct{}),
	}
	r.leaderTerm.Store(-1)
	return r
}

// NotifyCh is the leadership notification channel to wire into
// raft.Config.NotifyCh before creating the raft instance.
func (r *Rsm) NotifyCh() chan bool { return r.notifyCh }

// Container returns the hosted container.
func (r *Rsm) Container() Container { return r.container }

// SetRaft provides the raft instance after it is created.
func (r *Rsm) SetRaft(rf *raft.Raft) { r.raft = rf }

// Start begins watching leadership changes. Call after SetRaft.
func (r *Rsm) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcherDone != nil {
		return
	}
	r.watcherDone = make(chan struct{})
	go r.watchLeadership()
}

// watchLeadership maintains leaderTerm from raft's notify channel.
// A negative term means this node is not the leader.
func (r *Rsm) watchLeadership() {
	defer close(r.watcherDone)
	for {
		select {
		case <-r.quitCh:
			return
		case isLeader := <-r.notifyCh:
			if isLeader {
				term := int64(-1)
				if t, err := strconv.ParseInt(r.raft.Stats()["term"], 10, 64); err == nil {
					term = t
				}
				r.leaderTerm.Store(term)
				r.logger.Info("leadership acquired", "term", term)
			} else {
				r.leaderTerm.Store(-1)
				r.logger.Info("leadership lost")
			}
		}
	}
}

// IsLeader reports whether this node currently leads the group.
func (r *Rsm) IsLeader() bool {
	return r.raft != nil && r.raft.State() == raft.Leader
}

// LeaderTerm returns the current leader term, negative when this node
// is not the leader.
func (r *Rsm) LeaderTerm() int64 { return r.leaderTerm.Load() }

// Shutdown initiates raft shutdown. Join waits for it to complete.
func (r *Rsm) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raft != nil && r.shutdownFut == nil {
		r.shutdownFut = r.raft.Shutdown()
		close(r.quitCh)
	}
}

func (r *Rsm) Join() error {
	r.mu.Lock()
	fut := r.shutdownFut
	done := r.watcherDone
	r.mu.Unlock()
	if done != nil {
		<-done
	}
	if fut == nil {
		return nil
	}
	return fut.Error()
}

// applyResult carries an applied op's outcome back to the submitter
// through the raft future.
type applyResult struct {
	resp any
	err  error
}

// apply submits an encoded entry to consensus and waits for it to be
// applied locally. Followers are rejected; an in-flight entry is never
// cancelled once submitted.
func (r *Rsm) apply(data []byte) (applyResult, error) {
	if r.raft == nil {
		return applyResult{}, status.Errorf(status.Unavailable, "raft not initialized")
	}
	fut := r.raft.Apply(data, r.applyTimeout)
	if err := fut.Error(); err != nil {
		return applyResult{}, mapRaftError(err)
	}
	result, ok := fut.Response().(applyResult)
	if !ok {
		return applyResult{}, status.Errorf(status.Internal, "unexpected apply response %T", fut.Response())
	}
	return result, nil
}

func mapRaftError(err error) error {
	switch {
	case errors.Is(err, raft.ErrNotLeader), errors.Is(err, raft.ErrLeadershipLost),
		errors.Is(err, raft.ErrLeadershipTransferInProgress):
		return status.Wrap(status.FailedPrecondition, err, "not the leader")
	case errors.Is(err, raft.ErrEnqueueTimeout):
		return status.Wrap(status.DeadlineExceeded, err, "")
	case errors.Is(err, raft.ErrRaftShutdown):
		return status.Wrap(status.Unavailable, err, "")
	}
	return status.Wrap(status.Unavailable, err, "")
}

// Apply implements raft.FSM. Every committed entry, local or not, is
// reconstructed through the op factory; a domain error from processing
// is recorded in the result and the entry still counts as applied.
//
// An entry that cannot be decoded means the log is corrupt; continuing
// would fork this replica's state, so it aborts instead.
func (r *Rsm) Apply(l *raft.Log) any {
	opType, version, payload, err := DecodeEntry(l.Data)
	if err != nil {
		panic(fmt.Sprintf("rsm %s: corrupted log entry at index %d: %v", r.group, l.Index, err))
	}
	op, err := r.container.OpFactory().Create(opType, version)
	if err != nil {
		panic(fmt.Sprintf("rsm %s: cannot reconstruct op %d v%d at index %d: %v", r.group, opType, version, l.Index, err))
	}
	if err := op.DecodePayload(payload); err != nil {
		panic(fmt.Sprintf("rsm %s: cannot decode op %d payload at index %d: %v", r.group, opType, l.Index, err))
	}
	if err := op.OnApply(l.Index); err != nil {
		return applyResult{err: err}
	}
	return applyResult{resp: op.Response()}
}

// Snapshot implements raft.FSM. Raft guarantees no Apply runs
// concurrently, so the container image is a consistent cut; the
// (compressing) write to the sink happens later, off the apply path.
func (r *Rsm) Snapshot() (raft.FSMSnapshot, error) {
	data, err := r.container.SaveSnapshot()
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore implements raft.FSM. A leader never loads a snapshot; the
// node refuses to serve rather than clobber live state.
func (r *Rsm) Restore(rc io.ReadCloser) error {
	defer func() { _ = rc.Close() }()

	if r.IsLeader() {
		return fmt.Errorf("rsm %s: leader refuses snapshot restore", r.group)
	}
	zr, err := zstd.NewReader(rc)
	if err != nil {
		return fmt.Errorf("open snapshot stream: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := r.container.LoadSnapshot(data); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	r.logger.Info("snapshot restored", "bytes", len(data))
	return nil
}

// fsmSnapshot holds a container image and streams it zstd-compressed.
type fsmSnapshot struct {
	data []byte
}

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		zw, err := zstd.NewWriter(sink)
		if err != nil {
			return err
		}
		if _, err := zw.Write(s.data); err != nil {
			_ = zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		_ = sink.Cancel()
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func (s *fsmSnapshot) Release() {}
