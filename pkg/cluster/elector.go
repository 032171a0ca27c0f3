// Package cluster provides Raft-backed leader election used to gate
// single-owner background work — currently only the retention janitor
// (spec §4.8) — to exactly one instance in a multi-instance deployment.
// The engine's durable state lives in the relational journal, shared
// across instances by the database itself, so this Raft group carries no
// application log: its only job is deciding who is leader.
package cluster

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Elector wraps a Raft group used purely for leadership, satisfying
// metrics.LeaderChecker and retention.LeaderChecker.
type Elector struct {
	instanceID string
	bindAddr   string
	dataDir    string
	raft       *raft.Raft
	fsm        *noopFSM
	stopWatch  chan struct{}
}

// New builds an Elector for instanceID, listening for Raft traffic on
// bindAddr and storing its log/snapshot state under dataDir.
func New(instanceID, bindAddr, dataDir string) *Elector {
	return &Elector{
		instanceID: instanceID,
		bindAddr:   bindAddr,
		dataDir:    dataDir,
		fsm:        &noopFSM{},
	}
}

// Bootstrap starts a fresh single-node Raft cluster with this instance as
// its only member. Subsequent instances call Join instead.
func (e *Elector) Bootstrap() error {
	r, err := e.newRaft()
	if err != nil {
		return err
	}
	e.raft = r

	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(e.instanceID), Address: raft.ServerAddress(e.bindAddr)},
		},
	}
	future := e.raft.BootstrapCluster(cfg)
	if err := future.Error(); err != nil {
		return fmt.Errorf("cluster: bootstrap failed: %w", err)
	}
	e.watchLeadership()
	return nil
}

// Join starts this instance's Raft node and returns once it is running;
// the caller is responsible for having the current leader call AddVoter
// for this instance, since a follower cannot add itself to the
// configuration.
func (e *Elector) Join() error {
	r, err := e.newRaft()
	if err != nil {
		return err
	}
	e.raft = r
	e.watchLeadership()
	return nil
}

// watchLeadership mirrors raft.Raft's LeaderCh onto metrics.ClusterIsLeader
// and a log line, so leadership flips are observable without polling.
func (e *Elector) watchLeadership() {
	e.stopWatch = make(chan struct{})
	leaderCh := e.raft.LeaderCh()
	go func() {
		for {
			select {
			case isLeader := <-leaderCh:
				if isLeader {
					metrics.ClusterIsLeader.Set(1)
					log.WithInstance(e.instanceID).Info().Msg("cluster: acquired retention-janitor leadership")
				} else {
					metrics.ClusterIsLeader.Set(0)
					log.WithInstance(e.instanceID).Info().Msg("cluster: lost retention-janitor leadership")
				}
			case <-e.stopWatch:
				return
			}
		}
	}()
}

func (e *Elector) newRaft() (*raft.Raft, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(e.instanceID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cluster: create data dir: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", e.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(e.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(e.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("cluster: create raft: %w", err)
	}
	return r, nil
}

// AddVoter adds instanceID at address to the Raft configuration. Only the
// current leader can do this; callers should route join requests to the
// leader (e.g. via LeaderAddr) rather than calling AddVoter on a follower.
func (e *Elector) AddVoter(instanceID, address string) error {
	if e.raft == nil {
		return fmt.Errorf("cluster: raft not started")
	}
	if !e.IsLeader() {
		return fmt.Errorf("cluster: not the leader, current leader is %s", e.LeaderAddr())
	}
	future := e.raft.AddVoter(raft.ServerID(instanceID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this instance currently holds Raft leadership.
// Satisfies metrics.LeaderChecker and retention.LeaderChecker.
func (e *Elector) IsLeader() bool {
	if e.raft == nil {
		return false
	}
	return e.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader, empty
// if none is currently elected.
func (e *Elector) LeaderAddr() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}

// Shutdown stops this instance's Raft participation.
func (e *Elector) Shutdown() error {
	if e.stopWatch != nil {
		close(e.stopWatch)
	}
	if e.raft == nil {
		return nil
	}
	future := e.raft.Shutdown()
	if err := future.Error(); err != nil {
		return fmt.Errorf("cluster: raft shutdown: %w", err)
	}
	return nil
}
