// Package refreshcoord elects a single leader among a set of redundant
// DNS-refresher instances (spec §4.4's refresher, run per-process in an
// active/standby node pair) so only the leader drives background
// re-queries - standbys still serve cached answers but do not hammer
// upstream servers with duplicate refresh traffic.
//
// Grounded on poc/raft/{main,fsm}.go's bootstrap/transport/store wiring
// and pkg/manager/manager.go's Bootstrap (tuned timeouts for fast
// failover); this package narrows that to a single FSM command
// ("claim-leader tick") instead of a general key-value store, since
// refresh coordination needs only "who is leader now", not replicated
// state.
package refreshcoord

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/log"
)

// Config configures one Coordinator node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// HeartbeatTimeout/ElectionTimeout/LeaderLeaseTimeout tune failover
	// speed; zero values fall back to raft.DefaultConfig()'s WAN-safe
	// defaults (per pkg/manager/manager.go's Bootstrap, tightened for
	// LAN-local EPC control-plane pairs).
	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	LeaderLeaseTimeout time.Duration
}

// Coordinator wraps a raft.Raft instance whose only purpose is
// leader election: IsLeader reports whether this process should be
// driving the DNS refresher right now.
type Coordinator struct {
	cfg  Config
	raft *raft.Raft
	fsm  *tickFSM
}

// New creates a Coordinator and starts its Raft instance as a
// single-node cluster. Join additional voters afterward via AddVoter for
// an active/standby pair.
func New(cfg Config) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("create data dir: %w", err))
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	if cfg.HeartbeatTimeout > 0 {
		raftCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	}
	if cfg.ElectionTimeout > 0 {
		raftCfg.ElectionTimeout = cfg.ElectionTimeout
	}
	if cfg.LeaderLeaseTimeout > 0 {
		raftCfg.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("resolve bind addr: %w", err))
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("create transport: %w", err))
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("create snapshot store: %w", err))
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("create log store: %w", err))
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("create stable store: %w", err))
	}

	fsm := newTickFSM()
	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("create raft instance: %w", err))
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
	}
	if err := r.BootstrapCluster(configuration).Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, epcerr.New(epcerr.KindFatal, "refreshcoord.New", fmt.Errorf("bootstrap cluster: %w", err))
	}

	log.WithComponent("refreshcoord").Info().Str("node_id", cfg.NodeID).Str("addr", cfg.BindAddr).Msg("raft coordinator started")
	return &Coordinator{cfg: cfg, raft: r, fsm: fsm}, nil
}

// AddVoter adds a standby peer to this cluster; called on the current
// leader.
func (c *Coordinator) AddVoter(nodeID, addr string) error {
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return epcerr.New(epcerr.KindExternalDependency, "refreshcoord.AddVoter", err)
	}
	return nil
}

// IsLeader reports whether this node currently holds leadership and
// should be the one driving the DNS refresher.
func (c *Coordinator) IsLeader() bool { return c.raft.State() == raft.Leader }

// LeaderAddr returns the current leader's Raft bind address, or "" if no
// leader is known.
func (c *Coordinator) LeaderAddr() string {
	addr, _ := c.raft.LeaderWithID()
	return string(addr)
}

// Tick replicates a liveness heartbeat through the Raft log; only the
// leader can apply successfully, which doubles as a leadership-still-held
// check without racing on State() alone.
func (c *Coordinator) Tick() error {
	future := c.raft.Apply(tickCommand(time.Now().Unix()), 5*time.Second)
	if err := future.Error(); err != nil {
		return epcerr.New(epcerr.KindExternalDependency, "refreshcoord.Tick", err)
	}
	return nil
}

// LastTick returns the unix timestamp of the most recently committed
// Tick, as observed by the FSM on this node.
func (c *Coordinator) LastTick() int64 { return c.fsm.lastTick() }

// Shutdown gracefully stops the Raft instance.
func (c *Coordinator) Shutdown() error {
	if err := c.raft.Shutdown().Error(); err != nil {
		return epcerr.New(epcerr.KindFatal, "refreshcoord.Shutdown", err)
	}
	return nil
}
