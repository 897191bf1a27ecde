// Package memtransport is an in-process cluster transport (C1) used by
// tests and local demos. It generalizes the in-memory harness idiom
// found across the example pack's simpler Paxos ports into something
// that can also inject latency, reordering, and loss, so callers can
// exercise the spec's delay/reorder scenarios (S3, S6) without a
// real network.
package memtransport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/wireproto"
)

// DeliverFunc is how a registrant receives an inbound message. Callers
// that need per-log single-threaded delivery (the common case) should
// wrap a *paxos.Log's Deliver method in an Executor.Enqueue closure
// themselves; Hub has no opinion on threading.
type DeliverFunc func(sender common.NodeId, msg wireproto.Message)

// Scenario configures fault injection. The zero value delivers
// everything immediately and in FIFO order.
type Scenario struct {
	DropRate           float64
	MinDelay, MaxDelay time.Duration
}

// Hub is the shared in-memory switchboard for one simulated cluster.
type Hub struct {
	mu        sync.Mutex
	nodes     []common.NodeId
	receivers map[common.NodeId]map[common.LogName]DeliverFunc
	scenario  Scenario
	rng       *rand.Rand
}

// NewHub creates a Hub for the given node set. A seed of 0 is fine for
// deterministic tests; pass a time-derived seed for fuzzing runs.
func NewHub(nodes []common.NodeId, scenario Scenario, seed int64) *Hub {
	h := &Hub{
		nodes:     append([]common.NodeId(nil), nodes...),
		receivers: make(map[common.NodeId]map[common.LogName]DeliverFunc),
		scenario:  scenario,
		rng:       rand.New(rand.NewSource(seed)),
	}
	return h
}

// Register binds fn to receive messages addressed to (node, logName).
func (h *Hub) Register(node common.NodeId, logName common.LogName, fn DeliverFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byLog, ok := h.receivers[node]
	if !ok {
		byLog = make(map[common.LogName]DeliverFunc)
		h.receivers[node] = byLog
	}
	byLog[logName] = fn
}

// Transport returns a paxos.Transport-shaped binding for (node, logName).
// It satisfies paxos.Transport structurally without importing that
// package, avoiding an import cycle between transport implementations
// and the core.
func (h *Hub) Transport(node common.NodeId, logName common.LogName) *Shim {
	return &Shim{hub: h, self: node, logName: logName}
}

// Shim implements paxos.Transport against one Hub, for one (node,
// logName) pair.
type Shim struct {
	hub     *Hub
	self    common.NodeId
	logName common.LogName
}

func (s *Shim) MyId() common.NodeId { return s.self }

func (s *Shim) ClusterSize() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.nodes)
}

func (s *Shim) Send(target common.NodeId, msg wireproto.Message) {
	s.hub.deliver(s.self, target, s.logName, msg)
}

func (s *Shim) Broadcast(msg wireproto.Message) {
	s.hub.mu.Lock()
	targets := append([]common.NodeId(nil), s.hub.nodes...)
	s.hub.mu.Unlock()
	for _, n := range targets {
		s.hub.deliver(s.self, n, s.logName, msg)
	}
}

func (h *Hub) deliver(from, to common.NodeId, logName common.LogName, msg wireproto.Message) {
	// rng is shared by every Shim, and Send/Broadcast may be called from
	// many goroutines at once, so every draw from it happens under mu.
	h.mu.Lock()
	drop := h.scenario.DropRate > 0 && h.rng.Float64() < h.scenario.DropRate
	delay := h.scenario.MinDelay
	if !drop && h.scenario.MaxDelay > h.scenario.MinDelay {
		delay += time.Duration(h.rng.Int63n(int64(h.scenario.MaxDelay - h.scenario.MinDelay)))
	}
	h.mu.Unlock()
	if drop {
		return
	}

	deliverNow := func() {
		h.mu.Lock()
		fn := h.receivers[to][logName]
		h.mu.Unlock()
		if fn != nil {
			fn(from, msg)
		}
	}

	if delay <= 0 {
		deliverNow()
		return
	}
	time.AfterFunc(delay, deliverNow)
}
