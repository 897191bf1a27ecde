// Package rdt is the replicated data-type runtime (C4): a thin framing
// layer over one consensus log (C3) that turns named operations into
// ordered, cluster-wide applied mutations against a shared, caller-owned
// state. Grounded on distributed_data_type.c's DistributedDataType,
// generalized from its single hard-coded dict of callbacks into a
// package any C5-shaped state machine can embed.
package rdt

import (
	"encoding/binary"
	"fmt"

	"github.com/go-kit/kit/log"

	"github.com/shardkv/consensuscore/common"
)

// OpHandler applies one decided operation against whatever state the
// caller closed over when registering it. It must not block on network
// I/O; it may take the host's foreground lock (§5).
type OpHandler func(payload []byte, additionalData interface{})

// Log is the subset of *paxos.Log the runtime needs: just enough to
// send framed operations onto the consensus log. Kept as an interface so
// rdt does not import paxos directly and tests can fake it.
type Log interface {
	Send(value []byte, additionalData interface{}) common.SlotId
}

// Runtime dispatches decided (op-name, payload) pairs to registered
// OpHandlers. Construct one per replicated data type, give its OnDecided
// method to the backing Log as its decision callback, and call Apply to
// propose new operations.
type Runtime struct {
	name   string
	log    Log
	logger log.Logger
	ops    map[string]OpHandler

	metrics *Metrics
}

// NewRuntime constructs a Runtime bound to backingLog. logger and
// metrics may both be nil.
func NewRuntime(name string, backingLog Log, logger log.Logger, metrics *Metrics) *Runtime {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Runtime{
		name:    name,
		log:     backingLog,
		logger:  log.With(logger, "rdt", name),
		ops:     make(map[string]OpHandler),
		metrics: metrics,
	}
}

// Register binds opName to handler. Registering the same name twice
// replaces the previous handler; callers normally register once at
// startup, before any Apply or decided value can reach OnDecided.
func (r *Runtime) Register(opName string, handler OpHandler) {
	r.ops[opName] = handler
}

// Apply frames (opName, payload) and sends it onto the backing log,
// returning the slot it was proposed into. The op is not yet applied to
// state; OnDecided applies it once (and if) this proposal, or a
// re-proposal of it, wins a majority.
func (r *Runtime) Apply(opName string, payload []byte, additionalData interface{}) common.SlotId {
	return r.log.Send(frameOp(opName, payload), additionalData)
}

// OnDecided is registered as the backing Log's on_decided callback. It
// unframes the op name, looks up its handler, and runs it.
func (r *Runtime) OnDecided(value []byte, additionalData interface{}) {
	opName, payload, err := unframeOp(value)
	if err != nil {
		r.logger.Log("msg", "malformed decided value", "error", err)
		return
	}
	handler, ok := r.ops[opName]
	if !ok {
		r.logger.Log("msg", "no handler registered for op", "op", opName)
		return
	}
	r.metrics.incApplied(opName)
	handler(payload, additionalData)
}

func frameOp(opName string, payload []byte) []byte {
	out := make([]byte, 8+len(opName)+len(payload))
	binary.LittleEndian.PutUint64(out, uint64(len(opName)))
	copy(out[8:], opName)
	copy(out[8+len(opName):], payload)
	return out
}

func unframeOp(value []byte) (opName string, payload []byte, err error) {
	if len(value) < 8 {
		return "", nil, fmt.Errorf("rdt: value too short to carry an op-name length prefix")
	}
	n := binary.LittleEndian.Uint64(value)
	if uint64(len(value)-8) < n {
		return "", nil, fmt.Errorf("rdt: op-name length %d exceeds remaining %d bytes", n, len(value)-8)
	}
	opName = string(value[8 : 8+n])
	payload = value[8+n:]
	return opName, payload, nil
}
