// Package paxos implements the co-resident proposer/acceptor/learner
// Paxos instance (C2) and the named, ordered consensus log that drives
// many instances to form a replicated log (C3). There is no distinguished
// leader: any shard may call Log.Send at any time, and every shard runs
// every role for every instance it has heard of.
//
// Grounded on the RedisGears consensus.c state machine this core is
// distilled from (Consensus_RecruitMessage and friends), reorganized per
// the component split described for this repository: C2's Instance is a
// plain data holder here, and C3's Log owns all message-handling logic
// plus the ordered-delivery cursor that consensus.c folds into the same
// file.
package paxos

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/status"
	"github.com/shardkv/consensuscore/store"
	"github.com/shardkv/consensuscore/wireproto"
)

// OnDecided is invoked once, in ascending SlotId order, for every value
// this log delivers. additionalData is non-nil only on the shard that
// originally proposed the winning value (I6).
type OnDecided func(value []byte, additionalData interface{})

// InstanceSnapshot is a read-only view of one instance, used by the
// dump-logs control surface.
type InstanceSnapshot struct {
	Slot          common.SlotId
	Phase         Phase
	Learned       bool
	LearnedValue  common.Value
	CallbackFired bool
}

// Log is the named, ordered collection of Paxos instances described as
// C3. It is not safe for concurrent use: every method must be called
// from the single goroutine that owns this LogName (see package
// dispatcher), matching §5's single-threaded-per-shard model.
type Log struct {
	name      common.LogName
	selfId    common.NodeId
	transport Transport
	onDecided OnDecided
	metrics   *Metrics
	logger    log.Logger

	instances          map[common.SlotId]*Instance
	nextSlotToAllocate common.SlotId
	nextSlotToDeliver  common.SlotId

	persist store.AcceptorStateStore
}

// NewLog constructs a Log bound to transport, invoking onDecided for each
// value this shard comes to deliver on it. metrics and logger may both be
// nil.
func NewLog(name common.LogName, transport Transport, onDecided OnDecided, metrics *Metrics, logger log.Logger) *Log {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Log{
		name:      name,
		selfId:    transport.MyId(),
		transport: transport,
		onDecided: onDecided,
		metrics:   metrics,
		logger:    log.With(logger, "log", string(name)),
		instances: make(map[common.SlotId]*Instance),
	}
}

func (l *Log) Name() common.LogName { return l.name }

// SetOnDecided wires (or replaces) the delivery callback after
// construction, for collaborators like registry.Map whose own callback
// method needs a *Log to exist before it can be defined.
func (l *Log) SetOnDecided(fn OnDecided) { l.onDecided = fn }

// SetPersistence wires s as this log's acceptor-state store (O2) and
// restores any promises/acceptances s already has recorded for this
// log, so that a restarted shard resumes honoring them instead of
// silently reneging. Must be called before this log receives any
// messages.
func (l *Log) SetPersistence(s store.AcceptorStateStore) error {
	l.persist = s
	if s == nil {
		return nil
	}
	all, err := s.LoadAll()
	if err != nil {
		return err
	}
	for key, state := range all {
		if key.LogName != l.name {
			continue
		}
		inst := l.getOrCreate(key.Slot)
		inst.Acceptor.HighestPromisedNumber = state.HighestPromisedNumber
		inst.Acceptor.HasAccepted = state.HasAccepted
		inst.Acceptor.LastAcceptedValue = state.LastAcceptedValue
	}
	return nil
}

// persistAcceptorState saves inst's acceptor-role state if a store is
// wired, logging rather than failing the in-memory protocol step on a
// disk error -- persistence is a recovery aid, not a correctness
// requirement of the protocol itself.
func (l *Log) persistAcceptorState(inst *Instance) {
	if l.persist == nil {
		return
	}
	key := store.Key{LogName: l.name, Slot: inst.Slot}
	state := store.AcceptorState{
		HighestPromisedNumber: inst.Acceptor.HighestPromisedNumber,
		HasAccepted:           inst.Acceptor.HasAccepted,
		LastAcceptedValue:     inst.Acceptor.LastAcceptedValue,
	}
	if err := l.persist.Save(key, state); err != nil {
		l.logger.Log("msg", "failed to persist acceptor state", "slot", inst.Slot, "err", err)
	}
}

// Send is C3's entry point from C4: propose value for a fresh slot,
// stashing additionalData so it can later be handed back to onDecided on
// this shard alone, should this shard's proposal win.
func (l *Log) Send(value []byte, additionalData interface{}) common.SlotId {
	slot := l.nextSlotToAllocate
	l.nextSlotToAllocate++

	prefixed := common.PrefixValue(l.selfId, value)
	inst := l.getOrCreate(slot)
	inst.Phase = PhaseOne
	inst.Proposer.ProposalNumber = 0
	inst.Proposer.ValueToPropose = prefixed
	inst.HasOriginal = true
	inst.OriginalProposedValue = prefixed
	inst.AdditionalData = additionalData

	l.transport.Broadcast(wireproto.Recruit{Envelope: l.envelope(slot, inst.Proposer.ProposalNumber)})
	return slot
}

func (l *Log) getOrCreate(slot common.SlotId) *Instance {
	inst, ok := l.instances[slot]
	if !ok {
		inst = &Instance{Slot: slot, Phase: PhaseOne, createdAt: time.Now()}
		l.instances[slot] = inst
		l.metrics.incInFlight()
		if slot >= l.nextSlotToAllocate {
			l.nextSlotToAllocate = slot + 1
		}
	}
	return inst
}

func (l *Log) envelope(slot common.SlotId, pn common.ProposalNumber) wireproto.Envelope {
	return wireproto.Envelope{LogName: l.name, Slot: slot, ProposalNumber: pn}
}

// Deliver is the Receiver half of the Transport collaborator contract:
// every inbound message for this log, from any sender including
// ourselves, arrives here.
func (l *Log) Deliver(sender common.NodeId, msg wireproto.Message) {
	switch m := msg.(type) {
	case wireproto.Recruit:
		l.handleRecruit(sender, m)
	case wireproto.Recruited:
		l.handleRecruited(sender, m)
	case wireproto.Denied:
		l.handleDenied(sender, m)
	case wireproto.Accept:
		l.handleAccept(sender, m)
	case wireproto.Accepted:
		l.handleAccepted(sender, m)
	case wireproto.AcceptDenied:
		l.handleAcceptDenied(sender, m)
	case wireproto.Learn:
		l.handleLearn(sender, m)
	default:
		l.logger.Log("msg", "unknown message kind", "type", fmt.Sprintf("%T", msg))
	}
}

// handleRecruit is the acceptor's Phase 1a handler.
func (l *Log) handleRecruit(sender common.NodeId, m wireproto.Recruit) {
	inst := l.getOrCreate(m.Slot)
	oldPromised := inst.Acceptor.HighestPromisedNumber

	if m.ProposalNumber <= inst.Acceptor.HighestPromisedNumber {
		l.transport.Send(sender, wireproto.Denied{Envelope: l.envelope(m.Slot, inst.Acceptor.HighestPromisedNumber)})
		return
	}

	inst.Acceptor.HighestPromisedNumber = m.ProposalNumber
	reply := wireproto.Recruited{
		Envelope:            l.envelope(m.Slot, inst.Acceptor.HighestPromisedNumber),
		PriorProposalNumber: oldPromised,
		HasValue:            inst.Acceptor.HasAccepted,
	}
	if inst.Acceptor.HasAccepted {
		reply.Value = inst.Acceptor.LastAcceptedValue
	}
	l.persistAcceptorState(inst)
	l.transport.Send(sender, reply)
}

// handleRecruited is the proposer's Phase 1b positive-reply handler.
func (l *Log) handleRecruited(sender common.NodeId, m wireproto.Recruited) {
	inst, ok := l.instances[m.Slot]
	if !ok || inst.Phase != PhaseOne || inst.Proposer.ProposalNumber != m.ProposalNumber {
		return
	}

	if m.HasValue && inst.Proposer.HighestCompetingNumberSeen < m.PriorProposalNumber {
		inst.Proposer.ValueToPropose = m.Value
		inst.Proposer.HighestCompetingNumberSeen = m.PriorProposalNumber
	}

	inst.Proposer.Recruited++
	if inst.Proposer.Recruited == common.Majority(l.transport.ClusterSize()) {
		inst.Phase = PhaseTwo
		l.transport.Broadcast(wireproto.Accept{
			Envelope: l.envelope(m.Slot, inst.Proposer.ProposalNumber),
			Value:    inst.Proposer.ValueToPropose,
		})
	}
}

// handleDenied is the proposer's Phase 1b negative-reply handler: one
// denial is enough to force a restart at a higher number.
func (l *Log) handleDenied(sender common.NodeId, m wireproto.Denied) {
	inst, ok := l.instances[m.Slot]
	if !ok || inst.Phase != PhaseOne || inst.Proposer.ProposalNumber > m.ProposalNumber {
		return
	}
	l.restartPhaseOne(inst, m.ProposalNumber)
}

// handleAcceptDenied is the proposer's Phase 2b negative-reply handler;
// it restarts the same way a Phase 1 denial does.
func (l *Log) handleAcceptDenied(sender common.NodeId, m wireproto.AcceptDenied) {
	inst, ok := l.instances[m.Slot]
	if !ok || inst.Phase != PhaseTwo || inst.Proposer.ProposalNumber > m.ProposalNumber {
		return
	}
	l.restartPhaseOne(inst, m.ProposalNumber)
}

func (l *Log) restartPhaseOne(inst *Instance, nSeen common.ProposalNumber) {
	inst.Proposer.ProposalNumber = nSeen + 1
	inst.Proposer.Recruited = 0
	inst.Proposer.Accepted = 0
	inst.Proposer.HighestCompetingNumberSeen = 0
	inst.Phase = PhaseOne
	l.transport.Broadcast(wireproto.Recruit{Envelope: l.envelope(inst.Slot, inst.Proposer.ProposalNumber)})
}

// handleAccept is the acceptor's Phase 2a handler.
func (l *Log) handleAccept(sender common.NodeId, m wireproto.Accept) {
	inst := l.getOrCreate(m.Slot)

	if inst.Acceptor.HighestPromisedNumber != m.ProposalNumber {
		l.transport.Send(sender, wireproto.AcceptDenied{Envelope: l.envelope(m.Slot, inst.Acceptor.HighestPromisedNumber)})
		return
	}

	if !inst.Acceptor.HasAccepted || !inst.Acceptor.LastAcceptedValue.Equal(m.Value) {
		inst.Acceptor.LastAcceptedValue = m.Value
		inst.Acceptor.HasAccepted = true
	}
	l.persistAcceptorState(inst)

	l.transport.Send(sender, wireproto.Accepted{Envelope: l.envelope(m.Slot, inst.Acceptor.HighestPromisedNumber)})
	l.transport.Broadcast(wireproto.Learn{
		Envelope: l.envelope(m.Slot, inst.Acceptor.HighestPromisedNumber),
		Value:    inst.Acceptor.LastAcceptedValue,
	})
}

// handleAccepted is the proposer's Phase 2b positive-reply handler.
func (l *Log) handleAccepted(sender common.NodeId, m wireproto.Accepted) {
	inst, ok := l.instances[m.Slot]
	if !ok || inst.Phase != PhaseTwo || inst.Proposer.ProposalNumber != m.ProposalNumber {
		return
	}
	inst.Proposer.Accepted++
	if inst.Proposer.Accepted == common.Majority(l.transport.ClusterSize()) {
		inst.Phase = PhaseDone
	}
}

// handleLearn is the learner's handler; reaching majority here is the
// only place an instance becomes decided.
func (l *Log) handleLearn(sender common.NodeId, m wireproto.Learn) {
	inst := l.getOrCreate(m.Slot)

	if inst.Learner.TallyNumber > m.ProposalNumber {
		return
	}
	if inst.Learner.TallyNumber < m.ProposalNumber {
		inst.Learner.TallyNumber = m.ProposalNumber
		inst.Learner.LearnCount = 1
		return
	}

	inst.Learner.LearnCount++
	if inst.Learner.LearnCount != common.Majority(l.transport.ClusterSize()) || inst.Learner.Decided {
		return
	}

	inst.Learner.LearnedValue = append(common.Value(nil), m.Value...)
	inst.Learner.Decided = true
	l.metrics.incDecided()
	l.metrics.decInFlight()
	l.metrics.observeLifespanSeconds(time.Since(inst.createdAt).Seconds())

	l.tryDeliver()
}

// tryDeliver walks instances forward from the delivery cursor, invoking
// onDecided for each consecutive decided slot and stopping at the first
// one that is not yet decided. A shard whose own proposal for a slot
// loses (the learned payload is not bytewise equal to what it proposed)
// re-sends its original value into a fresh slot, guaranteeing the
// original request eventually gets delivered cluster-wide even though it
// did not win the slot it first tried.
func (l *Log) tryDeliver() {
	for {
		inst, ok := l.instances[l.nextSlotToDeliver]
		if !ok || !inst.Learner.Decided {
			return
		}
		if inst.CallbackFired {
			l.nextSlotToDeliver++
			continue
		}

		learnerNodeId, payload := common.SplitPrefixedValue(inst.Learner.LearnedValue)
		matchesOriginal := inst.HasOriginal && inst.Learner.LearnedValue.Equal(inst.OriginalProposedValue)
		isMine := learnerNodeId == l.selfId

		var additionalData interface{}
		if isMine && matchesOriginal {
			additionalData = inst.AdditionalData
		}

		inst.CallbackFired = true
		if l.onDecided != nil {
			l.onDecided(payload, additionalData)
		}

		if inst.HasOriginal && !matchesOriginal {
			_, origPayload := common.SplitPrefixedValue(inst.OriginalProposedValue)
			l.metrics.incRedeliveryRejected()
			l.Send(origPayload, inst.AdditionalData)
		}

		l.nextSlotToDeliver++
	}
}

// DumpInstances returns a sorted, read-only snapshot of every instance
// this log knows about, for the dump-logs control surface.
func (l *Log) DumpInstances() []InstanceSnapshot {
	out := make([]InstanceSnapshot, 0, len(l.instances))
	for slot, inst := range l.instances {
		out = append(out, InstanceSnapshot{
			Slot:          slot,
			Phase:         inst.Phase,
			Learned:       inst.Learner.Decided,
			LearnedValue:  inst.Learner.LearnedValue,
			CallbackFired: inst.CallbackFired,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// PruneDelivered discards in-memory instances older than cutoff that
// have already been decided and delivered, bounding the memory a
// long-lived log otherwise accumulates (O1). It never touches an
// instance still short of nextSlotToDeliver's frontier, so a slow
// learner can't have its evidence pulled out from under it; see package
// retention for the timer-driven caller of this method.
func (l *Log) PruneDelivered(cutoff time.Time) int {
	pruned := 0
	for slot, inst := range l.instances {
		if slot >= l.nextSlotToDeliver {
			continue
		}
		if !inst.Learner.Decided || !inst.CallbackFired {
			continue
		}
		if inst.createdAt.After(cutoff) {
			continue
		}
		delete(l.instances, slot)
		pruned++
	}
	return pruned
}

// Status renders this log's instances for the dump-logs debug command.
func (l *Log) Status(sc *status.StatusConsumer) {
	snaps := l.DumpInstances()
	sc.Emitf("log %s: nextSlotToAllocate=%d nextSlotToDeliver=%d instances=%d",
		l.name, l.nextSlotToAllocate, l.nextSlotToDeliver, len(snaps))
	sub := sc.Fork()
	for _, s := range snaps {
		sub.Emitf("slot %d: phase=%s learned=%t callbackFired=%t value=%s",
			s.Slot, s.Phase, s.Learned, s.CallbackFired, s.LearnedValue)
	}
	sub.Join()
}
