package paxos

import (
	"fmt"
	"time"

	"github.com/shardkv/consensuscore/common"
)

// Phase is the classic three-state Paxos instance machine: an instance
// starts in PhaseOne (recruiting promises), moves to PhaseTwo once a
// majority of promises are in (seeking acceptance), and settles in
// PhaseDone once a majority has accepted. PhaseDone only ever reflects
// this shard's own proposer giving up on driving the instance further;
// it has no bearing on whether the instance's learner has decided, which
// can happen earlier, later, or on a shard whose proposer never ran.
type Phase int

const (
	PhaseOne Phase = iota
	PhaseTwo
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseOne:
		return "PhaseOne"
	case PhaseTwo:
		return "PhaseTwo"
	case PhaseDone:
		return "PhaseDone"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Proposer is the subset of Instance state a shard's own proposal attempt
// on a slot needs. It sits dormant (zero value) on every shard that never
// calls Log.Send for that slot, and only matters on the one shard, if
// any, that has.
type Proposer struct {
	ProposalNumber             common.ProposalNumber
	HighestCompetingNumberSeen common.ProposalNumber
	ValueToPropose             common.Value
	Recruited                  int
	Accepted                   int
}

// Acceptor is the promise/accept bookkeeping every shard maintains for
// every instance it has heard of, regardless of whether it is also
// running a proposer or learner for that instance.
type Acceptor struct {
	HighestPromisedNumber common.ProposalNumber
	LastAcceptedValue     common.Value
	HasAccepted           bool
}

// Learner tallies Learn broadcasts toward a decided value. Every shard
// runs a learner for every instance it has heard of.
type Learner struct {
	TallyNumber  common.ProposalNumber
	LearnCount   int
	LearnedValue common.Value
	Decided      bool
}

// Instance is one (log, slot) pair: proposer, acceptor and learner roles
// co-resident, per the core's no-distinguished-leader design.
type Instance struct {
	Slot  common.SlotId
	Phase Phase

	Proposer Proposer
	Acceptor Acceptor
	Learner  Learner

	// OriginalProposedValue and AdditionalData are set only on the shard
	// that called Log.Send to create this instance. HasOriginal is the
	// flag that distinguishes "never proposed locally" from "proposed
	// value happens to be the zero Value".
	HasOriginal           bool
	OriginalProposedValue common.Value
	AdditionalData        interface{}

	// CallbackFired guards against a slot being delivered twice as the
	// log's cursor walks forward.
	CallbackFired bool

	createdAt time.Time
}
