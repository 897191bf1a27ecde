// Package store defines the optional acceptor-state persistence
// collaborator referenced by open question O2: without it, a shard that
// restarts starts empty and has gaps for any slot decided before the
// crash (tolerable, since Paxos only needs a majority, not every shard,
// to have survived). A Store lets a restarted shard reload its prior
// promises/acceptances before rejoining, narrowing that gap.
package store

import "github.com/shardkv/consensuscore/common"

// Key identifies one instance's on-disk acceptor state.
type Key struct {
	LogName common.LogName
	Slot    common.SlotId
}

// AcceptorState is the durable subset of paxos.Acceptor: enough to
// resume honoring promises and replying to Accept correctly after a
// restart. Proposer and Learner state is intentionally not persisted --
// a restarted shard's proposer and learner both start fresh, and the
// learner only counts Learn messages that arrive after the restart.
type AcceptorState struct {
	HighestPromisedNumber common.ProposalNumber
	HasAccepted           bool
	LastAcceptedValue     common.Value
}

// AcceptorStateStore is the collaborator interface a *paxos.Log may be
// wired against, outside the core itself (the core has no opinion on
// persistence; see §9 O2 and §10.4).
type AcceptorStateStore interface {
	Save(key Key, state AcceptorState) error
	LoadAll() (map[Key]AcceptorState, error)
}
