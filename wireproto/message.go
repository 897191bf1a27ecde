// Package wireproto implements the on-wire framing for the seven Paxos
// message kinds (§6 of the spec): fixed-order, length-prefixed fields,
// strings and byte buffers carrying a 64-bit little-endian length
// prefix. Compatibility is scoped to a single cluster version; there is
// no cross-version wire stability here, matching the spec's explicit
// disclaimer.
//
// A generated schema codec (the teacher repository's go-capnproto) was
// considered and dropped for this package: the spec mandates an exact
// flat byte layout rather than leaving the schema open, so there is no
// surface left for a schema compiler to add value. See DESIGN.md.
package wireproto

import (
	"fmt"

	"github.com/shardkv/consensuscore/common"
)

// MsgKind tags which of the seven Paxos messages a payload decodes as.
// The cluster transport (C1) carries MsgKind alongside the payload
// rather than inside it, matching §6's send(target, msg_kind, bytes).
type MsgKind uint8

const (
	KindRecruit MsgKind = iota
	KindRecruited
	KindDenied
	KindAccept
	KindAccepted
	KindAcceptDenied
	KindLearn
)

func (k MsgKind) String() string {
	switch k {
	case KindRecruit:
		return "Recruit"
	case KindRecruited:
		return "Recruited"
	case KindDenied:
		return "Denied"
	case KindAccept:
		return "Accept"
	case KindAccepted:
		return "Accepted"
	case KindAcceptDenied:
		return "AcceptDenied"
	case KindLearn:
		return "Learn"
	default:
		return fmt.Sprintf("MsgKind(%d)", uint8(k))
	}
}

// Envelope carries the three fields every Paxos message begins with.
type Envelope struct {
	LogName        common.LogName
	Slot           common.SlotId
	ProposalNumber common.ProposalNumber
}

// Recruit is Phase 1a: "promise me not to accept anything numbered less
// than ProposalNumber."
type Recruit struct {
	Envelope
}

// Recruited is a positive Phase 1b reply. If the acceptor had previously
// accepted a value, HasValue is set and PriorProposalNumber/Value carry
// it so the proposer can adopt the highest prior proposal.
type Recruited struct {
	Envelope
	PriorProposalNumber common.ProposalNumber
	HasValue            bool
	Value               common.Value
}

// Denied is a negative Phase 1b reply; ProposalNumber carries n_seen,
// the acceptor's current highest promised number.
type Denied struct {
	Envelope
}

// Accept is Phase 2a: "please accept Value at ProposalNumber."
type Accept struct {
	Envelope
	Value common.Value
}

// Accepted is a positive Phase 2b reply.
type Accepted struct {
	Envelope
}

// AcceptDenied is a negative Phase 2b reply; ProposalNumber carries
// n_seen.
type AcceptDenied struct {
	Envelope
}

// Learn is an acceptor's broadcast of the value it just accepted.
type Learn struct {
	Envelope
	Value common.Value
}
