package paxos

import (
	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/wireproto"
)

// Transport is the cluster-transport collaborator (C1) every Log sends
// Paxos messages through. Send and Broadcast are expected to be
// non-blocking from the Log's point of view (queue-and-return); Broadcast
// must loop the sender back to itself exactly as if a remote peer had
// addressed it, since a shard is an ordinary acceptor/learner for its own
// proposals (§4.1's "self-addressed messages follow the same paths").
//
// Transport implementations are not required to be thread-safe with
// respect to each other's Send/Broadcast calls, but the host must ensure
// a given Log's Deliver method is only ever invoked on the executor
// goroutine that owns its LogName (see package dispatcher); Transport
// itself does not enforce that.
type Transport interface {
	MyId() common.NodeId
	ClusterSize() int
	Send(target common.NodeId, msg wireproto.Message)
	Broadcast(msg wireproto.Message)
}

// Receiver is what a Transport implementation delivers inbound messages
// to. *Log implements it.
type Receiver interface {
	Deliver(sender common.NodeId, msg wireproto.Message)
}
