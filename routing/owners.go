// Package routing adapts the teacher's consistent-hash-ring concept
// (consistenthash.ConsistentHashCache, built for dynamically resharding
// VarUUId ownership across a transactional key-value store) into a much
// narrower, static-membership helper: given the current, fixed node set,
// which subset of nodes should own an opaque routing key? Dynamic
// re-sharding is explicitly out of scope (see the spec's Non-goals); the
// teacher's Resolver/Positions machinery that exists to make ring
// membership changes cheap is dropped entirely, since there is nothing
// here for it to amortize.
package routing

import (
	"hash/fnv"
	"sort"

	"github.com/shardkv/consensuscore/common"
)

// Owners deterministically selects up to desiredCount members to own
// routingKey, using rendezvous (highest random weight) hashing: every
// member's weight is hash(routingKey, member), and the top desiredCount
// by weight win. Unlike a hash ring this needs no preallocated per-key
// position assignment and is naturally stable under membership change --
// removing a member never reshuffles ownership among the survivors,
// which is exactly the property a fixed-membership deployment wants
// without paying for the teacher's resharding machinery.
func Owners(routingKey []byte, members []common.NodeId, desiredCount int) []common.NodeId {
	if desiredCount <= 0 {
		return nil
	}
	if desiredCount >= len(members) {
		out := append([]common.NodeId(nil), members...)
		sortNodeIds(out)
		return out
	}

	type weighted struct {
		node   common.NodeId
		weight uint64
	}
	weights := make([]weighted, len(members))
	for i, n := range members {
		weights[i] = weighted{node: n, weight: rendezvousWeight(routingKey, n)}
	}
	sort.Slice(weights, func(i, j int) bool {
		if weights[i].weight != weights[j].weight {
			return weights[i].weight > weights[j].weight
		}
		return weights[i].node.String() < weights[j].node.String()
	})

	out := make([]common.NodeId, desiredCount)
	for i := 0; i < desiredCount; i++ {
		out[i] = weights[i].node
	}
	return out
}

// IsOwner reports whether self is among routingKey's desiredCount owners
// of the current membership. The reference reader package's
// install_pipeline upcall consults this to decide whether a given shard
// should actually start delivering, or only record the registration.
func IsOwner(routingKey []byte, members []common.NodeId, desiredCount int, self common.NodeId) bool {
	for _, n := range Owners(routingKey, members, desiredCount) {
		if n == self {
			return true
		}
	}
	return false
}

func rendezvousWeight(routingKey []byte, node common.NodeId) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(routingKey)
	_, _ = h.Write(node[:])
	return h.Sum64()
}

func sortNodeIds(nodes []common.NodeId) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].String() < nodes[j].String() })
}
