package memtransport

import (
	"sync"
	"testing"
	"time"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/dispatcher"
	"github.com/shardkv/consensuscore/paxos"
	"github.com/shardkv/consensuscore/wireproto"
)

func TestThreeNodeClusterDecidesUnderRealGoroutines(t *testing.T) {
	nodes := []common.NodeId{
		common.MakeNodeId([]byte("node-a")),
		common.MakeNodeId([]byte("node-b")),
		common.MakeNodeId([]byte("node-c")),
	}
	hub := NewHub(nodes, Scenario{MinDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}, 7)

	var mu sync.Mutex
	delivered := make(map[common.NodeId][]string)
	logs := make(map[common.NodeId]*paxos.Log)
	executors := make(map[common.NodeId]*dispatcher.Executor)

	for _, n := range nodes {
		n := n
		exec := dispatcher.NewExecutor(nil)
		executors[n] = exec

		l := paxos.NewLog("cluster-log", hub.Transport(n, "cluster-log"), func(value []byte, _ interface{}) {
			mu.Lock()
			delivered[n] = append(delivered[n], string(value))
			mu.Unlock()
		}, nil, nil)
		logs[n] = l
	}

	for _, n := range nodes {
		n, exec, l := n, executors[n], logs[n]
		hub.Register(n, "cluster-log", func(sender common.NodeId, msg wireproto.Message) {
			exec.Enqueue(func() { l.Deliver(sender, msg) })
		})
	}

	executors[nodes[0]].Enqueue(func() {
		logs[nodes[0]].Send([]byte("decide-me"), nil)
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(delivered[nodes[0]]) > 0 && len(delivered[nodes[1]]) > 0 && len(delivered[nodes[2]]) > 0
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for all three nodes to deliver")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, n := range nodes {
		if got := delivered[n]; len(got) != 1 || got[0] != "decide-me" {
			t.Fatalf("node %v: expected [\"decide-me\"], got %v", n, got)
		}
	}

	for _, exec := range executors {
		exec.Shutdown()
	}
}
