package tcptransport

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/wireproto"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestTwoNodesExchangeMessagesOverTCP(t *testing.T) {
	idA := common.MakeNodeId([]byte("node-a"))
	idB := common.MakeNodeId([]byte("node-b"))
	portA := freePort(t)
	portB := freePort(t)
	addrA := "127.0.0.1:" + strconv.Itoa(portA)
	addrB := "127.0.0.1:" + strconv.Itoa(portB)

	members := map[common.NodeId]string{idA: addrA, idB: addrB}

	netA, err := NewNetwork(idA, addrA, members, nil)
	if err != nil {
		t.Fatalf("NewNetwork A: %v", err)
	}
	defer netA.Shutdown()
	netB, err := NewNetwork(idB, addrB, members, nil)
	if err != nil {
		t.Fatalf("NewNetwork B: %v", err)
	}
	defer netB.Shutdown()

	var mu sync.Mutex
	var gotOnB []wireproto.Message
	netB.Register("cluster-log", func(sender common.NodeId, msg wireproto.Message) {
		mu.Lock()
		gotOnB = append(gotOnB, msg)
		mu.Unlock()
	})

	shimA := netA.TransportFor("cluster-log")
	deadline := time.Now().Add(3 * time.Second)
	for {
		shimA.Send(idB, wireproto.Recruit{Envelope: wireproto.Envelope{LogName: "cluster-log", Slot: 0, ProposalNumber: 1}})
		mu.Lock()
		n := len(gotOnB)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for B to receive a message from A")
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotOnB) == 0 {
		t.Fatal("expected at least one delivery on B")
	}
	if r, ok := gotOnB[0].(wireproto.Recruit); !ok || r.Slot != 0 || r.ProposalNumber != 1 {
		t.Fatalf("unexpected message on B: %#v", gotOnB[0])
	}
}

func TestClusterSizeReflectsMembership(t *testing.T) {
	idA := common.MakeNodeId([]byte("node-a"))
	idB := common.MakeNodeId([]byte("node-b"))
	idC := common.MakeNodeId([]byte("node-c"))
	portA := freePort(t)
	portB := freePort(t)
	portC := freePort(t)
	members := map[common.NodeId]string{
		idA: "127.0.0.1:" + strconv.Itoa(portA),
		idB: "127.0.0.1:" + strconv.Itoa(portB),
		idC: "127.0.0.1:" + strconv.Itoa(portC),
	}

	netA, err := NewNetwork(idA, members[idA], members, nil)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	defer netA.Shutdown()

	if got := netA.TransportFor("log").ClusterSize(); got != 3 {
		t.Fatalf("expected cluster size 3, got %d", got)
	}
}
