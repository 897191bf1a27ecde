package paxos

import (
	"reflect"
	"testing"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/store"
	"github.com/shardkv/consensuscore/wireproto"
)

type fakeStore struct {
	records map[store.Key]store.AcceptorState
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[store.Key]store.AcceptorState)}
}

func (s *fakeStore) Save(key store.Key, state store.AcceptorState) error {
	s.records[key] = state
	return nil
}

func (s *fakeStore) LoadAll() (map[store.Key]store.AcceptorState, error) {
	out := make(map[store.Key]store.AcceptorState, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

// fakeCluster gives every node's transport a shared FIFO queue of
// in-flight messages and a pump() that drains it to quiescence. This
// keeps message delivery explicit and single-threaded in tests, the same
// way a real host drives Log.Deliver from its own event loop.
type fakeCluster struct {
	nodes []common.NodeId
	logs  map[common.NodeId]*Log
	queue []queuedMsg
}

type queuedMsg struct {
	from, to common.NodeId
	msg      wireproto.Message
}

type fakeTransport struct {
	cluster *fakeCluster
	self    common.NodeId
}

func (t *fakeTransport) MyId() common.NodeId { return t.self }
func (t *fakeTransport) ClusterSize() int    { return len(t.cluster.nodes) }

func (t *fakeTransport) Send(target common.NodeId, msg wireproto.Message) {
	t.cluster.queue = append(t.cluster.queue, queuedMsg{t.self, target, msg})
}

func (t *fakeTransport) Broadcast(msg wireproto.Message) {
	for _, n := range t.cluster.nodes {
		t.cluster.queue = append(t.cluster.queue, queuedMsg{t.self, n, msg})
	}
}

func (c *fakeCluster) pump() {
	for len(c.queue) > 0 {
		m := c.queue[0]
		c.queue = c.queue[1:]
		c.logs[m.to].Deliver(m.from, m.msg)
	}
}

func nodeId(label byte) common.NodeId {
	var id common.NodeId
	id[0] = label
	return id
}

func newFakeCluster(t *testing.T, size int, logName common.LogName) (*fakeCluster, map[common.NodeId][]delivery) {
	t.Helper()
	c := &fakeCluster{logs: make(map[common.NodeId]*Log)}
	deliveries := make(map[common.NodeId][]delivery)
	for i := 0; i < size; i++ {
		c.nodes = append(c.nodes, nodeId(byte('A'+i)))
	}
	for _, n := range c.nodes {
		n := n
		tr := &fakeTransport{cluster: c, self: n}
		c.logs[n] = NewLog(logName, tr, func(value []byte, additionalData interface{}) {
			cp := append([]byte(nil), value...)
			deliveries[n] = append(deliveries[n], delivery{value: cp, additionalData: additionalData})
		}, nil, nil)
	}
	return c, deliveries
}

type delivery struct {
	value          []byte
	additionalData interface{}
}

func TestSingleProposalDecidesAndDeliversEverywhere(t *testing.T) {
	c, deliveries := newFakeCluster(t, 3, "log")

	proposer := c.nodes[0]
	c.logs[proposer].Send([]byte("hello"), "client-token")
	c.pump()

	for _, n := range c.nodes {
		ds := deliveries[n]
		if len(ds) != 1 {
			t.Fatalf("node %v: expected 1 delivery, got %d", n, len(ds))
		}
		if string(ds[0].value) != "hello" {
			t.Fatalf("node %v: expected payload %q, got %q", n, "hello", ds[0].value)
		}
	}

	if deliveries[proposer][0].additionalData != "client-token" {
		t.Fatalf("proposer did not receive its additional_data: %v", deliveries[proposer][0].additionalData)
	}
	for _, n := range c.nodes[1:] {
		if deliveries[n][0].additionalData != nil {
			t.Fatalf("non-proposer node %v received additional_data %v, want nil", n, deliveries[n][0].additionalData)
		}
	}
}

func TestConcurrentProposalsAgreeAndDeliverInSameOrder(t *testing.T) {
	c, deliveries := newFakeCluster(t, 3, "log")

	c.logs[c.nodes[0]].Send([]byte("from-A"), nil)
	c.logs[c.nodes[1]].Send([]byte("from-B"), nil)
	c.pump()

	first := deliveries[c.nodes[0]]
	for _, n := range c.nodes[1:] {
		if !reflect.DeepEqual(valuesOf(first), valuesOf(deliveries[n])) {
			t.Fatalf("node %v delivered a different sequence than node %v: %v vs %v",
				n, c.nodes[0], valuesOf(deliveries[n]), valuesOf(first))
		}
	}

	seen := map[string]bool{}
	for _, d := range first {
		seen[string(d.value)] = true
	}
	if !seen["from-A"] || !seen["from-B"] {
		t.Fatalf("expected both proposals eventually delivered, got %v", valuesOf(first))
	}
}

func valuesOf(ds []delivery) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d.value)
	}
	return out
}

func TestDeniedProposalRestartsAndEventuallyDecides(t *testing.T) {
	c, deliveries := newFakeCluster(t, 3, "log")

	// Pre-promise a higher number on the two nodes the proposer is not
	// running on, so its first Recruit(0) is denied by both and it must
	// restart Phase One at a higher number before it can reach majority.
	for _, n := range c.nodes[1:] {
		c.logs[n].getOrCreate(0).Acceptor.HighestPromisedNumber = 100
	}

	c.logs[c.nodes[0]].Send([]byte("mine"), "mine-token")
	c.pump()

	for _, n := range c.nodes {
		ds := deliveries[n]
		if len(ds) != 1 || string(ds[0].value) != "mine" {
			t.Fatalf("node %v: expected single delivery %q, got %v", n, "mine", valuesOf(ds))
		}
	}

	inst := c.logs[c.nodes[0]].instances[0]
	if inst.Proposer.ProposalNumber <= 100 {
		t.Fatalf("expected proposer to have restarted above the denied number, got %d", inst.Proposer.ProposalNumber)
	}
}

func TestSetPersistenceSavesAndRestoresAcceptorState(t *testing.T) {
	tr := &fakeTransport{cluster: &fakeCluster{nodes: []common.NodeId{nodeId('A')}}, self: nodeId('A')}
	st := newFakeStore()

	l := NewLog("log", tr, nil, nil, nil)
	if err := l.SetPersistence(st); err != nil {
		t.Fatalf("SetPersistence: %v", err)
	}

	l.handleRecruit(nodeId('A'), wireproto.Recruit{Envelope: wireproto.Envelope{LogName: "log", Slot: 0, ProposalNumber: 5}})
	l.handleAccept(nodeId('A'), wireproto.Accept{Envelope: wireproto.Envelope{LogName: "log", Slot: 0, ProposalNumber: 5}, Value: common.Value("v")})

	key := store.Key{LogName: "log", Slot: 0}
	saved, ok := st.records[key]
	if !ok {
		t.Fatal("expected acceptor state to be persisted")
	}
	if saved.HighestPromisedNumber != 5 || !saved.HasAccepted || !saved.LastAcceptedValue.Equal(common.Value("v")) {
		t.Fatalf("unexpected persisted state: %+v", saved)
	}

	l2 := NewLog("log", tr, nil, nil, nil)
	if err := l2.SetPersistence(st); err != nil {
		t.Fatalf("SetPersistence on restart: %v", err)
	}
	restored := l2.instances[0]
	if restored == nil || restored.Acceptor.HighestPromisedNumber != 5 || !restored.Acceptor.HasAccepted {
		t.Fatalf("expected restored acceptor state, got %+v", restored)
	}
}

// P4: injecting duplicate Recruit/Accept/Learn of an already-decided
// (slot, value) must never cause a second OnDecided callback.
func TestDuplicateMessagesDoNotDoubleDeliver(t *testing.T) {
	c, deliveries := newFakeCluster(t, 3, "log")

	proposer := c.nodes[0]
	c.logs[proposer].Send([]byte("once"), "tok")
	c.pump()

	for _, n := range c.nodes {
		if len(deliveries[n]) != 1 {
			t.Fatalf("node %v: expected 1 delivery before duplicates, got %d", n, len(deliveries[n]))
		}
	}

	prefixed := common.PrefixValue(proposer, []byte("once"))
	recruit := wireproto.Recruit{Envelope: wireproto.Envelope{LogName: "log", Slot: 0, ProposalNumber: 0}}
	accept := wireproto.Accept{Envelope: wireproto.Envelope{LogName: "log", Slot: 0, ProposalNumber: 0}, Value: prefixed}
	learn := wireproto.Learn{Envelope: wireproto.Envelope{LogName: "log", Slot: 0, ProposalNumber: 0}, Value: prefixed}

	// Replay the exact Recruit/Accept/Learn sequence at every node: a real
	// transport can redeliver after a timeout-driven resend, or a message
	// can simply arrive twice.
	for _, n := range c.nodes {
		c.logs[n].Deliver(proposer, recruit)
		c.logs[n].Deliver(proposer, accept)
		c.logs[n].Deliver(proposer, learn)
	}
	c.pump()

	for _, n := range c.nodes {
		if len(deliveries[n]) != 1 {
			t.Fatalf("node %v: expected exactly 1 delivery after duplicate messages, got %d: %v",
				n, len(deliveries[n]), valuesOf(deliveries[n]))
		}
	}
}

// S6: a slot decided out of order must not be delivered until every
// slot before it has also decided, and delivery then proceeds in slot
// order.
func TestOutOfOrderLearnerArrivalWaitsForEarlierSlot(t *testing.T) {
	c, deliveries := newFakeCluster(t, 3, "log")
	proposer := c.nodes[0]

	slot1Value := common.PrefixValue(proposer, []byte("second-but-decided-first"))
	slot0Value := common.PrefixValue(proposer, []byte("first"))

	// Decide slot 1 directly (as an acceptor would on receiving Accept)
	// before slot 0 has ever been heard of.
	for _, n := range c.nodes {
		c.logs[n].handleAccept(proposer, wireproto.Accept{
			Envelope: wireproto.Envelope{LogName: "log", Slot: 1, ProposalNumber: 0},
			Value:    slot1Value,
		})
	}
	c.pump()

	for _, n := range c.nodes {
		if inst := c.logs[n].instances[1]; inst == nil || !inst.Learner.Decided {
			t.Fatalf("node %v: expected slot 1 to be learner-decided", n)
		}
		if len(deliveries[n]) != 0 {
			t.Fatalf("node %v: expected no delivery before slot 0 decides, got %v", n, valuesOf(deliveries[n]))
		}
	}

	// Now decide slot 0; both slots should deliver, in order.
	for _, n := range c.nodes {
		c.logs[n].handleAccept(proposer, wireproto.Accept{
			Envelope: wireproto.Envelope{LogName: "log", Slot: 0, ProposalNumber: 0},
			Value:    slot0Value,
		})
	}
	c.pump()

	want := []string{"first", "second-but-decided-first"}
	for _, n := range c.nodes {
		if got := valuesOf(deliveries[n]); !reflect.DeepEqual(got, want) {
			t.Fatalf("node %v: expected delivery order %v, got %v", n, want, got)
		}
	}
}
