package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/kit/log"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/rdt"
	"github.com/shardkv/consensuscore/status"
)

// Map is the registration map (C5). It owns a *rdt.Runtime and registers
// the two ops add/remove against it; construct one per backing log.
//
// mu guards entries against concurrent foreground reads (Dump, Status)
// racing the dispatcher goroutine that applies decided ops -- the ops
// themselves are already serialized by virtue of running one at a time
// on that goroutine (§5), so mu exists only for the foreground/apply
// boundary, not for op-vs-op safety.
type Map struct {
	mu      sync.Mutex
	runtime *rdt.Runtime
	reader  Reader
	entries map[Id]*entry
	logger  log.Logger
	metrics *Metrics
}

// NewMap constructs a registration map whose decided operations are
// applied through backingLog. logger and metrics may both be nil.
func NewMap(name string, backingLog rdt.Log, reader Reader, logger log.Logger, metrics *Metrics) *Map {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Map{
		reader:  reader,
		entries: make(map[Id]*entry),
		logger:  log.With(logger, "registry", name),
		metrics: metrics,
	}
	m.runtime = rdt.NewRuntime(name, backingLog, logger, nil)
	m.runtime.Register("add", m.handleAdd)
	m.runtime.Register("remove", m.handleRemove)
	return m
}

// OnDecided is the callback to hand to the backing Log's constructor.
func (m *Map) OnDecided(value []byte, additionalData interface{}) {
	m.runtime.OnDecided(value, additionalData)
}

// Add proposes a new registration. Installation happens only once (and
// if) this proposal is decided; see handleAdd.
func (m *Map) Add(id Id, descriptor, routingKey []byte, readerType, description string) common.SlotId {
	return m.runtime.Apply("add", encodeAdd(id, descriptor, routingKey, readerType, description), nil)
}

// Remove proposes that id be torn down. completion, if non-nil, is
// invoked on this shard alone once the remove has been applied (win) or
// rejected for lacking a matching id.
func (m *Map) Remove(id Id, completion RemoveCompletion) common.SlotId {
	return m.runtime.Apply("remove", encodeRemove(id), completion)
}

func (m *Map) handleAdd(payload []byte, additionalData interface{}) {
	id, descriptor, routingKey, readerType, description, err := decodeAdd(payload)
	if err != nil {
		m.logger.Log("msg", "malformed add payload", "error", err)
		return
	}

	handle, err := m.reader.InstallPipeline(descriptor, routingKey)
	if err != nil {
		m.logger.Log("msg", "install_pipeline failed", "id", id, "error", err)
		return
	}

	m.mu.Lock()
	m.entries[id] = &entry{readerType: readerType, description: description, handle: handle}
	m.mu.Unlock()
	m.metrics.add(1)
}

func (m *Map) handleRemove(payload []byte, additionalData interface{}) {
	id, err := decodeRemove(payload)
	if err != nil {
		m.logger.Log("msg", "malformed remove payload", "error", err)
		return
	}

	m.mu.Lock()
	e, found := m.entries[id]
	if found {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	var applyErr error
	if found {
		m.reader.TearDownPipeline(e.handle)
		m.metrics.add(-1)
	} else {
		applyErr = fmt.Errorf("registry: no such registration %s", id)
	}

	if completion, ok := additionalData.(RemoveCompletion); ok && completion != nil {
		completion(found, applyErr)
	}
}

// Dump is the read-only, local iteration backing the dump-registrations
// control surface. Because every shard applies add/remove in the same
// order, any shard's Dump is a valid view of the cluster's registrations.
func (m *Map) Dump() []DumpEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DumpEntry, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, DumpEntry{Id: id, ReaderType: e.readerType, Description: e.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.String() < out[j].Id.String() })
	return out
}

// Status renders this map for the dump-registrations debug command.
func (m *Map) Status(sc *status.StatusConsumer) {
	entries := m.Dump()
	sc.Emitf("registrations: %d", len(entries))
	sub := sc.Fork()
	for _, e := range entries {
		sub.Emitf("id=%s reader=%s desc=%s", e.Id, e.ReaderType, e.Description)
	}
	sub.Join()
}
