// Package reader provides the reference implementation of the C5
// reader/registration collaborator described in §6:
// install_pipeline(descriptor, routing_key) -> local_handle and
// tear_down_pipeline(local_handle). The registration map neither
// inspects descriptor nor the events flowing through an installed
// pipeline, so this package is free to treat both as opaque; a real host
// would bridge install_pipeline to whichever event source a descriptor
// names instead of the in-memory fan-out here.
package reader

import (
	"sync"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/routing"
)

// Sink receives events for one installed pipeline.
type Sink func(event []byte)

type pipeline struct {
	routingKey []byte
	sink       Sink
	active     bool
}

// MemReader is an in-memory reader: it installs/tears down pipelines
// locally and fans Deliver calls out to whichever installed pipelines
// are "active" -- gated by routing.IsOwner so only the shards that own a
// routing key under the current, static membership actually deliver,
// matching §10.8's design for routing_key.
type MemReader struct {
	mu           sync.Mutex
	self         common.NodeId
	members      func() []common.NodeId
	desiredCount int
	sink         Sink

	nextHandle int
	pipelines  map[int]*pipeline
}

// NewMemReader constructs a MemReader. members is called fresh on every
// InstallPipeline so membership may change between calls; desiredCount
// is how many shards should own any given routing key.
func NewMemReader(self common.NodeId, members func() []common.NodeId, desiredCount int, sink Sink) *MemReader {
	return &MemReader{
		self:         self,
		members:      members,
		desiredCount: desiredCount,
		sink:         sink,
		pipelines:    make(map[int]*pipeline),
	}
}

// InstallPipeline implements registry.Reader.
func (r *MemReader) InstallPipeline(descriptor []byte, routingKey []byte) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextHandle++
	id := r.nextHandle
	r.pipelines[id] = &pipeline{
		routingKey: append([]byte(nil), routingKey...),
		sink:       r.sink,
		active:     routing.IsOwner(routingKey, r.members(), r.desiredCount, r.self),
	}
	return id, nil
}

// TearDownPipeline implements registry.Reader.
func (r *MemReader) TearDownPipeline(handle interface{}) {
	id, ok := handle.(int)
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.pipelines, id)
	r.mu.Unlock()
}

// Deliver fans event out to every active pipeline whose routing key
// matches exactly.
func (r *MemReader) Deliver(routingKey []byte, event []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pipelines {
		if p.active && string(p.routingKey) == string(routingKey) {
			p.sink(event)
		}
	}
}

// ActiveCount reports how many installed pipelines are currently active,
// for tests and the debug surface.
func (r *MemReader) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.pipelines {
		if p.active {
			n++
		}
	}
	return n
}
