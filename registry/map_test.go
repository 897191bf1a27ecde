package registry

import (
	"testing"

	"github.com/shardkv/consensuscore/common"
)

type fakeLog struct {
	onDecided func(value []byte, additionalData interface{})
	nextSlot  common.SlotId
}

func (f *fakeLog) Send(value []byte, additionalData interface{}) common.SlotId {
	slot := f.nextSlot
	f.nextSlot++
	f.onDecided(value, additionalData)
	return slot
}

type fakeReader struct {
	installed map[string]bool
	nextHandle int
}

func newFakeReader() *fakeReader { return &fakeReader{installed: make(map[string]bool)} }

func (r *fakeReader) InstallPipeline(descriptor []byte, routingKey []byte) (interface{}, error) {
	r.nextHandle++
	r.installed[string(routingKey)] = true
	return r.nextHandle, nil
}

func (r *fakeReader) TearDownPipeline(handle interface{}) {
	// no-op; production readers would stop delivery for the handle.
}

func TestAddThenDumpThenRemove(t *testing.T) {
	fl := &fakeLog{}
	reader := newFakeReader()
	m := NewMap("regmap", fl, reader, nil, nil)
	fl.onDecided = m.OnDecided

	id := MakeId([]byte("reg-1"))
	m.Add(id, []byte("descriptor-bytes"), []byte("routing-key"), "stream", "a test registration")

	dump := m.Dump()
	if len(dump) != 1 {
		t.Fatalf("expected 1 entry after add, got %d", len(dump))
	}
	if dump[0].Id != id || dump[0].ReaderType != "stream" || dump[0].Description != "a test registration" {
		t.Fatalf("unexpected dump entry: %+v", dump[0])
	}
	if !reader.installed["routing-key"] {
		t.Fatal("expected InstallPipeline to be called with the routing key")
	}

	var gotOk bool
	var gotErr error
	m.Remove(id, func(ok bool, err error) { gotOk, gotErr = ok, err })

	if !gotOk || gotErr != nil {
		t.Fatalf("expected successful remove completion, got ok=%v err=%v", gotOk, gotErr)
	}
	if len(m.Dump()) != 0 {
		t.Fatalf("expected empty map after remove, got %d", len(m.Dump()))
	}
}

func TestRemoveUnknownIdReportsFailure(t *testing.T) {
	fl := &fakeLog{}
	m := NewMap("regmap", fl, newFakeReader(), nil, nil)
	fl.onDecided = m.OnDecided

	var gotOk bool
	var gotErr error
	m.Remove(MakeId([]byte("missing")), func(ok bool, err error) { gotOk, gotErr = ok, err })

	if gotOk {
		t.Fatal("expected ok=false removing an unknown id")
	}
	if gotErr == nil {
		t.Fatal("expected a non-nil error removing an unknown id")
	}
}
