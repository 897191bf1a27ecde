package rdt

import (
	"reflect"
	"testing"

	"github.com/shardkv/consensuscore/common"
)

// fakeLog stands in for *paxos.Log: Send immediately "decides" by
// feeding the framed value straight back to whatever OnDecided the test
// wired up, since rdt itself doesn't care who decides or when.
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

func TestApplyRoutesToRegisteredHandler(t *testing.T) {
	fl := &fakeLog{}
	rt := NewRuntime("regmap", fl, nil, nil)
	fl.onDecided = rt.OnDecided

	var gotPayload []byte
	var gotExtra interface{}
	rt.Register("add", func(payload []byte, extra interface{}) {
		gotPayload = append([]byte(nil), payload...)
		gotExtra = extra
	})
	rt.Register("remove", func(payload []byte, extra interface{}) {
		t.Fatalf("remove handler should not have run")
	})

	rt.Apply("add", []byte("payload-bytes"), "token")

	if !reflect.DeepEqual(gotPayload, []byte("payload-bytes")) {
		t.Fatalf("got payload %q, want %q", gotPayload, "payload-bytes")
	}
	if gotExtra != "token" {
		t.Fatalf("got additionalData %v, want %q", gotExtra, "token")
	}
}

func TestUnregisteredOpIsIgnoredNotFatal(t *testing.T) {
	fl := &fakeLog{}
	rt := NewRuntime("regmap", fl, nil, nil)
	fl.onDecided = rt.OnDecided

	// Must not panic even though no handler is registered for "bogus".
	rt.Apply("bogus", []byte("x"), nil)
}

func TestFrameRoundTrip(t *testing.T) {
	framed := frameOp("remove", []byte{1, 2, 3})
	op, payload, err := unframeOp(framed)
	if err != nil {
		t.Fatal(err)
	}
	if op != "remove" {
		t.Fatalf("got op %q, want %q", op, "remove")
	}
	if !reflect.DeepEqual(payload, []byte{1, 2, 3}) {
		t.Fatalf("got payload %v, want %v", payload, []byte{1, 2, 3})
	}
}
