package lmdbstore

import (
	"encoding/binary"
	"fmt"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/store"
)

// encodeKey lays out logName(len-prefixed) ∥ slot(int64 LE), used as the
// LMDB key so iteration order groups a log's slots together.
func encodeKey(k store.Key) []byte {
	name := []byte(k.LogName)
	out := make([]byte, 8+len(name)+8)
	binary.LittleEndian.PutUint64(out, uint64(len(name)))
	copy(out[8:], name)
	binary.LittleEndian.PutUint64(out[8+len(name):], uint64(k.Slot))
	return out
}

func decodeKey(buf []byte) (store.Key, error) {
	if len(buf) < 8 {
		return store.Key{}, fmt.Errorf("lmdbstore: key too short for a length prefix")
	}
	n := binary.LittleEndian.Uint64(buf)
	off := 8
	if uint64(len(buf)-off) < n+8 {
		return store.Key{}, fmt.Errorf("lmdbstore: key shorter than its encoded logName+slot")
	}
	name := string(buf[off : off+int(n)])
	off += int(n)
	slot := common.SlotId(binary.LittleEndian.Uint64(buf[off:]))
	return store.Key{LogName: common.LogName(name), Slot: slot}, nil
}

// encodeState lays out highestPromised(int64 LE) ∥ hasAccepted(1 byte)
// ∥ lastAcceptedValue(len-prefixed).
func encodeState(s store.AcceptorState) []byte {
	out := make([]byte, 8+1+8+len(s.LastAcceptedValue))
	binary.LittleEndian.PutUint64(out, uint64(s.HighestPromisedNumber))
	if s.HasAccepted {
		out[8] = 1
	}
	binary.LittleEndian.PutUint64(out[9:], uint64(len(s.LastAcceptedValue)))
	copy(out[17:], s.LastAcceptedValue)
	return out
}

func decodeState(buf []byte) (store.AcceptorState, error) {
	if len(buf) < 17 {
		return store.AcceptorState{}, fmt.Errorf("lmdbstore: state buffer too short")
	}
	pn := common.ProposalNumber(binary.LittleEndian.Uint64(buf))
	hasAccepted := buf[8] != 0
	n := binary.LittleEndian.Uint64(buf[9:])
	if uint64(len(buf)-17) < n {
		return store.AcceptorState{}, fmt.Errorf("lmdbstore: state value shorter than its encoded length")
	}
	val := append(common.Value(nil), buf[17:17+int(n)]...)
	return store.AcceptorState{
		HighestPromisedNumber: pn,
		HasAccepted:           hasAccepted,
		LastAcceptedValue:     val,
	}, nil
}
