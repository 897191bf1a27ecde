package wireproto

import (
	"encoding/binary"
	"fmt"

	"github.com/shardkv/consensuscore/common"
)

// Message is implemented by all seven Paxos wire types.
type Message interface {
	Kind() MsgKind
}

func (Recruit) Kind() MsgKind      { return KindRecruit }
func (Recruited) Kind() MsgKind    { return KindRecruited }
func (Denied) Kind() MsgKind       { return KindDenied }
func (Accept) Kind() MsgKind       { return KindAccept }
func (Accepted) Kind() MsgKind     { return KindAccepted }
func (AcceptDenied) Kind() MsgKind { return KindAcceptDenied }
func (Learn) Kind() MsgKind        { return KindLearn }

type writer struct{ buf []byte }

func (w *writer) writeUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeInt64(v int64)  { w.writeUint64(uint64(v)) }
func (w *writer) writeBytes(b []byte) { w.writeUint64(uint64(len(b))); w.buf = append(w.buf, b...) }
func (w *writer) writeString(s string) { w.writeBytes([]byte(s)) }
func (w *writer) writeBool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) writeEnvelope(e Envelope) {
	w.writeString(string(e.LogName))
	w.writeInt64(int64(e.Slot))
	w.writeInt64(int64(e.ProposalNumber))
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readUint64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, fmt.Errorf("wireproto: short buffer reading uint64 at %d", r.pos)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.buf)-r.pos) < n {
		return nil, fmt.Errorf("wireproto: short buffer reading %d bytes at %d", n, r.pos)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) readString() (string, error) {
	b, err := r.readBytes()
	return string(b), err
}

func (r *reader) readBool() (bool, error) {
	if r.pos >= len(r.buf) {
		return false, fmt.Errorf("wireproto: short buffer reading bool at %d", r.pos)
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) readEnvelope() (Envelope, error) {
	var e Envelope
	name, err := r.readString()
	if err != nil {
		return e, err
	}
	slot, err := r.readInt64()
	if err != nil {
		return e, err
	}
	pn, err := r.readInt64()
	if err != nil {
		return e, err
	}
	e.LogName = common.LogName(name)
	e.Slot = common.SlotId(slot)
	e.ProposalNumber = common.ProposalNumber(pn)
	return e, nil
}

// Encode serializes m per the fixed layout of §6. The caller is expected
// to carry Kind() alongside the bytes (as the transport's msg_kind
// parameter), so Encode does not tag the payload with its own kind.
func Encode(m Message) []byte {
	w := &writer{}
	switch v := m.(type) {
	case Recruit:
		w.writeEnvelope(v.Envelope)
	case Recruited:
		w.writeEnvelope(v.Envelope)
		w.writeInt64(int64(v.PriorProposalNumber))
		w.writeBool(v.HasValue)
		if v.HasValue {
			w.writeBytes(v.Value)
		}
	case Denied:
		w.writeEnvelope(v.Envelope)
	case Accept:
		w.writeEnvelope(v.Envelope)
		w.writeBytes(v.Value)
	case Accepted:
		w.writeEnvelope(v.Envelope)
	case AcceptDenied:
		w.writeEnvelope(v.Envelope)
	case Learn:
		w.writeEnvelope(v.Envelope)
		w.writeBytes(v.Value)
	default:
		panic(fmt.Sprintf("wireproto: Encode: unhandled message type %T", m))
	}
	return w.buf
}

// Decode parses data as the message kind indicated by kind. It is the
// single dispatch point §9's design notes ask for: a per-kind table, not
// reflection.
func Decode(kind MsgKind, data []byte) (Message, error) {
	r := &reader{buf: data}
	env, err := r.readEnvelope()
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindRecruit:
		return Recruit{Envelope: env}, nil
	case KindRecruited:
		priorPN, err := r.readInt64()
		if err != nil {
			return nil, err
		}
		hasValue, err := r.readBool()
		if err != nil {
			return nil, err
		}
		var val common.Value
		if hasValue {
			val, err = r.readBytes()
			if err != nil {
				return nil, err
			}
		}
		return Recruited{
			Envelope:             env,
			PriorProposalNumber:  common.ProposalNumber(priorPN),
			HasValue:             hasValue,
			Value:                val,
		}, nil
	case KindDenied:
		return Denied{Envelope: env}, nil
	case KindAccept:
		val, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		return Accept{Envelope: env, Value: val}, nil
	case KindAccepted:
		return Accepted{Envelope: env}, nil
	case KindAcceptDenied:
		return AcceptDenied{Envelope: env}, nil
	case KindLearn:
		val, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		return Learn{Envelope: env, Value: val}, nil
	default:
		return nil, fmt.Errorf("wireproto: Decode: unknown MsgKind %v", kind)
	}
}
