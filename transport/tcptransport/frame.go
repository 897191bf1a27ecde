package tcptransport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shardkv/consensuscore/wireproto"
)

// writeFrame lays out msg_kind(1 byte) ∥ length(uint64 LE) ∥ payload,
// the cluster transport (C1) framing §6 asks for: MsgKind travels
// alongside the encoded bytes rather than inside them.
func writeFrame(w io.Writer, msg wireproto.Message) error {
	payload := wireproto.Encode(msg)
	header := make([]byte, 9)
	header[0] = byte(msg.Kind())
	binary.LittleEndian.PutUint64(header[1:], uint64(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (wireproto.Message, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	kind := wireproto.MsgKind(header[0])
	n := binary.LittleEndian.Uint64(header[1:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("tcptransport: frame of %d bytes exceeds max %d", n, maxFrameLen)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return wireproto.Decode(kind, payload)
}

// maxFrameLen guards against a corrupt or hostile length prefix turning
// into an unbounded allocation.
const maxFrameLen = 64 << 20
