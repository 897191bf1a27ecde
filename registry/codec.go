package registry

import (
	"encoding/binary"
	"fmt"
)

func putLenPrefixed(out []byte, off int, b []byte) int {
	binary.LittleEndian.PutUint64(out[off:], uint64(len(b)))
	off += 8
	copy(out[off:], b)
	return off + len(b)
}

func readLenPrefixed(buf []byte, off int) (b []byte, next int, err error) {
	if len(buf)-off < 8 {
		return nil, 0, fmt.Errorf("registry: short buffer reading length prefix at %d", off)
	}
	n := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	if uint64(len(buf)-off) < n {
		return nil, 0, fmt.Errorf("registry: short buffer reading %d bytes at %d", n, off)
	}
	return buf[off : off+int(n)], off + int(n), nil
}

// encodeAdd lays out: id(IdLen raw) ∥ descriptor(len-prefixed) ∥
// routingKey(len-prefixed) ∥ readerType(len-prefixed) ∥
// description(len-prefixed).
func encodeAdd(id Id, descriptor, routingKey []byte, readerType, description string) []byte {
	size := IdLen + 8 + len(descriptor) + 8 + len(routingKey) + 8 + len(readerType) + 8 + len(description)
	out := make([]byte, size)
	off := copy(out, id[:])
	off = putLenPrefixed(out, off, descriptor)
	off = putLenPrefixed(out, off, routingKey)
	off = putLenPrefixed(out, off, []byte(readerType))
	_ = putLenPrefixed(out, off, []byte(description))
	return out
}

func decodeAdd(payload []byte) (id Id, descriptor, routingKey []byte, readerType, description string, err error) {
	if len(payload) < IdLen {
		return id, nil, nil, "", "", fmt.Errorf("registry: add payload shorter than an Id")
	}
	copy(id[:], payload[:IdLen])
	off := IdLen

	descriptor, off, err = readLenPrefixed(payload, off)
	if err != nil {
		return id, nil, nil, "", "", err
	}
	routingKey, off, err = readLenPrefixed(payload, off)
	if err != nil {
		return id, nil, nil, "", "", err
	}
	readerTypeB, off, err := readLenPrefixed(payload, off)
	if err != nil {
		return id, nil, nil, "", "", err
	}
	descB, _, err := readLenPrefixed(payload, off)
	if err != nil {
		return id, nil, nil, "", "", err
	}
	return id, descriptor, routingKey, string(readerTypeB), string(descB), nil
}

func encodeRemove(id Id) []byte {
	out := make([]byte, IdLen)
	copy(out, id[:])
	return out
}

func decodeRemove(payload []byte) (Id, error) {
	var id Id
	if len(payload) < IdLen {
		return id, fmt.Errorf("registry: remove payload shorter than an Id")
	}
	copy(id[:], payload[:IdLen])
	return id, nil
}
