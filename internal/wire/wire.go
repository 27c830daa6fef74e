// Package wire frames cache entries for byte providers.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1

	// magic(4) | ver(1) | kind(1) | epoch(8) | gen(8) | ts(8) | exp(8) | vlen(4)
	headerLen = 4 + 1 + 1 + 8 + 8 + 8 + 8 + 4
	offEpoch  = 6
	offGen    = offEpoch + 8
	offTS     = offGen + 8
	offExp    = offTS + 8
	offVlen   = offExp + 8
)

var (
	ErrCorrupt = errors.New("opscache: corrupt entry")
	magic4     = [...]byte{'O', 'P', 'S', 'C'}
)

// Frame is the decoded form of a stored entry.
// Timestamp and ExpiresAt are unix nanoseconds.
type Frame struct {
	Epoch     uint64
	Gen       uint64
	Timestamp int64
	ExpiresAt int64
	Payload   []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode writes f using big-endian fixed-width fields followed by the payload.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], f.Epoch)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(f.Timestamp))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(f.ExpiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])

	buf.Write(f.Payload)
	return buf.Bytes()
}

// Decode parses b. The returned payload aliases b.
// Trailing bytes after the announced payload are rejected.
func Decode(b []byte) (Frame, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Frame{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[offVlen : offVlen+4]))
	if vlen < 0 || vlen != len(b)-headerLen {
		return Frame{}, ErrCorrupt
	}
	return Frame{
		Epoch:     binary.BigEndian.Uint64(b[offEpoch : offEpoch+8]),
		Gen:       binary.BigEndian.Uint64(b[offGen : offGen+8]),
		Timestamp: int64(binary.BigEndian.Uint64(b[offTS : offTS+8])),
		ExpiresAt: int64(binary.BigEndian.Uint64(b[offExp : offExp+8])),
		Payload:   b[headerLen:],
	}, nil
}

// Restamp returns a copy of b with the expiry replaced. b must be a valid frame.
func Restamp(b []byte, expiresAt int64) ([]byte, error) {
	if _, err := Decode(b); err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	binary.BigEndian.PutUint64(out[offExp:offExp+8], uint64(expiresAt))
	return out, nil
}
