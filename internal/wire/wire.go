package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 1 + 8 + 8 + 8 // magic | ver | cmd | origin | hash | ttl
	maxName      = 0xFFFF
)

var (
	ErrCorrupt = errors.New("lateral: corrupt frame")
	ErrTooLong = errors.New("lateral: region or key too long")
	magic4     = [...]byte{'L', 'A', 'T', 'R'}
)

// Frame is one replication envelope on the wire. Payload is the codec-encoded
// value; it is empty for commands that carry no value.
type Frame struct {
	Command byte
	Origin  uint64
	Hash    uint64
	TTL     int64 // nanoseconds, 0 = eternal
	Region  string
	Key     string
	Payload []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode lays the frame out as
//
//	magic(4) | ver(1) | cmd(1) | origin(u64 be) | hash(u64 be) | ttl(i64 be)
//	regionLen(u16 be) | region | keyLen(u16 be) | key | vlen(u32 be) | payload(vlen)
func Encode(f Frame) ([]byte, error) {
	if len(f.Region) > maxName || len(f.Key) > maxName {
		return nil, ErrTooLong
	}

	var buf bytes.Buffer
	buf.Grow(hdrLen + 2 + len(f.Region) + 2 + len(f.Key) + 4 + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(f.Command)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], f.Origin)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], f.Hash)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(f.TTL))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(f.Region)))
	buf.Write(u2[:])
	buf.WriteString(f.Region)

	binary.BigEndian.PutUint16(u2[:], uint16(len(f.Key)))
	buf.Write(u2[:])
	buf.WriteString(f.Key)

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])
	buf.Write(f.Payload)

	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode. Payload aliases b.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return f, ErrCorrupt
	}
	f.Command = b[5]
	off := 6

	f.Origin = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.Hash = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.TTL = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	var ok bool
	if f.Region, off, ok = readName(b, off); !ok {
		return Frame{}, ErrCorrupt
	}
	if f.Key, off, ok = readName(b, off); !ok {
		return Frame{}, ErrCorrupt
	}

	if off+4 > len(b) {
		return Frame{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // overflow-safe, no trailing bytes
		return Frame{}, ErrCorrupt
	}
	if vlen > 0 {
		f.Payload = b[off : off+vlen]
	}
	return f, nil
}

func readName(b []byte, off int) (string, int, bool) {
	if off+2 > len(b) {
		return "", off, false
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if n > len(b)-off {
		return "", off, false
	}
	return string(b[off : off+n]), off + n, true
}
