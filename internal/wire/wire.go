package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1
	flagStale byte = 1 << 0
)

const headerBytes = 4 + 1 + 1 + 1 + 8 + 8 + 4

var (
	ErrCorrupt = errors.New("optisync: corrupt entry")
	magic4     = [...]byte{'O', 'S', 'Y', 'N'}
)

// Record is one cache entry as stored by a provider.
type Record struct {
	Gen       uint64
	FetchedAt int64 // unix nanos
	Stale     bool
	Payload   []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1) | flags(1) | gen(u64 be) | fetchedAt(i64 be) | vlen(u32 be) | payload(vlen)
func Encode(r Record) []byte {
	var buf bytes.Buffer
	buf.Grow(headerBytes + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var flags byte
	if r.Stale {
		flags |= flagStale
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], r.Gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(r.FetchedAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])

	buf.Write(r.Payload)
	return buf.Bytes()
}

// Decode parses b. The returned Payload aliases b.
func Decode(b []byte) (Record, error) {
	if len(b) < headerBytes || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Record{}, ErrCorrupt
	}
	flags := b[6]
	if flags&^flagStale != 0 {
		return Record{}, ErrCorrupt
	}

	off := 7
	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	fetchedAt := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// exact length: no trailing bytes
	if vlen < 0 || vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}

	return Record{
		Gen:       gen,
		FetchedAt: fetchedAt,
		Stale:     flags&flagStale != 0,
		Payload:   b[off : off+vlen],
	}, nil
}

// Rewrite returns a copy of the encoded record b with gen and stale replaced.
// The payload and fetch time are carried over byte-for-byte.
func Rewrite(b []byte, gen uint64, stale bool) ([]byte, error) {
	r, err := Decode(b)
	if err != nil {
		return nil, err
	}
	r.Gen = gen
	r.Stale = stale
	return Encode(r), nil
}
