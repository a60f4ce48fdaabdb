package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecode(t *testing.T, b []byte) Record {
	t.Helper()
	r, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return r
}

func TestRoundTrip(t *testing.T) {
	cases := []Record{
		{},
		{Gen: 42, FetchedAt: 1700000000000000000, Payload: []byte("hello")},
		{Gen: math.MaxUint64, FetchedAt: -1, Stale: true, Payload: []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		got := mustDecode(t, Encode(tc))
		if got.Gen != tc.Gen || got.FetchedAt != tc.FetchedAt || got.Stale != tc.Stale {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Encode(Record{Gen: 7, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := Encode(Record{Gen: 1, Payload: []byte("abc")})

	cases := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { b[4] = version + 1; return b }},
		{"bad kind", func(b []byte) []byte { b[5] = kindEntry + 1; return b }},
		{"unknown flag", func(b []byte) []byte { b[6] = 0x80; return b }},
		{"vlen beyond buffer", func(b []byte) []byte {
			// vlen sits after magic, ver, kind, flags, gen and fetchedAt
			binary.BigEndian.PutUint32(b[23:27], uint32(len("abc")+1))
			return b
		}},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
		{"short header", func(b []byte) []byte { return b[:10] }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.mutate(append([]byte(nil), enc...))
			if _, err := Decode(b); err != ErrCorrupt {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestZeroCopyPayload(t *testing.T) {
	enc := Encode(Record{Gen: 1, Payload: []byte("Z")})
	r := mustDecode(t, enc)
	r.Payload[0] = 'Q'
	if mustDecode(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}

func TestRewriteKeepsPayloadAndFetchTime(t *testing.T) {
	orig := Record{Gen: 3, FetchedAt: 99, Payload: []byte(`{"pick":false}`)}
	enc := Encode(orig)

	out, err := Rewrite(enc, 4, true)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	got := mustDecode(t, out)
	if got.Gen != 4 || !got.Stale {
		t.Fatalf("rewrite header: got %+v", got)
	}
	if got.FetchedAt != orig.FetchedAt || !bytes.Equal(got.Payload, orig.Payload) {
		t.Fatalf("rewrite must keep payload and fetch time: got %+v", got)
	}
	// source buffer untouched
	if src := mustDecode(t, enc); src.Gen != 3 || src.Stale {
		t.Fatalf("source mutated: %+v", src)
	}

	if _, err := Rewrite([]byte("junk"), 1, false); err == nil {
		t.Fatalf("expected error rewriting corrupt record")
	}
}
