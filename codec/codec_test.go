package codec

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type artwork struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Pick     bool      `json:"pick"`
	EndsAt   time.Time `json:"endDate"`
	Keywords []string  `json:"keywords"`
}

func sample() artwork {
	return artwork{
		ID:       42,
		Title:    "Untitled",
		Pick:     true,
		EndsAt:   time.Date(2023, 2, 14, 18, 0, 0, 0, time.UTC),
		Keywords: []string{"oil", "canvas"},
	}
}

func TestValueCodecsKeepDomainValues(t *testing.T) {
	codecs := map[string]Codec[artwork]{
		"json":      JSON[artwork]{},
		"cbor":      MustCBOR[artwork](false),
		"cbor-det":  MustCBOR[artwork](true),
		"msgpack":   Msgpack[artwork]{},
		"limit":     Limit[artwork]{Inner: JSON[artwork]{}, MaxDecode: 1024},
		"strict":    JSON[artwork]{Strict: true},
		"unlimited": Limit[artwork]{Inner: Msgpack[artwork]{}},
	}
	for name, cd := range codecs {
		t.Run(name, func(t *testing.T) {
			want := sample()
			b, err := cd.Encode(want)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := cd.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !got.EndsAt.Equal(want.EndsAt) {
				t.Fatalf("time mismatch: got %v want %v", got.EndsAt, want.EndsAt)
			}
			got.EndsAt = want.EndsAt
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %+v want %+v", got, want)
			}
		})
	}
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	b, err := Msgpack[artwork]{}.Encode(sample())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["endDate"]; !ok {
		t.Fatalf("expected json tag name as key, got keys %v", reflect.ValueOf(m).MapKeys())
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	cd := MustCBOR[map[string]int](true)
	a, err := cd.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		b, err := cd.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
		if err != nil {
			t.Fatal(err)
		}
		if string(a) != string(b) {
			t.Fatalf("deterministic encoding differs between runs")
		}
	}
}

func TestStrictJSONRejectsUnknownFields(t *testing.T) {
	payload := []byte(`{"id":1,"title":"x","auctionId":7}`)
	if _, err := (JSON[artwork]{}).Decode(payload); err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if _, err := (JSON[artwork]{Strict: true}).Decode(payload); err == nil {
		t.Fatalf("strict decode should reject unknown field")
	}
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	cd := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := cd.Decode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if s, err := cd.Decode([]byte("1234")); err != nil || s != "1234" {
		t.Fatalf("boundary decode: %q %v", s, err)
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	out[0] = 'z'
	if src[0] != 'a' {
		t.Fatalf("Bytes.Decode must not alias the stored buffer")
	}
}

func TestProtobuf(t *testing.T) {
	cd := NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })
	in, err := structpb.NewStruct(map[string]any{"id": 42, "pick": false})
	if err != nil {
		t.Fatal(err)
	}
	b, err := cd.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := cd.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !proto.Equal(in, out) {
		t.Fatalf("got %v want %v", out, in)
	}

	var zero Protobuf[*structpb.Struct]
	if _, err := zero.Decode(b); err == nil {
		t.Fatalf("expected error without constructor")
	}
}
