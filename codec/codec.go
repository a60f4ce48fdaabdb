// Package codec holds the value (de)serializers a cache can be built with.
// Every codec must round-trip the values it encodes: a rollback restores the
// stored bytes and views decode them again.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
