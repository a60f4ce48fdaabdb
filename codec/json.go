package codec

import (
	"bytes"
	"encoding/json"
)

// JSON encodes with encoding/json. Marketplace payloads arrive as JSON, so
// this is the codec that keeps the cached form closest to the wire.
type JSON[V any] struct {
	// Strict rejects payloads carrying fields V does not declare.
	Strict bool
}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (c JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if !c.Strict {
		err := json.Unmarshal(b, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}
