/*
Package codec turns cached values into bytes for the durable tier.

The cache engine never looks inside a value. It asks a Codec for bytes when it
needs to persist an entry or estimate its size, and for a value back when it
promotes a durable hit.
*/
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt is returned when stored bytes cannot be turned back into an entry.
var ErrCorrupt = errors.New("corrupt cache payload")

// Codec is the pluggable serialization strategy for values of type V.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSON encodes values with encoding/json.
type JSON[V any] struct{}

func (JSON[V]) Marshal(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}

// Gob encodes values with encoding/gob. Interface-typed fields must be
// registered with gob.Register by the caller.
type Gob[V any] struct{}

func (Gob[V]) Marshal(v V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}

// Bytes passes raw byte slices through, copying so callers cannot alias stored data.
type Bytes struct{}

func (Bytes) Marshal(v []byte) ([]byte, error) {
	return bytes.Clone(v), nil
}

func (Bytes) Unmarshal(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}
