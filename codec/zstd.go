package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the size below which compression is not worth it.
const compressThreshold = 1024

// Frame markers so payloads written below the threshold stay readable.
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

/*
Zstd wraps another codec and compresses its output with zstd when the encoded
value is larger than 1 KiB and compression actually shrinks it.
*/
type Zstd[V any] struct {
	inner   Codec[V]
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd creates a compressing codec around inner at the given zstd level (1-22).
func NewZstd[V any](inner Codec[V], level int) (*Zstd[V], error) {
	if level <= 0 {
		level = 3
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Zstd[V]{inner: inner, encoder: enc, decoder: dec}, nil
}

func (z *Zstd[V]) Marshal(v V) ([]byte, error) {
	raw, err := z.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) > compressThreshold {
		packed := z.encoder.EncodeAll(raw, []byte{frameZstd})
		if len(packed) < len(raw)+1 {
			return packed, nil
		}
	}
	return append([]byte{frameRaw}, raw...), nil
}

func (z *Zstd[V]) Unmarshal(data []byte) (V, error) {
	var zero V
	if len(data) == 0 {
		return zero, fmt.Errorf("%w: empty frame", ErrCorrupt)
	}
	switch data[0] {
	case frameRaw:
		return z.inner.Unmarshal(data[1:])
	case frameZstd:
		raw, err := z.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return zero, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return z.inner.Unmarshal(raw)
	default:
		return zero, fmt.Errorf("%w: unknown frame marker %d", ErrCorrupt, data[0])
	}
}
