package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/krisalay/tiered-cache/types"
)

// envelope is the durable representation of a whole entry.
type envelope struct {
	Key       string         `json:"k"`
	Timestamp int64          `json:"ts"`
	TTL       int64          `json:"ttl,omitempty"`
	Metadata  types.Metadata `json:"meta,omitempty"`
	Value     []byte         `json:"v"`
}

// EncodeEntry serializes the entry (header and value) into one opaque blob.
func EncodeEntry[V any](c Codec[V], ent *types.CacheEntry[V]) ([]byte, error) {
	raw, err := c.Marshal(ent.Value)
	if err != nil {
		return nil, fmt.Errorf("encode value for %q: %w", ent.Key, err)
	}
	blob, err := json.Marshal(envelope{
		Key:       ent.Key,
		Timestamp: ent.Timestamp.UnixNano(),
		TTL:       int64(ent.TTL),
		Metadata:  ent.Metadata,
		Value:     raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode entry %q: %w", ent.Key, err)
	}
	return blob, nil
}

// DecodeEntry is the inverse of EncodeEntry. Size is set to the blob length.
func DecodeEntry[V any](c Codec[V], blob []byte) (*types.CacheEntry[V], error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	v, err := c.Unmarshal(env.Value)
	if err != nil {
		return nil, err
	}
	return &types.CacheEntry[V]{
		Header: types.Header{
			Key:       env.Key,
			Timestamp: time.Unix(0, env.Timestamp),
			TTL:       time.Duration(env.TTL),
			Metadata:  env.Metadata,
			Size:      int64(len(blob)),
		},
		Value: v,
	}, nil
}

// ToRecord builds the durable row for an encoded entry.
func ToRecord(h *types.Header, blob []byte) types.Record {
	return types.Record{
		Key:       h.Key,
		Timestamp: h.Timestamp,
		TTL:       h.TTL,
		Blob:      blob,
	}
}
