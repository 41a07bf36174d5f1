package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiered-cache/types"
)

type profile struct {
	Name  string
	Score int
}

func TestEnvelopeKeepsHeader(t *testing.T) {
	ts := time.Unix(1700000000, 123456789)
	ent := &types.CacheEntry[profile]{
		Header: types.Header{
			Key:       "user:1",
			Timestamp: ts,
			TTL:       time.Minute,
			Metadata:  types.Metadata{types.MetaTags: []string{"a", "b"}, types.MetaDomain: "profiles"},
		},
		Value: profile{Name: "ada", Score: 7},
	}

	blob, err := EncodeEntry[profile](JSON[profile]{}, ent)
	require.NoError(t, err)

	got, err := DecodeEntry[profile](JSON[profile]{}, blob)
	require.NoError(t, err)
	assert.Equal(t, "user:1", got.Key)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, time.Minute, got.TTL)
	assert.Equal(t, []string{"a", "b"}, got.Metadata.Tags())
	assert.Equal(t, "profiles", got.Metadata.Domain())
	assert.Equal(t, profile{Name: "ada", Score: 7}, got.Value)
	assert.EqualValues(t, len(blob), got.Size)
}

func TestEncodeEntryFailsOnUnserializableValue(t *testing.T) {
	ent := &types.CacheEntry[any]{Header: types.Header{Key: "k"}, Value: make(chan int)}
	_, err := EncodeEntry[any](JSON[any]{}, ent)
	require.Error(t, err)
}

func TestDecodeEntryCorrupt(t *testing.T) {
	_, err := DecodeEntry[string](JSON[string]{}, []byte("{not json"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestNilPointerValueSurvives(t *testing.T) {
	ent := &types.CacheEntry[*profile]{Header: types.Header{Key: "nil", Timestamp: time.Now()}}
	blob, err := EncodeEntry[*profile](JSON[*profile]{}, ent)
	require.NoError(t, err)

	got, err := DecodeEntry[*profile](JSON[*profile]{}, blob)
	require.NoError(t, err)
	assert.Nil(t, got.Value)
}

func TestGobCodec(t *testing.T) {
	c := Gob[profile]{}
	data, err := c.Marshal(profile{Name: "x", Score: 1})
	require.NoError(t, err)

	v, err := c.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, profile{Name: "x", Score: 1}, v)

	_, err = c.Unmarshal([]byte("not gob at all"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestBytesCodecCopies(t *testing.T) {
	src := []byte("abc")
	out, err := Bytes{}.Marshal(src)
	require.NoError(t, err)
	src[0] = 'z'
	assert.Equal(t, []byte("abc"), out)
}

func TestZstdCodec(t *testing.T) {
	z, err := NewZstd[string](JSON[string]{}, 3)
	require.NoError(t, err)

	small, err := z.Marshal("tiny")
	require.NoError(t, err)
	assert.Equal(t, frameRaw, small[0])

	big := strings.Repeat("offline-first ", 500)
	packed, err := z.Marshal(big)
	require.NoError(t, err)
	assert.Equal(t, frameZstd, packed[0])
	assert.Less(t, len(packed), len(big))

	for _, data := range [][]byte{small, packed} {
		v, err := z.Unmarshal(data)
		require.NoError(t, err)
		assert.True(t, v == "tiny" || v == big)
	}

	_, err = z.Unmarshal(nil)
	require.ErrorIs(t, err, ErrCorrupt)
	_, err = z.Unmarshal([]byte{9, 1, 2})
	require.ErrorIs(t, err, ErrCorrupt)
	_, err = z.Unmarshal(append([]byte{frameZstd}, bytes.Repeat([]byte{0xaa}, 8)...))
	require.ErrorIs(t, err, ErrCorrupt)
}
