package cache

import (
	"bytes"
	"encoding/json"

	"github.com/pierrec/lz4/v4"
)

// Serializer is the opaque, user-pluggable codec the compression layer
// wraps with LZ4 framing. The contract is a round trip: Unmarshal(Marshal(v))
// must reproduce v for every v the caller stores.
type Serializer[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte, out *V) error
}

// jsonSerializer is the default Serializer, matching the reference
// implementation's own DefaultTransformer.
type jsonSerializer[V any] struct{}

func (jsonSerializer[V]) Marshal(v V) ([]byte, error) { return json.Marshal(v) }

func (jsonSerializer[V]) Unmarshal(data []byte, out *V) error {
	return json.Unmarshal(data, out)
}

// compressValue serializes v and LZ4-frames the result. The returned
// original length must accompany the bytes if they are ever persisted
// externally, since the frame itself does not carry it.
func compressValue[V any](ser Serializer[V], v V) (compressed []byte, origSize int, err error) {
	raw, err := ser.Marshal(v)
	if err != nil {
		return nil, 0, err
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, 0, err
	}
	if err := w.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), len(raw), nil
}

// decompressValue reverses compressValue.
func decompressValue[V any](ser Serializer[V], compressed []byte, origSize int) (V, error) {
	var zero V
	r := lz4.NewReader(bytes.NewReader(compressed))
	raw := make([]byte, 0, origSize)
	buf := bytes.NewBuffer(raw)
	if _, err := buf.ReadFrom(r); err != nil {
		return zero, err
	}
	var out V
	if err := ser.Unmarshal(buf.Bytes(), &out); err != nil {
		return zero, err
	}
	return out, nil
}
