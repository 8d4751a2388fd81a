package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil)
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// encode serializes v as JSON, optionally zstd-compressed.
func encode(v any, compress bool) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	if !compress {
		return data, nil
	}
	return zstdEncoder().EncodeAll(data, nil), nil
}

// decode reverses encode. Compressed records are recognized by the zstd
// frame magic, so plain and compressed records can share a store.
func decode(data []byte, v any) error {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := zstdDecoder().DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("%w: decompressing: %v", ErrCorrupt, err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}
