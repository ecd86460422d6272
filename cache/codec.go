package cache

import (
	"encoding/json"
	"fmt"
)

// Codec converts values to and from the bytes stored by persistent tiers.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// RawCodec stores byte slices unchanged.
type RawCodec struct{}

// Encode implements Codec.
func (RawCodec) Encode(v []byte) ([]byte, error) {
	return v, nil
}

// Decode implements Codec.
func (RawCodec) Decode(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// JSONCodec stores values as JSON.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return v, nil
}
