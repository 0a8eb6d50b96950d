// Package codec provides the serialization contract used for event payloads
// and projection head records. The engine only depends on the Codec interface;
// callers may swap in their own implementation.
package codec

import (
	"github.com/goccy/go-json"
	"github.com/golang/snappy"
)

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON encodes with goccy/go-json. It is the default codec.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Snappy wraps another codec with snappy block compression. Useful for large
// projection values where row size limits of the backing table store bite.
type Snappy struct {
	Inner Codec
}

func (c Snappy) Marshal(v any) ([]byte, error) {
	inner := c.inner()
	data, err := inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func (c Snappy) Unmarshal(data []byte, v any) error {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return err
	}
	return c.inner().Unmarshal(decoded, v)
}

func (c Snappy) inner() Codec {
	if c.Inner != nil {
		return c.Inner
	}
	return JSON{}
}
