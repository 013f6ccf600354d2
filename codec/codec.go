// Package codec centralizes metadata encoding for persisted cache records.
//
// Persisted records store the codec name in their header, so changing the
// default codec never breaks records written by an older process.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ID is the one-byte on-disk identifier of a built-in codec.
type ID uint8

const (
	IDUnknown ID = iota
	IDJSON
	IDGoJSON
)

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// ByID returns a built-in codec by its on-disk identifier.
func ByID(id ID) (Codec, bool) {
	switch id {
	case IDJSON:
		return JSON{}, true
	case IDGoJSON:
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// IDOf returns the on-disk identifier of c, or IDUnknown for custom codecs.
func IDOf(c Codec) ID {
	if c == nil {
		return IDUnknown
	}
	switch c.Name() {
	case "json":
		return IDJSON
	case "go-json":
		return IDGoJSON
	default:
		return IDUnknown
	}
}

// MustMarshal is a helper for internal tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
