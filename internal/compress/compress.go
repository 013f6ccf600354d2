// Package compress frames cache payloads with optional LZ4 or ZSTD compression.
//
// Frame format: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 means Data is stored uncompressed.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None stores payloads as-is.
	None Type = 0
	// LZ4 is fast block compression, good for hot data.
	LZ4 Type = 1
	// ZSTD gives a better ratio, good for cold data.
	ZSTD Type = 2
)

// String returns the algorithm name.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compress(%d)", uint8(t))
	}
}

// ParseType maps a name back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("unknown compression %q", s)
	}
}

// HeaderSize is the size of the frame header.
const HeaderSize = 8

var (
	// ErrCorrupt is returned when a frame cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt frame")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode frames data using t. If compression does not save at least 10%
// the data is stored uncompressed.
func Encode(data []byte, t Type) ([]byte, error) {
	var compressed []byte
	var err error

	switch t {
	case LZ4:
		compressed, err = encodeLZ4(data)
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, HeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[HeaderSize:], data)
		return out, nil
	}

	out := make([]byte, HeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[HeaderSize:], compressed)
	return out, nil
}

func encodeLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return buf[:n], nil
}

// Decode reverses Encode. t must be the type the frame was written with.
func Decode(frame []byte, t Type) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}

	rawSize := binary.LittleEndian.Uint32(frame[0:])
	compSize := binary.LittleEndian.Uint32(frame[4:])

	if compSize == 0 {
		if uint64(len(frame)) != uint64(HeaderSize)+uint64(rawSize) {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		out := make([]byte, rawSize)
		copy(out, frame[HeaderSize:])
		return out, nil
	}

	if uint64(len(frame)) != uint64(HeaderSize)+uint64(compSize) {
		return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
	}
	body := frame[HeaderSize:]
	out := make([]byte, rawSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed frame with type %s", ErrCorrupt, t)
	}
}
