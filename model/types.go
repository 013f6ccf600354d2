package model

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidKey is returned when a key string cannot be parsed.
var ErrInvalidKey = errors.New("invalid key")

// Key identifies one cached artifact: a frame (or frame-derived image) of a source.
type Key struct {
	// SourceID is the logical source (e.g. a video asset id).
	SourceID string
	// Index is the frame index within the source.
	Index uint32
}

// NewKey returns the key for frame index of sourceID.
func NewKey(sourceID string, index uint32) Key {
	return Key{SourceID: sourceID, Index: index}
}

// String returns the stable textual form "<escaped source>/<index>".
func (k Key) String() string {
	return url.PathEscape(k.SourceID) + "/" + strconv.FormatUint(uint64(k.Index), 10)
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	src, err := url.PathUnescape(s[:i])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrInvalidKey, s, err)
	}
	idx, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrInvalidKey, s, err)
	}
	return Key{SourceID: src, Index: uint32(idx)}, nil
}

// ContentType selects the payload schema of an entry.
type ContentType uint8

const (
	ContentUnknown        ContentType = iota
	ContentThumbnail                  // JPEG thumbnail of a single frame
	ContentFrame                      // full-size encoded frame
	ContentOptimizedImage             // re-encoded, size-reduced image
	ContentQualityReport              // encoded quality analysis
)

// String returns the name of the content type.
func (c ContentType) String() string {
	switch c {
	case ContentThumbnail:
		return "thumbnail"
	case ContentFrame:
		return "frame"
	case ContentOptimizedImage:
		return "optimized_image"
	case ContentQualityReport:
		return "quality_report"
	default:
		return "unknown"
	}
}

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Entry is one cached artifact.
//
// Payload is treated as immutable once an entry is handed to a cache tier.
// Each tier owns its own copy; moving an entry between tiers uses Clone.
type Entry struct {
	Key            Key
	ContentType    ContentType
	Payload        []byte
	SizeBytes      int64
	Original       Dimensions
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64
}

// NewEntry builds an entry for payload created at now.
// SizeBytes is derived from the payload length.
func NewEntry(key Key, ct ContentType, payload []byte, original Dimensions, now time.Time) Entry {
	return Entry{
		Key:            key,
		ContentType:    ct,
		Payload:        payload,
		SizeBytes:      int64(len(payload)),
		Original:       original,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	c := e
	if e.Payload != nil {
		c.Payload = make([]byte, len(e.Payload))
		copy(c.Payload, e.Payload)
	}
	return c
}

// Size returns SizeBytes, falling back to the payload length when unset.
func (e Entry) Size() int64 {
	if e.SizeBytes > 0 {
		return e.SizeBytes
	}
	return int64(len(e.Payload))
}
