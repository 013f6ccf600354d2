package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/framecache/codec"
	"github.com/hupe1980/framecache/internal/compress"
	"github.com/hupe1980/framecache/internal/hash"
	"github.com/hupe1980/framecache/model"
)

// Record layout (little endian):
//
//	[0:4]   magic "FCR1"
//	[4]     version
//	[5]     compression type
//	[6]     codec id
//	[7]     reserved
//	[8:12]  CRC32C of bytes [16:]
//	[12:16] metadata length
//	[16:]   metadata, then compressed payload frame
const (
	recordMagic      uint32 = 0x31524346 // "FCR1"
	recordVersion    uint8  = 1
	recordHeaderSize        = 16
)

var (
	errBadMagic    = errors.New("bad record magic")
	errBadVersion  = errors.New("unsupported record version")
	errBadChecksum = errors.New("record checksum mismatch")
	errTruncated   = errors.New("truncated record")
)

// recordMeta is the codec-encoded entry metadata stored in every record.
type recordMeta struct {
	Key            string           `json:"key"`
	ContentType    uint8            `json:"contentType"`
	SizeBytes      int64            `json:"sizeBytes"`
	Original       model.Dimensions `json:"original"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastAccessedAt time.Time        `json:"lastAccessedAt"`
	AccessCount    uint64           `json:"accessCount"`
}

func metaOf(e model.Entry) recordMeta {
	return recordMeta{
		Key:            e.Key.String(),
		ContentType:    uint8(e.ContentType),
		SizeBytes:      e.Size(),
		Original:       e.Original,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		AccessCount:    e.AccessCount,
	}
}

func (m recordMeta) entry() (model.Entry, error) {
	key, err := model.ParseKey(m.Key)
	if err != nil {
		return model.Entry{}, err
	}
	return model.Entry{
		Key:            key,
		ContentType:    model.ContentType(m.ContentType),
		SizeBytes:      m.SizeBytes,
		Original:       m.Original,
		CreatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
		AccessCount:    m.AccessCount,
	}, nil
}

func encodeRecord(e model.Entry, ct compress.Type, c codec.Codec) ([]byte, error) {
	id := codec.IDOf(c)
	if id == codec.IDUnknown {
		return nil, fmt.Errorf("codec %q has no record id", c.Name())
	}
	meta, err := c.Marshal(metaOf(e))
	if err != nil {
		return nil, err
	}
	frame, err := compress.Encode(e.Payload, ct)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(meta)+len(frame))
	binary.LittleEndian.PutUint32(buf[0:4], recordMagic)
	buf[4] = recordVersion
	buf[5] = byte(ct)
	buf[6] = byte(id)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(meta)))
	buf = append(buf, meta...)
	buf = append(buf, frame...)
	binary.LittleEndian.PutUint32(buf[8:12], hash.CRC32C(buf[recordHeaderSize:]))
	return buf, nil
}

// decodeRecord parses a record. With metaOnly the payload is not decompressed.
func decodeRecord(data []byte, metaOnly bool) (model.Entry, error) {
	if len(data) < recordHeaderSize {
		return model.Entry{}, errTruncated
	}
	if binary.LittleEndian.Uint32(data[0:4]) != recordMagic {
		return model.Entry{}, errBadMagic
	}
	if data[4] != recordVersion {
		return model.Entry{}, fmt.Errorf("%w: %d", errBadVersion, data[4])
	}
	if !hash.Verify(data[recordHeaderSize:], binary.LittleEndian.Uint32(data[8:12])) {
		return model.Entry{}, errBadChecksum
	}
	c, ok := codec.ByID(codec.ID(data[6]))
	if !ok {
		return model.Entry{}, fmt.Errorf("unknown codec id %d", data[6])
	}
	metaLen := int(binary.LittleEndian.Uint32(data[12:16]))
	if recordHeaderSize+metaLen > len(data) {
		return model.Entry{}, errTruncated
	}

	var meta recordMeta
	if err := c.Unmarshal(data[recordHeaderSize:recordHeaderSize+metaLen], &meta); err != nil {
		return model.Entry{}, err
	}
	e, err := meta.entry()
	if err != nil {
		return model.Entry{}, err
	}
	if metaOnly {
		return e, nil
	}

	payload, err := compress.Decode(data[recordHeaderSize+metaLen:], compress.Type(data[5]))
	if err != nil {
		return model.Entry{}, err
	}
	e.Payload = payload
	return e, nil
}
