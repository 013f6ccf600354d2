package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C_StreamingMatchesOneShot(t *testing.T) {
	data := []byte("framecache record body")

	h := NewCRC32C()
	_, _ = h.Write(data[:5])
	_, _ = h.Write(data[5:])

	assert.Equal(t, CRC32C(data), h.Sum32())
	assert.True(t, Verify(data, h.Sum32()))
	assert.False(t, Verify(append([]byte{1}, data...), h.Sum32()))
}

func TestCRC32C_KnownVector(t *testing.T) {
	// RFC 3720 test vector: 32 bytes of zeros.
	assert.Equal(t, uint32(0x8a9136aa), CRC32C(make([]byte, 32)))
}
