package pfcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaderWithoutSEID(t *testing.T) {
	// version=1, S=0, message_type=1 (heartbeat request), length=4,
	// sequence=0x010203, spare byte.
	buf := []byte{0x20, 0x01, 0x00, 0x04, 0x01, 0x02, 0x03, 0x00}
	h, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.Version)
	assert.False(t, h.HasSEID)
	assert.EqualValues(t, 1, h.MessageType)
	assert.EqualValues(t, 4, h.Length)
	assert.EqualValues(t, 0x010203, h.SequenceNo)
}

func TestParseHeaderWithSEID(t *testing.T) {
	// version=1, S=1, message_type=50 (session establishment request).
	buf := []byte{
		0x22, 50, 0x00, 0x10,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x2A, // SEID = 42
		0x04, 0x05, 0x06, 0x00, // sequence 0x040506, spare
	}
	h, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.True(t, h.HasSEID)
	assert.EqualValues(t, 42, h.SEID)
	assert.EqualValues(t, 0x040506, h.SequenceNo)
}

func TestParseHeaderShortBuffer(t *testing.T) {
	_, err := ParseHeader([]byte{0x20, 0x01})
	assert.Error(t, err)
}

func TestParseHeaderShortBufferWithSEIDFlag(t *testing.T) {
	buf := []byte{0x22, 50, 0x00, 0x10, 0x00, 0x00}
	_, err := ParseHeader(buf)
	assert.Error(t, err)
}
