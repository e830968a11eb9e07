package bmff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMdatHeaderSize_CompactForSmallPayload(t *testing.T) {
	assert.Equal(t, 8, MdatHeaderSize(100))
}

func TestMdatHeaderSize_ExtendedWhenPayloadPlusHeaderOverflowsUint32(t *testing.T) {
	assert.Equal(t, 16, MdatHeaderSize(uint32Max))
}

func TestWriteMdatHeader_CompactHeaderRoundTrips(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf := make([]byte, 8+len(payload))
	w := NewWriter(buf)
	w.WriteMdatHeader(int64(len(payload)))
	w.Write(payload)

	r := NewReader(w.Bytes())
	require.True(t, r.Next())
	assert.Equal(t, TypeMdat, r.Type())
	assert.Equal(t, uint64(8+len(payload)), r.Size())
	assert.Equal(t, payload, r.Data())
}

func TestWriteMdatHeader_ExtendedHeaderUsesSizeOneSentinel(t *testing.T) {
	const hugePayload = int64(uint32Max) // forces the 16-byte extended header
	buf := make([]byte, 16)
	w := NewWriter(buf)
	w.WriteMdatHeader(hugePayload)

	assert.Equal(t, uint32(1), be.Uint32(w.Bytes()[0:4]))
	assert.Equal(t, TypeMdat, BoxType([4]byte(w.Bytes()[4:8])))
	assert.Equal(t, uint64(hugePayload)+16, be.Uint64(w.Bytes()[8:16]))
}
