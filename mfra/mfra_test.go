package mfra

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/fmp4remux/errs"
)

var be = binary.BigEndian

// tfraEntry is one entry to embed in a hand-built tfra box, widths fixed
// at one byte each (length_size_of_*_number == 0).
type tfraEntry struct {
	time       uint64
	moofOffset uint64
	traf       uint8
	trun       uint8
	sample     uint8
}

// buildMfra assembles a minimal mfra box: one tfra (given version and
// entries) followed by an mfro recording the whole mfra box's own size.
func buildMfra(t *testing.T, trackID uint32, version uint8, entries []tfraEntry) []byte {
	t.Helper()

	var tfraData bytes.Buffer
	tfraData.Write(u32(trackID))
	tfraData.Write(u32(0)) // reserved + length_size_of_*_number, all zero (1-byte widths)
	tfraData.Write(u32(uint32(len(entries))))
	for _, e := range entries {
		if version == 1 {
			tfraData.Write(u64(e.time))
			tfraData.Write(u64(e.moofOffset))
		} else {
			tfraData.Write(u32(uint32(e.time)))
			tfraData.Write(u32(uint32(e.moofOffset)))
		}
		tfraData.WriteByte(e.traf)
		tfraData.WriteByte(e.trun)
		tfraData.WriteByte(e.sample)
	}
	tfra := fullBox("tfra", version, 0, tfraData.Bytes())

	mfroData := u32(0) // patched below
	mfro := fullBox("mfro", 0, 0, mfroData)

	mfraSize := 8 + len(tfra) + len(mfro)
	be.PutUint32(mfro[len(mfro)-4:], uint32(mfraSize))

	var out bytes.Buffer
	out.Write(u32(uint32(mfraSize)))
	out.WriteString("mfra")
	out.Write(tfra)
	out.Write(mfro)
	return out.Bytes()
}

func fullBox(boxType string, version uint8, flags uint32, data []byte) []byte {
	size := 12 + len(data)
	var out bytes.Buffer
	out.Write(u32(uint32(size)))
	out.WriteString(boxType)
	out.Write(u32(uint32(version)<<24 | flags&0x00ffffff))
	out.Write(data)
	return out.Bytes()
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	be.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	be.PutUint64(b, v)
	return b
}

func TestRead_DecodesVersion0Entries(t *testing.T) {
	buf := buildMfra(t, 7, 0, []tfraEntry{
		{time: 1000, moofOffset: 48, traf: 1, trun: 1, sample: 1},
		{time: 2000, moofOffset: 512, traf: 1, trun: 1, sample: 2},
	})

	idx, err := Read(bytes.NewReader(buf), int64(len(buf)))
	require.NoError(t, err)
	require.Len(t, idx.Tracks, 1)

	tr := idx.Tracks[0]
	assert.Equal(t, uint32(7), tr.TrackID)
	assert.Equal(t, uint8(0), tr.Version)
	require.Len(t, tr.Entries, 2)
	assert.Equal(t, uint64(1000), tr.Entries[0].Time)
	assert.Equal(t, uint64(48), tr.Entries[0].MoofOffset)
	assert.Equal(t, uint32(1), tr.Entries[0].SampleNumber)
	assert.Equal(t, uint64(2000), tr.Entries[1].Time)
	assert.Equal(t, uint64(512), tr.Entries[1].MoofOffset)
	assert.Equal(t, uint32(len(buf)), idx.MfraSize)
}

func TestRead_DecodesVersion1SixtyFourBitEntries(t *testing.T) {
	buf := buildMfra(t, 3, 1, []tfraEntry{
		{time: 1 << 40, moofOffset: 1 << 40, traf: 1, trun: 1, sample: 1},
	})

	idx, err := Read(bytes.NewReader(buf), int64(len(buf)))
	require.NoError(t, err)
	require.Len(t, idx.Tracks, 1)
	assert.Equal(t, uint8(1), idx.Tracks[0].Version)
	assert.Equal(t, uint64(1<<40), idx.Tracks[0].Entries[0].Time)
	assert.Equal(t, uint64(1<<40), idx.Tracks[0].Entries[0].MoofOffset)
}

func TestRead_AbsentMfraYieldsZeroValueIndex(t *testing.T) {
	buf := []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}
	idx, err := Read(bytes.NewReader(buf), int64(len(buf)))
	require.NoError(t, err)
	assert.Empty(t, idx.Tracks)
	assert.Zero(t, idx.MfraSize)
}

func TestRead_UnsupportedTfraVersionFails(t *testing.T) {
	buf := buildMfra(t, 1, 2, []tfraEntry{{time: 0, moofOffset: 0}})

	_, err := Read(bytes.NewReader(buf), int64(len(buf)))
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindUnsupportedTfraVersion, e.Kind)
}
