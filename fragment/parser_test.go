package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/fmp4remux/bmff"
	"github.com/tetsuo/fmp4remux/errs"
	"github.com/tetsuo/fmp4remux/track"
)

const testTrackID = 1

type trunSpec struct {
	duration uint32
	size     uint32
	flags    uint32
	cto      int32
}

// buildFragment assembles a single moof+mdat buffer: one mfhd, one traf with
// tfhd(trackID only)+tfdt(baseMediaDecodeTime)+trun(entries), and an mdat
// whose payload is the concatenation of each entry's sampleData.
func buildFragment(t *testing.T, baseMediaDecodeTime uint64, trunFlags uint32, trunVersion uint8, entries []trunSpec, sampleData [][]byte) []byte {
	t.Helper()

	payloadLen := 0
	for _, d := range sampleData {
		payloadLen += len(d)
	}

	buf := make([]byte, 4096)
	w := bmff.NewWriter(buf)

	w.StartBox(bmff.TypeMoof)
	w.WriteMfhd(1)

	w.StartBox(bmff.TypeTraf)
	w.WriteTfhd(0, testTrackID)
	w.WriteTfdt(baseMediaDecodeTime)

	w.StartFullBox(bmff.TypeTrun, trunVersion, trunFlags)
	w.Write(u32(uint32(len(entries))))
	moofSizePlaceholderPos := -1
	if trunFlags&bmff.TrunDataOffsetPresent != 0 {
		moofSizePlaceholderPos = w.Len()
		w.Write(u32(0)) // patched below once moof's total size is known
	}
	for _, e := range entries {
		if trunFlags&bmff.TrunSampleDurationPresent != 0 {
			w.Write(u32(e.duration))
		}
		if trunFlags&bmff.TrunSampleSizePresent != 0 {
			w.Write(u32(e.size))
		}
		if trunFlags&bmff.TrunSampleFlagsPresent != 0 {
			w.Write(u32(e.flags))
		}
		if trunFlags&bmff.TrunSampleCompositionTimeOffsetPresent != 0 {
			w.Write(i32(e.cto))
		}
	}
	w.EndBox() // trun
	w.EndBox() // traf
	w.EndBox() // moof

	moofBytes := append([]byte(nil), w.Bytes()...)
	moofSize := len(moofBytes)

	if moofSizePlaceholderPos != -1 {
		// data_offset is relative to the start of moof; mdat's payload
		// begins right after the whole moof box + mdat's own 8-byte header.
		be.PutUint32(moofBytes[moofSizePlaceholderPos:], uint32(moofSize+8))
	}

	out := make([]byte, moofSize+8+payloadLen)
	copy(out, moofBytes)
	w2 := bmff.NewWriter(out[moofSize:])
	w2.WriteMdatHeader(int64(payloadLen))
	for _, d := range sampleData {
		w2.Write(d)
	}
	copy(out[moofSize:], w2.Bytes())
	return out
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	be.PutUint32(b, v)
	return b
}

func i32(v int32) []byte {
	return u32(uint32(v))
}

func testConfig() track.Config {
	return track.Config{TrackID: testTrackID, Timescale: 1000}
}

func TestParseFragment_DecodesBasicSamples(t *testing.T) {
	flags := bmff.TrunDataOffsetPresent | bmff.TrunSampleDurationPresent | bmff.TrunSampleSizePresent | bmff.TrunSampleFlagsPresent
	entries := []trunSpec{
		{duration: 40, size: 4, flags: 0x02000000}, // sync sample
		{duration: 40, size: 4, flags: 0x01010000}, // non-sync
	}
	data := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}
	buf := buildFragment(t, 1000, flags, 0, entries, data)

	p := NewParser(testConfig(), Options{}, nil)
	samples, err := p.ParseFragment(buf)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, int64(1000), samples[0].DTS)
	assert.Equal(t, int64(4), samples[0].Size)
	assert.True(t, samples[0].IsKeyframe)
	assert.Equal(t, []byte{1, 2, 3, 4}, samples[0].Data)

	assert.Equal(t, int64(1040), samples[1].DTS)
	assert.False(t, samples[1].IsKeyframe)
	assert.Equal(t, []byte{5, 6, 7, 8}, samples[1].Data)
}

func TestParseFragment_Version1NegativeCTOIsSigned(t *testing.T) {
	flags := bmff.TrunDataOffsetPresent | bmff.TrunSampleDurationPresent | bmff.TrunSampleSizePresent |
		bmff.TrunSampleFlagsPresent | bmff.TrunSampleCompositionTimeOffsetPresent
	entries := []trunSpec{
		{duration: 40, size: 4, flags: 0x02000000, cto: -20},
	}
	data := [][]byte{{9, 9, 9, 9}}
	buf := buildFragment(t, 0, flags, 1, entries, data)

	p := NewParser(testConfig(), Options{}, nil)
	samples, err := p.ParseFragment(buf)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(-20), samples[0].CTS-samples[0].DTS)
}

func TestParseFragment_Version0CTOIsUnsigned(t *testing.T) {
	flags := bmff.TrunDataOffsetPresent | bmff.TrunSampleDurationPresent | bmff.TrunSampleSizePresent |
		bmff.TrunSampleFlagsPresent | bmff.TrunSampleCompositionTimeOffsetPresent
	// A cto value whose top bit is set would be negative if misread as
	// signed; version 0 must keep it as the large unsigned value instead.
	entries := []trunSpec{
		{duration: 40, size: 4, flags: 0x02000000, cto: -1}, // raw bits 0xffffffff
	}
	data := [][]byte{{1, 1, 1, 1}}
	buf := buildFragment(t, 0, flags, 0, entries, data)

	p := NewParser(testConfig(), Options{}, nil)
	samples, err := p.ParseFragment(buf)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(0xffffffff), samples[0].CTS-samples[0].DTS)
}

func TestParseFragment_UnmatchedTrackIDReturnsNoSamples(t *testing.T) {
	flags := bmff.TrunDataOffsetPresent | bmff.TrunSampleDurationPresent | bmff.TrunSampleSizePresent | bmff.TrunSampleFlagsPresent
	entries := []trunSpec{{duration: 40, size: 4, flags: 0x02000000}}
	data := [][]byte{{1, 2, 3, 4}}
	buf := buildFragment(t, 0, flags, 0, entries, data)

	cfg := testConfig()
	cfg.TrackID = 99
	p := NewParser(cfg, Options{}, nil)
	samples, err := p.ParseFragment(buf)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestParseFragment_MissingTrunDataOffsetFailsWithoutFallback(t *testing.T) {
	flags := bmff.TrunSampleDurationPresent | bmff.TrunSampleSizePresent | bmff.TrunSampleFlagsPresent
	entries := []trunSpec{{duration: 40, size: 4, flags: 0x02000000}}
	data := [][]byte{{1, 2, 3, 4}}
	buf := buildFragment(t, 0, flags, 0, entries, data)

	p := NewParser(testConfig(), Options{AllowTrunDataOffsetFallback: false}, nil)
	_, err := p.ParseFragment(buf)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindMissingTrunDataOffset, e.Kind)
}

func TestParseFragment_MissingTrunDataOffsetFallsBackWhenAllowed(t *testing.T) {
	flags := bmff.TrunSampleDurationPresent | bmff.TrunSampleSizePresent | bmff.TrunSampleFlagsPresent
	entries := []trunSpec{{duration: 40, size: 4, flags: 0x02000000}}
	data := [][]byte{{1, 2, 3, 4}}
	buf := buildFragment(t, 0, flags, 0, entries, data)

	p := NewParser(testConfig(), Options{AllowTrunDataOffsetFallback: true}, nil)
	samples, err := p.ParseFragment(buf)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, samples[0].Data)
}

func TestParseFragment_NoMoofFails(t *testing.T) {
	p := NewParser(testConfig(), Options{}, nil)
	_, err := p.ParseFragment([]byte{})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindNoMoof, e.Kind)
}
