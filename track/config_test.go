package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/fmp4remux/bmff"
	"github.com/tetsuo/fmp4remux/errs"
)

func minimalStsd() []byte {
	buf := make([]byte, 32)
	w := bmff.NewWriter(buf)
	w.StartFullBox(bmff.TypeStsd, 0, 0)
	w.Write([]byte{0, 0, 0, 0})
	w.EndBox()
	return w.Bytes()
}

func buildInitSegment(t *testing.T, trackID uint32, handlerType [4]byte, width, height uint32) []byte {
	t.Helper()
	buf := make([]byte, 1024)
	w := bmff.NewWriter(buf)

	w.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 0x200, [][4]byte{{'i', 's', 'o', 'm'}})

	w.StartBox(bmff.TypeMoov)
	w.WriteMvhd(1000, 0, 2)

	w.StartBox(bmff.TypeTrak)
	w.WriteTkhd(0x000007, trackID, 0, width<<16, height<<16)

	w.StartBox(bmff.TypeMdia)
	w.WriteMdhd(1000, 0, 0)
	w.WriteHdlr(handlerType, "Handler")

	w.StartBox(bmff.TypeMinf)
	w.WriteVmhd()
	w.StartBox(bmff.TypeStbl)
	w.Write(minimalStsd())
	w.EndBox() // stbl
	w.EndBox() // minf

	w.EndBox() // mdia
	w.EndBox() // trak
	w.EndBox() // moov

	return w.Bytes()
}

var videoType = [4]byte{'v', 'i', 'd', 'e'}
var soundType = [4]byte{'s', 'o', 'u', 'n'}

func TestParseInit_ExtractsVideoTrackConfig(t *testing.T) {
	buf := buildInitSegment(t, 7, videoType, 1920, 1080)
	cfg, err := ParseInit(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.TrackID)
	assert.Equal(t, uint32(1000), cfg.Timescale)
	assert.Equal(t, uint32(1920), cfg.Width)
	assert.Equal(t, uint32(1080), cfg.Height)
	assert.NotNil(t, cfg.Stsd)
	assert.NotNil(t, cfg.Ftyp)
}

func TestParseInit_SkipsNonVideoTrack(t *testing.T) {
	buf := buildInitSegment(t, 3, soundType, 0, 0)
	_, err := ParseInit(buf, nil)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindNoVideoTrack, e.Kind)
}

func TestParseInit_FailsWithoutMoov(t *testing.T) {
	buf := make([]byte, 64)
	w := bmff.NewWriter(buf)
	w.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 0, nil)

	_, err := ParseInit(w.Bytes(), nil)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindMissingMoov, e.Kind)
}
