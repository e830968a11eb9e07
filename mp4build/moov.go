package mp4build

import "github.com/tetsuo/fmp4remux/bmff"

const tkhdFlags = 0x000007 // track enabled, in movie, in preview
const nextTrackID = 2       // spec: hard-coded, never auto-computed

var videoHandlerType = [4]byte{'v', 'i', 'd', 'e'}

// buildMoov emits the full moov box. offsets is either 32-bit-safe (when
// useCo64 is false) or requires co64; callers are responsible for having
// already checked that invariant.
func buildMoov(p buildPlan, useCo64 bool, offsets []uint64) []byte {
	buf := make([]byte, estimateMoovSize(p, useCo64))
	w := bmff.NewWriter(buf)

	w.StartBox(bmff.TypeMoov)
	w.WriteMvhd(p.cfg.Timescale, uint64(p.totalDuration), nextTrackID)

	w.StartBox(bmff.TypeTrak)
	w.WriteTkhd(tkhdFlags, p.cfg.TrackID, uint64(p.totalDuration), p.cfg.Width<<16, p.cfg.Height<<16)

	w.StartBox(bmff.TypeMdia)
	w.WriteMdhd(p.cfg.Timescale, uint64(p.totalDuration), 0)
	w.WriteHdlr(videoHandlerType, "VideoHandler")

	w.StartBox(bmff.TypeMinf)
	w.WriteVmhd()

	w.StartBox(bmff.TypeDinf)
	w.WriteDref()
	w.EndBox() // dinf

	w.StartBox(bmff.TypeStbl)
	w.Write(p.cfg.Stsd)
	w.WriteStts(p.stts)
	if p.ctts != nil {
		w.WriteCtts(p.ctts, cttsVersion(p.ctts))
	}
	if p.stss != nil {
		w.WriteStss(p.stss)
	}
	w.WriteStsc([]bmff.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionId: 1}})
	w.WriteStsz(0, p.stsz)
	if useCo64 {
		w.WriteCo64(offsets)
	} else {
		offsets32 := make([]uint32, len(offsets))
		for i, o := range offsets {
			offsets32[i] = uint32(o)
		}
		w.WriteStco(offsets32)
	}
	w.EndBox() // stbl

	w.EndBox() // minf
	w.EndBox() // mdia
	w.EndBox() // trak
	w.EndBox() // moov

	return w.Bytes()
}

// estimateMoovSize upper-bounds the assembled moov's byte length so the
// backing buffer never needs to grow mid-build.
func estimateMoovSize(p buildPlan, useCo64 bool) int {
	const fixedOverhead = 108 /* mvhd */ + 92 /* tkhd */ + 32 /* mdhd */ + 32 + len("VideoHandler") /* hdlr */ +
		16 /* vmhd */ + 24 /* dref/url */ + 512 /* container headers, stsc */
	size := fixedOverhead
	size += len(p.cfg.Stsd)
	size += 8 + len(p.stts)*8
	if p.ctts != nil {
		size += 8 + len(p.ctts)*8
	}
	if p.stss != nil {
		size += 8 + len(p.stss)*4
	}
	size += 8 + len(p.stsz)*4
	if useCo64 {
		size += 8 + len(p.samples)*8
	} else {
		size += 8 + len(p.samples)*4
	}
	return size + 256
}
