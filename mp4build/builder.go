// Package mp4build assembles a progressive ftyp+moov+mdat MP4 from a single
// video track's configuration and its fully normalized sample list.
package mp4build

import (
	"log/slog"
	"math"

	"github.com/tetsuo/fmp4remux/bmff"
	"github.com/tetsuo/fmp4remux/errs"
	"github.com/tetsuo/fmp4remux/fragment"
	"github.com/tetsuo/fmp4remux/track"
)

const uint32Max = math.MaxUint32

var defaultFtypCompat = [][4]byte{
	{'i', 's', 'o', 'm'},
	{'i', 's', 'o', '2'},
	{'a', 'v', 'c', '1'},
	{'m', 'p', '4', '1'},
}

// Result is the assembled progressive MP4 plus the metadata a caller
// typically wants without re-parsing the output.
type Result struct {
	Output       []byte
	IdrTimestamps []float64 // seconds, decode order
}

// Build emits a single ftyp+moov+mdat file for cfg's track, given samples
// already in final, normalized decode order. Fails with EmptySampleList if
// samples is empty.
func Build(cfg track.Config, samples []fragment.Sample, logger *slog.Logger) (Result, error) {
	if len(samples) == 0 {
		return Result{}, errs.New(errs.KindEmptySampleList, "", -1, "no samples to build mdat from")
	}

	ftyp := cfg.Ftyp
	if ftyp == nil {
		ftyp = synthesizeFtyp()
	}

	mdatSize := mdatPayloadSize(samples)
	mdatHeaderSize := int64(bmff.MdatHeaderSize(mdatSize))

	plan := buildPlan{
		cfg:            cfg,
		samples:        samples,
		totalDuration:  totalDuration(samples),
		stts:           encodeStts(samples),
		ctts:           encodeCtts(samples),
		stss:           encodeStss(samples),
		stsz:           encodeStsz(samples),
		mdatHeaderSize: mdatHeaderSize,
	}

	// Pass 1: placeholder 32-bit offsets to discover moov's real length.
	stub := make([]uint64, len(samples))
	moovStub := buildMoov(plan, false, stub)
	mdatStart := int64(len(ftyp)) + int64(len(moovStub))
	offsets := sampleOffsets(samples, mdatStart+mdatHeaderSize)

	useCo64 := maxOffset(offsets) >= uint32Max
	if useCo64 {
		stub64 := make([]uint64, len(samples))
		moovStub64 := buildMoov(plan, true, stub64)
		mdatStart = int64(len(ftyp)) + int64(len(moovStub64))
		offsets = sampleOffsets(samples, mdatStart+mdatHeaderSize)
		if maxOffset(offsets) < uint32Max {
			// The builder fixpoint invariant (spec §9) guarantees this
			// cannot happen: co64 only grows offsets. Treat as a hard
			// failure rather than silently emitting an inconsistent file.
			return Result{}, errs.New(errs.KindChunkOffsetOverflow, "co64", -1, "offset fixpoint failed to converge")
		}
	}

	moov := buildMoov(plan, useCo64, offsets)
	mdat := buildMdat(samples, mdatSize, mdatHeaderSize)

	out := make([]byte, 0, len(ftyp)+len(moov)+len(mdat))
	out = append(out, ftyp...)
	out = append(out, moov...)
	out = append(out, mdat...)

	if logger != nil {
		logger.Debug("built progressive mp4",
			"sampleCount", len(samples), "mdatSize", mdatSize, "co64", useCo64)
	}

	return Result{Output: out, IdrTimestamps: idrTimestamps(samples, cfg.Timescale)}, nil
}

type buildPlan struct {
	cfg            track.Config
	samples        []fragment.Sample
	totalDuration  int64
	stts           []bmff.SttsEntry
	ctts           []bmff.CttsEntry
	stss           []uint32
	stsz           []uint32
	mdatHeaderSize int64
}

func mdatPayloadSize(samples []fragment.Sample) int64 {
	var n int64
	for _, s := range samples {
		n += s.Size
	}
	return n
}

func totalDuration(samples []fragment.Sample) int64 {
	var n int64
	for _, s := range samples {
		n += s.Duration
	}
	return n
}

// sampleOffsets computes each sample's chunk offset: firstOffset plus the
// running sum of preceding sample sizes (spec invariant 2).
func sampleOffsets(samples []fragment.Sample, firstOffset int64) []uint64 {
	offsets := make([]uint64, len(samples))
	cursor := firstOffset
	for i, s := range samples {
		offsets[i] = uint64(cursor)
		cursor += s.Size
	}
	return offsets
}

func maxOffset(offsets []uint64) uint64 {
	var m uint64
	for _, o := range offsets {
		if o > m {
			m = o
		}
	}
	return m
}

func idrTimestamps(samples []fragment.Sample, timescale uint32) []float64 {
	if timescale == 0 {
		return nil
	}
	var out []float64
	for _, s := range samples {
		if s.IsKeyframe {
			out = append(out, float64(s.DTS)/float64(timescale))
		}
	}
	return out
}

// encodeStts run-length encodes sample durations.
func encodeStts(samples []fragment.Sample) []bmff.SttsEntry {
	var entries []bmff.SttsEntry
	for _, s := range samples {
		d := uint32(s.Duration)
		if len(entries) > 0 && entries[len(entries)-1].Duration == d {
			entries[len(entries)-1].Count++
			continue
		}
		entries = append(entries, bmff.SttsEntry{Count: 1, Duration: d})
	}
	return entries
}

// encodeCtts run-length encodes (cts-dts) offsets. Returns nil when every
// offset is zero, so the caller omits the box (spec invariant 7).
func encodeCtts(samples []fragment.Sample) []bmff.CttsEntry {
	anyNonZero := false
	for _, s := range samples {
		if s.CTS != s.DTS {
			anyNonZero = true
			break
		}
	}
	if !anyNonZero {
		return nil
	}

	var entries []bmff.CttsEntry
	for _, s := range samples {
		off := int32(s.CTS - s.DTS)
		if len(entries) > 0 && entries[len(entries)-1].Offset == off {
			entries[len(entries)-1].Count++
			continue
		}
		entries = append(entries, bmff.CttsEntry{Count: 1, Offset: off})
	}
	return entries
}

func cttsVersion(entries []bmff.CttsEntry) uint8 {
	for _, e := range entries {
		if e.Offset < 0 {
			return 1
		}
	}
	return 0
}

// encodeStss returns the 1-based indices of keyframe samples, or nil if
// none are keyframes (box omitted).
func encodeStss(samples []fragment.Sample) []uint32 {
	var out []uint32
	for i, s := range samples {
		if s.IsKeyframe {
			out = append(out, uint32(i+1))
		}
	}
	return out
}

func encodeStsz(samples []fragment.Sample) []uint32 {
	out := make([]uint32, len(samples))
	for i, s := range samples {
		out[i] = uint32(s.Size)
	}
	return out
}

func synthesizeFtyp() []byte {
	buf := make([]byte, 64)
	w := bmff.NewWriter(buf)
	w.WriteFtyp([4]byte{'i', 's', 'o', 'm'}, 0x00000200, defaultFtypCompat)
	return w.Bytes()
}

func buildMdat(samples []fragment.Sample, payloadSize, headerSize int64) []byte {
	buf := make([]byte, headerSize+payloadSize)
	w := bmff.NewWriter(buf)
	w.WriteMdatHeader(payloadSize)
	for _, s := range samples {
		w.Write(s.Data)
	}
	return w.Bytes()
}
