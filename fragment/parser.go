package fragment

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tetsuo/fmp4remux/bmff"
	"github.com/tetsuo/fmp4remux/errs"
	"github.com/tetsuo/fmp4remux/track"
)

var be = binary.BigEndian

// Parser extracts Samples for a single video track (track.Config.TrackID)
// from fragment buffers (moof+mdat pairs).
type Parser struct {
	Config  track.Config
	Options Options
	Logger  *slog.Logger
}

// NewParser creates a Parser bound to a track configuration.
func NewParser(cfg track.Config, opts Options, logger *slog.Logger) *Parser {
	return &Parser{Config: cfg, Options: opts, Logger: logger}
}

// ParseFragment decodes every moof+mdat pair in buf and returns the video
// track's samples in fragment-local decode order, with intra-fragment DTS
// continuity already enforced (spec §4.3's intraOffset/lastEnd bookkeeping).
func (p *Parser) ParseFragment(buf []byte) ([]Sample, error) {
	var allSamples []Sample
	var intraOffset, lastEnd int64
	pairCount := 0

	r := bmff.NewReader(buf)
	for r.Next() {
		if r.Type() != bmff.TypeMoof {
			continue
		}
		pairCount++
		moofOffset := int64(r.Offset())
		moofEnd := moofOffset + int64(r.Size())
		moofData := cloneBytes(r.Data())

		if !r.Next() {
			return nil, errs.New(errs.KindMoofWithoutMdat, "moof", moofOffset, "no box follows moof")
		}
		for r.Type() != bmff.TypeMdat {
			if r.Type() == bmff.TypeMoof {
				return nil, errs.New(errs.KindMoofWithoutMdat, "moof", moofOffset, "next moof encountered before mdat")
			}
			if !r.Next() {
				return nil, errs.New(errs.KindMoofWithoutMdat, "moof", moofOffset, "fragment ends before mdat")
			}
		}
		mdatPayloadStart := int64(r.DataOffset())
		mdatPayloadEnd := mdatPayloadStart + int64(r.Size()) - int64(r.HeaderSize())

		rawSamples, matched, err := p.parseMoof(buf, moofData, moofOffset, moofEnd, mdatPayloadStart, mdatPayloadEnd)
		if err != nil {
			return nil, err
		}
		if !matched || len(rawSamples) == 0 {
			continue
		}

		firstRawDts := rawSamples[0].DTS
		if firstRawDts+intraOffset < lastEnd {
			bump := lastEnd - firstRawDts
			if p.Logger != nil {
				p.Logger.Debug("bumping intra-fragment dts offset",
					"moofOffset", moofOffset, "bump", bump)
			}
			intraOffset = bump
		}
		for i := range rawSamples {
			rawSamples[i].DTS += intraOffset
			rawSamples[i].CTS += intraOffset
		}
		allSamples = append(allSamples, rawSamples...)
		last := rawSamples[len(rawSamples)-1]
		lastEnd = last.DTS + max64(1, last.Duration)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if pairCount == 0 {
		return nil, errs.New(errs.KindNoMoof, "", -1, "fragment buffer has no moof box")
	}

	return allSamples, nil
}

// parseMoof walks a moof's traf children and decodes samples for the one
// matching p.Config.TrackID. matched is false (no error) when the fragment
// simply doesn't carry our track.
func (p *Parser) parseMoof(buf, moofData []byte, moofOffset, moofEnd, mdatStart, mdatEnd int64) ([]Sample, bool, error) {
	mr := bmff.NewReader(moofData)
	for mr.Next() {
		if mr.Type() != bmff.TypeTraf {
			continue
		}
		trafData := mr.Data()
		samples, matched, err := p.parseTraf(buf, trafData, moofOffset, moofEnd, mdatStart, mdatEnd)
		if err != nil {
			return nil, true, err
		}
		if matched {
			return samples, true, nil
		}
	}
	if err := mr.Err(); err != nil {
		return nil, true, err
	}
	return nil, false, nil
}

func (p *Parser) parseTraf(buf, trafData []byte, moofOffset, moofEnd, mdatStart, mdatEnd int64) ([]Sample, bool, error) {
	var tfhd tfhdFields
	haveTfhd := false
	var tfdtValue int64
	haveTfdt := false
	type trunBox struct {
		data    []byte
		flags   uint32
		version uint8
	}
	var truns []trunBox

	tr := bmff.NewReader(trafData)
	for tr.Next() {
		switch tr.Type() {
		case bmff.TypeTfhd:
			tfhd = parseTfhd(tr.Data(), tr.Flags())
			haveTfhd = true
		case bmff.TypeTfdt:
			if tr.Version() > 1 {
				return nil, true, errs.New(errs.KindUnsupportedTfdtVersion, "tfdt", moofOffset,
					fmt.Sprintf("version %d not supported", tr.Version()))
			}
			tfdtValue = int64(tr.ReadTfdt())
			haveTfdt = true
		case bmff.TypeTrun:
			truns = append(truns, trunBox{data: cloneBytes(tr.Data()), flags: tr.Flags(), version: tr.Version()})
		}
	}
	if err := tr.Err(); err != nil {
		return nil, true, err
	}
	if !haveTfhd {
		return nil, true, errs.New(errs.KindMissingTfhd, "tfhd", moofOffset, "traf missing tfhd")
	}
	if tfhd.trackID != p.Config.TrackID {
		return nil, false, nil
	}
	if !haveTfdt {
		return nil, true, errs.New(errs.KindMissingTfdt, "tfdt", moofOffset, "selected traf missing tfdt")
	}
	if len(truns) == 0 {
		return nil, true, errs.New(errs.KindMissingTrun, "trun", moofOffset, "selected traf has no trun")
	}

	baseDataOffset := moofOffset
	if tfhd.hasBaseDataOffset {
		baseDataOffset = int64(tfhd.baseDataOffset)
	}

	var samples []Sample
	dts := tfdtValue

	for _, tb := range truns {
		it := bmff.NewTrunIter(tb.data, tb.flags)
		if it.Count() == 0 {
			continue
		}

		var dataStart int64
		if tb.flags&bmff.TrunDataOffsetPresent != 0 {
			dataStart = baseDataOffset + int64(it.DataOffset())
		} else {
			if !p.Options.AllowTrunDataOffsetFallback {
				return nil, true, errs.New(errs.KindMissingTrunDataOffset, "trun", moofOffset,
					"trun has no data_offset and allowTrunDataOffsetFallback is false")
			}
			if tfhd.hasBaseDataOffset {
				dataStart = moofEnd
			} else {
				dataStart = mdatStart
			}
			if p.Logger != nil {
				p.Logger.Debug("synthesized trun data_offset via fallback", "dataStart", dataStart)
			}
		}

		cursor := dataStart
		firstSampleFlags := it.FirstSampleFlags()
		i := 0
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			duration := int64(e.Duration)
			if tb.flags&bmff.TrunSampleDurationPresent == 0 {
				duration = int64(tfhd.defaultSampleDuration)
			}
			size := int64(e.Size)
			if tb.flags&bmff.TrunSampleSizePresent == 0 {
				size = int64(tfhd.defaultSampleSize)
			}
			if size <= 0 {
				return nil, true, errs.New(errs.KindMissingSampleSize, "trun", moofOffset, "sample size is zero")
			}

			var flags uint32
			switch {
			case tb.flags&bmff.TrunSampleFlagsPresent != 0:
				flags = e.Flags
			case i == 0 && tb.flags&bmff.TrunFirstSampleFlagsPresent != 0:
				flags = firstSampleFlags
			default:
				flags = tfhd.defaultSampleFlags
			}
			isKeyframe := flags&0x00010000 == 0

			var cto int64
			if tb.flags&bmff.TrunSampleCompositionTimeOffsetPresent != 0 {
				ctoRaw := uint32(e.CompositionTimeOffset)
				if tb.version == 1 {
					cto = int64(int32(ctoRaw))
				} else {
					cto = int64(ctoRaw)
				}
			}

			if cursor < mdatStart || cursor+size > mdatEnd {
				return nil, true, errs.New(errs.KindMdatRangeMismatch, "mdat", moofOffset,
					fmt.Sprintf("sample byte range [%d,%d) outside mdat payload [%d,%d)", cursor, cursor+size, mdatStart, mdatEnd))
			}

			samples = append(samples, Sample{
				DTS:        dts,
				CTS:        dts + cto,
				Duration:   duration,
				Size:       size,
				IsKeyframe: isKeyframe,
				Data:       buf[cursor : cursor+size],
			})

			cursor += size
			dts += max64(0, duration)
			i++
		}
	}

	return samples, true, nil
}

// tfhdFields is the subset of tfhd's optional fields the pipeline needs.
type tfhdFields struct {
	trackID               uint32
	hasBaseDataOffset     bool
	baseDataOffset        uint64
	defaultSampleDuration uint32
	defaultSampleSize     uint32
	defaultSampleFlags    uint32
}

// parseTfhd walks tfhd's optional-field table, driven by its flag bits,
// per spec §4.3 and the "dynamically-keyed decoding" design note.
func parseTfhd(data []byte, flags uint32) tfhdFields {
	var f tfhdFields
	if len(data) < 4 {
		return f
	}
	f.trackID = be.Uint32(data[0:4])
	ptr := 4

	if flags&bmff.TfhdBaseDataOffsetPresent != 0 {
		if ptr+8 <= len(data) {
			f.baseDataOffset = be.Uint64(data[ptr:])
			f.hasBaseDataOffset = true
		}
		ptr += 8
	}
	if flags&bmff.TfhdSampleDescriptionIndexPresent != 0 {
		ptr += 4
	}
	if flags&bmff.TfhdDefaultSampleDurationPresent != 0 {
		if ptr+4 <= len(data) {
			f.defaultSampleDuration = be.Uint32(data[ptr:])
		}
		ptr += 4
	}
	if flags&bmff.TfhdDefaultSampleSizePresent != 0 {
		if ptr+4 <= len(data) {
			f.defaultSampleSize = be.Uint32(data[ptr:])
		}
		ptr += 4
	}
	if flags&bmff.TfhdDefaultSampleFlagsPresent != 0 {
		if ptr+4 <= len(data) {
			f.defaultSampleFlags = be.Uint32(data[ptr:])
		}
		ptr += 4
	}
	return f
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
