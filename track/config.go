// Package track extracts the single video track's static configuration
// (timescale, dimensions, sample description) from an fMP4 init segment.
package track

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/tetsuo/fmp4remux/bmff"
	"github.com/tetsuo/fmp4remux/errs"
)

// videHandlerType is the hdlr handler_type value selecting a video track.
var videHandlerType = [4]byte{'v', 'i', 'd', 'e'}

// Config is the single video track's parameters pulled from the init segment.
type Config struct {
	TrackID   uint32
	Timescale uint32
	Width     uint32 // pixels
	Height    uint32 // pixels

	// Stsd is the full stsd box (header included), reused verbatim in output.
	Stsd []byte

	// Ftyp is the input's ftyp box (header included), or nil if absent —
	// in which case the builder synthesizes a minimal one.
	Ftyp []byte

	// Profile/Level are informational, decoded from the avcC-embedded SPS
	// only when tkhd reports a zero width or height (the SPS fallback path);
	// otherwise they are empty. They are never required for a valid remux.
	Profile string
	Level   string
}

// ParseInit walks an init segment's top-level boxes and returns the first
// video track's Config. logger may be nil (silent).
func ParseInit(buf []byte, logger *slog.Logger) (Config, error) {
	r := bmff.NewReader(buf)

	var ftyp, moovData []byte
	haveMoov := false

	for r.Next() {
		switch r.Type() {
		case bmff.TypeFtyp:
			ftyp = cloneBytes(r.RawBox())
		case bmff.TypeMoov:
			moovData = cloneBytes(r.Data())
			haveMoov = true
		}
	}
	if err := r.Err(); err != nil {
		return Config{}, err
	}
	if !haveMoov {
		return Config{}, errs.New(errs.KindMissingMoov, "moov", -1, "init segment has no moov box")
	}

	cfg, err := parseMoov(moovData, logger)
	if err != nil {
		return Config{}, err
	}
	cfg.Ftyp = ftyp
	return cfg, nil
}

func parseMoov(moovData []byte, logger *slog.Logger) (Config, error) {
	mr := bmff.NewReader(moovData)
	for mr.Next() {
		if mr.Type() != bmff.TypeTrak {
			continue
		}
		trakStart := mr.Offset()
		trakData := cloneBytes(mr.Data())
		cfg, ok, err := parseTrak(trakData, int64(trakStart), logger)
		if err != nil {
			return Config{}, err
		}
		if ok {
			return cfg, nil
		}
	}
	if err := mr.Err(); err != nil {
		return Config{}, err
	}
	return Config{}, errs.New(errs.KindNoVideoTrack, "trak", -1, "no video track found in moov")
}

// parseTrak returns ok=false (no error) when the track is present but isn't
// the video track we want, so the caller keeps looking at the next trak.
func parseTrak(trakData []byte, trakOffset int64, logger *slog.Logger) (Config, bool, error) {
	var tkhdTrackID uint32
	var tkhdWidth, tkhdHeight uint32
	haveTkhd := false

	var mdiaData []byte
	haveMdia := false

	tr := bmff.NewReader(trakData)
	for tr.Next() {
		switch tr.Type() {
		case bmff.TypeTkhd:
			tkhdTrackID, _, tkhdWidth, tkhdHeight = tr.ReadTkhd()
			haveTkhd = true
		case bmff.TypeMdia:
			mdiaData = cloneBytes(tr.Data())
			haveMdia = true
		}
	}
	if err := tr.Err(); err != nil {
		return Config{}, false, err
	}
	if !haveTkhd {
		return Config{}, false, errs.New(errs.KindMissingTkhd, "tkhd", trakOffset, "trak missing tkhd")
	}
	if !haveMdia {
		return Config{}, false, nil
	}

	mr := bmff.NewReader(mdiaData)
	var handlerType [4]byte
	haveHdlr := false
	var timescale uint32
	haveMdhd := false
	var stsd []byte

	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeHdlr:
			handlerType = mr.ReadHdlr()
			haveHdlr = true
		case bmff.TypeMdhd:
			if mr.Version() > 1 {
				return Config{}, false, errs.New(errs.KindUnsupportedMdhdVersion, "mdhd", trakOffset,
					fmt.Sprintf("version %d not supported", mr.Version()))
			}
			timescale, _, _ = mr.ReadMdhd()
			haveMdhd = true
		case bmff.TypeMinf:
			minfData := cloneBytes(mr.Data())
			if s, found := findStsd(minfData); found {
				stsd = s
			}
		}
	}
	if err := mr.Err(); err != nil {
		return Config{}, false, err
	}
	if !haveHdlr {
		return Config{}, false, nil
	}
	if handlerType != videHandlerType {
		return Config{}, false, nil
	}
	if !haveMdhd {
		return Config{}, false, errs.New(errs.KindMissingMdhd, "mdhd", trakOffset, "video trak missing mdhd")
	}
	if stsd == nil {
		return Config{}, false, errs.New(errs.KindMissingStsd, "stsd", trakOffset, "video trak missing stsd")
	}

	width, height := uint32(tkhdWidth>>16), uint32(tkhdHeight>>16)
	profile, level := "", ""
	if width == 0 || height == 0 {
		if w, h, p, l, ok := fallbackDimensionsFromAvcC(stsd); ok {
			if width == 0 {
				width = w
			}
			if height == 0 {
				height = h
			}
			profile, level = p, l
		} else if logger != nil {
			logger.Debug("avcC SPS fallback did not resolve dimensions", "trackId", tkhdTrackID)
		}
	}

	return Config{
		TrackID:   tkhdTrackID,
		Timescale: timescale,
		Width:     width,
		Height:    height,
		Stsd:      stsd,
		Profile:   profile,
		Level:     level,
	}, true, nil
}

// findStsd descends minf -> stbl -> stsd and returns the full stsd box bytes.
func findStsd(minfData []byte) ([]byte, bool) {
	r := bmff.NewReader(minfData)
	for r.Next() {
		if r.Type() != bmff.TypeStbl {
			continue
		}
		stblData := r.Data()
		sr := bmff.NewReader(stblData)
		for sr.Next() {
			if sr.Type() == bmff.TypeStsd {
				return cloneBytes(sr.RawBox()), true
			}
		}
		return nil, false
	}
	return nil, false
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// fallbackDimensionsFromAvcC finds an avc1 sample entry's avcC box inside
// stsd, extracts the first embedded SPS NAL unit, and decodes its pixel
// dimensions and profile/level via mediacommon's h264 SPS parser. Returns
// ok=false on any structural mismatch — this path is pure enrichment and
// never turns into a fatal error.
func fallbackDimensionsFromAvcC(stsdBox []byte) (width, height uint32, profile, level string, ok bool) {
	r := bmff.NewReader(stsdBox)
	if !r.Next() || r.Type() != bmff.TypeStsd {
		return 0, 0, "", "", false
	}
	r.Enter()
	r.Skip(4) // entry count
	if !r.Next() || r.Type() != bmff.TypeAvc1 {
		return 0, 0, "", "", false
	}
	visual := bmff.ReadVisualSampleEntry(r.Data())
	r.Enter()
	r.Skip(visual.ChildOffset)
	var avcC []byte
	for r.Next() {
		if r.Type() == bmff.TypeAvcC {
			avcC = r.Data()
			break
		}
	}
	if avcC == nil {
		return 0, 0, "", "", false
	}

	sps, ok := firstSPS(avcC)
	if !ok {
		return 0, 0, "", "", false
	}

	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return 0, 0, "", "", false
	}
	w := parsed.Width()
	h := parsed.Height()
	if w <= 0 || h <= 0 {
		return 0, 0, "", "", false
	}
	return uint32(w), uint32(h), profileName(parsed.ProfileIdc), levelName(parsed.LevelIdc), true
}

// firstSPS extracts the first SPS NAL unit (header included) from an avcC
// box's content.
func firstSPS(avcC []byte) ([]byte, bool) {
	if len(avcC) < 6 {
		return nil, false
	}
	numSPS := int(avcC[5] & 0x1f)
	if numSPS == 0 {
		return nil, false
	}
	ptr := 6
	if ptr+2 > len(avcC) {
		return nil, false
	}
	length := int(avcC[ptr])<<8 | int(avcC[ptr+1])
	ptr += 2
	if ptr+length > len(avcC) {
		return nil, false
	}
	return avcC[ptr : ptr+length], true
}

func profileName(idc uint8) string {
	switch idc {
	case 66:
		return "baseline"
	case 77:
		return "main"
	case 100:
		return "high"
	default:
		return ""
	}
}

func levelName(idc uint8) string {
	if idc == 0 {
		return ""
	}
	major := idc / 10
	minor := idc % 10
	if minor == 0 {
		return strconv.Itoa(int(major))
	}
	return strconv.Itoa(int(major)) + "." + strconv.Itoa(int(minor))
}
