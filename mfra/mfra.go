// Package mfra parses a file's random-access index (mfra/tfra/mfro boxes).
// It is an auxiliary capability: nothing in the core remux pipeline reads
// it, but a collector or seeking frontend can use it to locate fragment
// offsets without walking the whole file.
package mfra

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"

	"github.com/tetsuo/fmp4remux/errs"
)

// Entry is one random-access point recorded in a tfra box.
type Entry struct {
	Time         uint64
	MoofOffset   uint64
	TrafNumber   uint32
	TrunNumber   uint32
	SampleNumber uint32
}

// Track is one tfra box's worth of random-access entries for a track.
type Track struct {
	TrackID                  uint32
	Version                  uint8
	LengthSizeOfTrafNumber   uint8
	LengthSizeOfTrunNumber   uint8
	LengthSizeOfSampleNumber uint8
	Entries                  []Entry
}

// Index is the parsed contents of an mfra box.
type Index struct {
	Tracks []Track
	// MfraSize is the mfro box's declared size of the enclosing mfra box,
	// usable by a reader to seek to mfra from the end of the file.
	MfraSize uint32
}

// Read locates mfra within the size bytes readable through r and decodes
// every tfra entry plus the trailing mfro. An absent mfra simply yields a
// zero-value Index and no error, since mfra is optional per ISO/IEC
// 14496-12; structural errors are only raised for a malformed mfra that is
// actually present (e.g. an unsupported tfra version).
func Read(r io.ReaderAt, size int64) (*Index, error) {
	var idx Index

	sr := io.NewSectionReader(r, 0, size)
	_, err := gomp4.ReadBoxStructure(sr, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "mfra":
			return h.Expand()

		case "tfra":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfra, ok := box.(*gomp4.Tfra)
			if !ok {
				return nil, fmt.Errorf("mfra: unexpected payload type for tfra")
			}
			if tfra.Version > 1 {
				return nil, errs.New(errs.KindUnsupportedTfraVersion, "tfra", int64(h.BoxInfo.Offset),
					fmt.Sprintf("tfra version %d not supported", tfra.Version))
			}
			idx.Tracks = append(idx.Tracks, decodeTfra(tfra))
			return nil, nil

		case "mfro":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			mfro, ok := box.(*gomp4.Mfro)
			if !ok {
				return nil, fmt.Errorf("mfra: unexpected payload type for mfro")
			}
			idx.MfraSize = mfro.Size
			return nil, nil

		default:
			return nil, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

// decodeTfra converts the library's raw field-size bits into an Entry slice.
// Field widths are packed into LengthSizeOfTrafNum/TrunNum/SampleNum (0..3,
// meaning 1/2/3/4 bytes) and go-mp4 already widens those numbers to uint32.
// time and moof_offset arrive in version-specific fields (32-bit for
// version 0, 64-bit for version 1); the one matching tfra.Version is used.
func decodeTfra(tfra *gomp4.Tfra) Track {
	t := Track{
		TrackID:                  tfra.TrackID,
		Version:                  tfra.Version,
		LengthSizeOfTrafNumber:   tfra.LengthSizeOfTrafNum,
		LengthSizeOfTrunNumber:   tfra.LengthSizeOfTrunNum,
		LengthSizeOfSampleNumber: tfra.LengthSizeOfSampleNum,
		Entries:                  make([]Entry, 0, len(tfra.Entries)),
	}
	for _, e := range tfra.Entries {
		time, moofOffset := uint64(e.TimeV0), uint64(e.MoofOffsetV0)
		if tfra.Version == 1 {
			time, moofOffset = e.TimeV1, e.MoofOffsetV1
		}
		t.Entries = append(t.Entries, Entry{
			Time:         time,
			MoofOffset:   moofOffset,
			TrafNumber:   e.TrafNumber,
			TrunNumber:   e.TrunNumber,
			SampleNumber: e.SampleNumber,
		})
	}
	return t
}
