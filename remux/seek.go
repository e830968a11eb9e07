package remux

import (
	"sort"

	"github.com/tetsuo/fmp4remux/fragment"
	"github.com/tetsuo/fmp4remux/track"
)

// Track is a seekable view over the final, normalized sample list the
// pipeline produced — enough to locate a keyframe near a given
// presentation time without re-parsing Output.
type Track struct {
	TimeScale uint32
	Samples   []fragment.Sample
}

func newTrack(cfg track.Config, samples []fragment.Sample) Track {
	return Track{TimeScale: cfg.Timescale, Samples: samples}
}

// FindKeyframeAtOrBefore returns the index of the last keyframe whose CTS
// is at or before timeSeconds, clamped to 0. Useful for seeking backward to
// a safe playback position.
func (t Track) FindKeyframeAtOrBefore(timeSeconds float64) int {
	scaled := int64(timeSeconds * float64(t.TimeScale))

	idx := max(sort.Search(len(t.Samples), func(i int) bool {
		return t.Samples[i].CTS > scaled
	})-1, 0)

	for idx > 0 && !t.Samples[idx].IsKeyframe {
		idx--
	}
	return idx
}

// FindKeyframeAtOrAfter returns the index of the first keyframe whose CTS
// is at or after timeSeconds, clamped to the last sample. Useful for
// finding a clean start point for time-based extraction.
func (t Track) FindKeyframeAtOrAfter(timeSeconds float64) int {
	scaled := int64(timeSeconds * float64(t.TimeScale))

	idx := sort.Search(len(t.Samples), func(i int) bool {
		return t.Samples[i].CTS >= scaled
	})
	if idx >= len(t.Samples) {
		return len(t.Samples) - 1
	}

	for idx < len(t.Samples) && !t.Samples[idx].IsKeyframe {
		idx++
	}
	if idx >= len(t.Samples) {
		return len(t.Samples) - 1
	}
	return idx
}
