package remux

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetsuo/fmp4remux/fragment"
)

func seekTestTrack() Track {
	// timescale 1000, one keyframe every 5 samples, 1 tick == 1ms.
	samples := make([]fragment.Sample, 0, 20)
	for i := 0; i < 20; i++ {
		samples = append(samples, fragment.Sample{
			DTS:        int64(i * 40),
			CTS:        int64(i * 40),
			Duration:   40,
			IsKeyframe: i%5 == 0,
		})
	}
	return Track{TimeScale: 1000, Samples: samples}
}

func TestFindKeyframeAtOrBefore_ExactKeyframeHit(t *testing.T) {
	tr := seekTestTrack()
	idx := tr.FindKeyframeAtOrBefore(0.2) // 200ms == sample 5, a keyframe
	assert.Equal(t, 5, idx)
}

func TestFindKeyframeAtOrBefore_BetweenKeyframesWalksBack(t *testing.T) {
	tr := seekTestTrack()
	idx := tr.FindKeyframeAtOrBefore(0.23) // just after sample 5 (keyframe), before sample 6
	assert.Equal(t, 5, idx)
	assert.True(t, tr.Samples[idx].IsKeyframe)
}

func TestFindKeyframeAtOrBefore_ClampedToZero(t *testing.T) {
	tr := seekTestTrack()
	idx := tr.FindKeyframeAtOrBefore(-10)
	assert.Equal(t, 0, idx)
}

func TestFindKeyframeAtOrAfter_ExactKeyframeHit(t *testing.T) {
	tr := seekTestTrack()
	idx := tr.FindKeyframeAtOrAfter(0.2)
	assert.Equal(t, 5, idx)
}

func TestFindKeyframeAtOrAfter_BetweenKeyframesWalksForward(t *testing.T) {
	tr := seekTestTrack()
	idx := tr.FindKeyframeAtOrAfter(0.21) // just after sample 5, next keyframe is 10
	assert.Equal(t, 10, idx)
}

func TestFindKeyframeAtOrAfter_ClampedToLastSample(t *testing.T) {
	tr := seekTestTrack()
	idx := tr.FindKeyframeAtOrAfter(1000)
	assert.Equal(t, len(tr.Samples)-1, idx)
}
