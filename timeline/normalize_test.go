package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/fmp4remux/fragment"
)

func sample(dts, cts, dur int64, key bool) fragment.Sample {
	return fragment.Sample{DTS: dts, CTS: cts, Duration: dur, Size: 1, IsKeyframe: key}
}

func TestNormalize_EmptyInput(t *testing.T) {
	result := Normalize(nil, Options{NormalizeAcrossFiles: true}, nil)
	assert.Empty(t, result.Samples)
	assert.False(t, result.DiscontinuityDetected)
}

func TestNormalize_SingleFilePassesThroughUnchanged(t *testing.T) {
	samples := []fragment.Sample{
		sample(0, 0, 10, true),
		sample(10, 10, 10, false),
		sample(20, 20, 10, false),
	}
	result := Normalize([][]fragment.Sample{samples}, Options{NormalizeAcrossFiles: true}, nil)
	require.Len(t, result.Samples, 3)
	assert.Equal(t, int64(0), result.Samples[0].DTS)
	assert.Equal(t, int64(10), result.Samples[1].DTS)
	assert.Equal(t, int64(20), result.Samples[2].DTS)
	assert.False(t, result.DiscontinuityDetected)
}

func TestNormalize_RepairsZeroDurationAgainstSuccessor(t *testing.T) {
	samples := []fragment.Sample{
		sample(0, 0, 0, true),
		sample(5, 5, 5, false),
	}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	assert.Equal(t, int64(5), result.Samples[0].Duration)
}

func TestNormalize_RepairsTrailingZeroDurationFromPredecessor(t *testing.T) {
	samples := []fragment.Sample{
		sample(0, 0, 5, true),
		sample(5, 5, 0, false),
	}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	assert.Equal(t, int64(5), result.Samples[1].Duration)
}

func TestNormalize_SoleZeroDurationSampleFallsBackToOne(t *testing.T) {
	samples := []fragment.Sample{sample(0, 0, 0, true)}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	assert.Equal(t, int64(1), result.Samples[0].Duration)
}

func TestNormalize_LargeRepairedGapFlagsDiscontinuity(t *testing.T) {
	samples := []fragment.Sample{
		sample(0, 0, 0, true),
		sample(1000, 1000, 10, false),
	}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	assert.True(t, result.DiscontinuityDetected)
	assert.Equal(t, int64(1000), result.Samples[0].Duration)
}

func TestNormalize_CrossFileOffsetAccumulatesInferredEnd(t *testing.T) {
	fileA := []fragment.Sample{
		sample(0, 0, 10, true),
		sample(10, 10, 10, false), // inferred end = 20
	}
	fileB := []fragment.Sample{
		sample(0, 0, 10, true),
		sample(10, 10, 10, false),
	}
	result := Normalize([][]fragment.Sample{fileA, fileB}, Options{NormalizeAcrossFiles: true}, nil)
	require.Len(t, result.Samples, 4)
	assert.Equal(t, int64(20), result.Samples[2].DTS)
	assert.Equal(t, int64(30), result.Samples[3].DTS)
}

func TestNormalize_CrossFileOffsetDisabledKeepsFilesOverlapping(t *testing.T) {
	fileA := []fragment.Sample{sample(0, 0, 10, true)}
	fileB := []fragment.Sample{sample(0, 0, 10, true)}
	result := Normalize([][]fragment.Sample{fileA, fileB}, Options{NormalizeAcrossFiles: false}, nil)
	require.Len(t, result.Samples, 2)
	// Phase C still clamps the second file's dts forward since it would
	// otherwise collide with the first file's sample.
	assert.GreaterOrEqual(t, result.Samples[1].DTS, result.Samples[0].DTS)
}

func TestNormalize_MonotonizeClampsNonMonotonicDts(t *testing.T) {
	samples := []fragment.Sample{
		sample(10, 10, 5, true),
		sample(5, 5, 5, false), // would go backward
	}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	assert.GreaterOrEqual(t, result.Samples[1].DTS, result.Samples[0].DTS)
	assert.GreaterOrEqual(t, result.Samples[1].CTS, result.Samples[1].DTS)
}

func TestNormalize_MonotonizeNeverReordersSamples(t *testing.T) {
	samples := []fragment.Sample{
		sample(0, 20, 10, true), // B-frame style: cts ahead of dts
		sample(10, 5, 10, false),
	}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	require.Len(t, result.Samples, 2)
	assert.Equal(t, int64(20), result.Samples[0].CTS)
}

func TestNormalize_SanitizesNegativeAndNonFiniteFields(t *testing.T) {
	samples := []fragment.Sample{
		sample(-5, -5, -1, true),
	}
	result := Normalize([][]fragment.Sample{samples}, Options{}, nil)
	assert.Equal(t, int64(0), result.Samples[0].DTS)
	assert.Equal(t, int64(0), result.Samples[0].Duration)
	assert.GreaterOrEqual(t, result.Samples[0].CTS, int64(0))
}

func TestNormalize_DoesNotMutateCallerSlices(t *testing.T) {
	original := []fragment.Sample{sample(0, 0, 0, true), sample(5, 5, 5, false)}
	originalCopy := append([]fragment.Sample(nil), original...)
	_ = Normalize([][]fragment.Sample{original}, Options{}, nil)
	assert.Equal(t, originalCopy, original)
}
