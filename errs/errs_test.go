package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageIncludesBoxTypeAndOffset(t *testing.T) {
	err := New(KindMissingMoov, "moov", 42, "no moov box found")
	assert.Equal(t, `MissingMoov: moov at offset 42: no moov box found`, err.Error())
}

func TestError_MessageOmitsOffsetWhenNegative(t *testing.T) {
	err := New(KindEmptySampleList, "", -1, "no samples")
	assert.Equal(t, `EmptySampleList: no samples`, err.Error())
}

func TestError_IsMatchesOnKindOnly(t *testing.T) {
	err := Wrap(KindMdatRangeMismatch, "mdat", 10, "out of range", fmt.Errorf("inner"))
	assert.True(t, errors.Is(err, Sentinel(KindMdatRangeMismatch)))
	assert.False(t, errors.Is(err, Sentinel(KindMissingMoov)))
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(KindBoxTooLarge, "mdat", 0, "too large", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestKind_StringFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Kind(9999).String())
}

func TestKind_StringNamesEveryDefinedKind(t *testing.T) {
	kinds := []Kind{
		KindMissingMoov, KindNoVideoTrack, KindMissingMdhd, KindMissingTkhd, KindMissingStsd,
		KindNoMoof, KindMoofWithoutMdat, KindMissingTfdt, KindMissingTrun, KindMissingTfhd,
		KindUnsupportedTfraVersion, KindUnsupportedTfdtVersion, KindUnsupportedMdhdVersion,
		KindBoxTooLarge, KindChunkOffsetOverflow, KindIntegerTooLargeForNumber,
		KindMdatRangeMismatch, KindMissingSampleSize, KindMissingTrunDataOffset,
		KindNoInitSegment, KindEmptySampleList,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "Unknown", k.String(), "kind %d missing a name", k)
	}
}
