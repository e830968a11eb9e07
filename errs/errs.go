// Package errs defines the remuxer's error taxonomy: a closed set of
// failure kinds, each carrying the offending box type and byte offset
// where one is known, so callers can errors.Is/As against a stable kind
// instead of matching on message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a class of remux failure. Kinds are grouped the way
// spec documents describe them: structural, version/feature, numeric/range,
// and input errors.
type Kind int

const (
	_ Kind = iota

	// Structural
	KindMissingMoov
	KindNoVideoTrack
	KindMissingMdhd
	KindMissingTkhd
	KindMissingStsd
	KindNoMoof
	KindMoofWithoutMdat
	KindMissingTfdt
	KindMissingTrun
	KindMissingTfhd

	// Version/feature
	KindUnsupportedTfraVersion
	KindUnsupportedTfdtVersion
	KindUnsupportedMdhdVersion

	// Numeric/range
	KindBoxTooLarge
	KindChunkOffsetOverflow
	KindIntegerTooLargeForNumber
	KindMdatRangeMismatch
	KindMissingSampleSize
	KindMissingTrunDataOffset

	// Input
	KindNoInitSegment
	KindEmptySampleList
)

var kindNames = map[Kind]string{
	KindMissingMoov:              "MissingMoov",
	KindNoVideoTrack:             "NoVideoTrack",
	KindMissingMdhd:              "MissingMdhd",
	KindMissingTkhd:              "MissingTkhd",
	KindMissingStsd:              "MissingStsd",
	KindNoMoof:                   "NoMoof",
	KindMoofWithoutMdat:          "MoofWithoutMdat",
	KindMissingTfdt:              "MissingTfdt",
	KindMissingTrun:              "MissingTrun",
	KindMissingTfhd:              "MissingTfhd",
	KindUnsupportedTfraVersion:   "UnsupportedTfraVersion",
	KindUnsupportedTfdtVersion:   "UnsupportedTfdtVersion",
	KindUnsupportedMdhdVersion:   "UnsupportedMdhdVersion",
	KindBoxTooLarge:              "BoxTooLarge",
	KindChunkOffsetOverflow:      "ChunkOffsetOverflow",
	KindIntegerTooLargeForNumber: "IntegerTooLargeForNumber",
	KindMdatRangeMismatch:        "MdatRangeMismatch",
	KindMissingSampleSize:        "MissingSampleSize",
	KindMissingTrunDataOffset:    "MissingTrunDataOffset",
	KindNoInitSegment:            "NoInitSegment",
	KindEmptySampleList:          "EmptySampleList",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is the single error type returned by every fmp4remux package.
// BoxType is empty and Offset is -1 when not applicable to the kind.
type Error struct {
	Kind    Kind
	BoxType string // four-character box type, e.g. "tfhd"; empty if not box-specific
	Offset  int64  // byte offset of the offending box, -1 if unknown
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.BoxType != "" && e.Offset >= 0:
		return fmt.Sprintf("%s: %s at offset %d: %s", e.Kind, e.BoxType, e.Offset, e.Msg)
	case e.BoxType != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.BoxType, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errs.New(errs.KindMissingMoov, "", -1, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New creates an Error. offset of -1 means "not applicable".
func New(kind Kind, boxType string, offset int64, msg string) *Error {
	return &Error{Kind: kind, BoxType: boxType, Offset: offset, Msg: msg}
}

// Wrap creates an Error that also carries a wrapped cause.
func Wrap(kind Kind, boxType string, offset int64, msg string, cause error) *Error {
	return &Error{Kind: kind, BoxType: boxType, Offset: offset, Msg: msg, Cause: cause}
}

// Sentinel returns an *Error usable purely as an errors.Is target for a kind,
// e.g. errors.Is(err, errs.Sentinel(errs.KindMissingMoov)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
