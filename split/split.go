// Package split classifies raw input buffers as an init segment or a
// fragment by a single top-level box scan, per the Splitter component.
package split

import (
	"github.com/tetsuo/fmp4remux/bmff"
	"github.com/tetsuo/fmp4remux/errs"
)

// Classified groups the input buffers into the one chosen init segment and
// the fragments that follow it, in input order.
type Classified struct {
	Init      []byte
	Fragments [][]byte
}

// Classify walks each buffer's top-level boxes looking for moov/moof, picks
// the first buffer containing moov as the init segment, and treats every
// other buffer as a fragment — including the init buffer itself when it
// also carries a moof (a combined init+fragment buffer is both). Fails
// with NoInitSegment if no buffer contains a moov.
func Classify(buffers [][]byte) (Classified, error) {
	initIndex := -1
	hasMoof := make([]bool, len(buffers))

	for i, buf := range buffers {
		hasMoov, moof := scan(buf)
		hasMoof[i] = moof
		if hasMoov && initIndex == -1 {
			initIndex = i
		}
	}
	if initIndex == -1 {
		return Classified{}, errs.New(errs.KindNoInitSegment, "", -1, "no input buffer contains a moov box")
	}

	var fragments [][]byte
	for i, buf := range buffers {
		if i == initIndex {
			if hasMoof[i] {
				fragments = append(fragments, buf)
			}
			continue
		}
		fragments = append(fragments, buf)
	}

	return Classified{Init: buffers[initIndex], Fragments: fragments}, nil
}

func scan(buf []byte) (hasMoov, hasMoof bool) {
	r := bmff.NewReader(buf)
	for r.Next() {
		switch r.Type() {
		case bmff.TypeMoov:
			hasMoov = true
		case bmff.TypeMoof:
			hasMoof = true
		}
	}
	return hasMoov, hasMoof
}
