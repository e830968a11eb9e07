// Package timeline normalizes sample timestamps across one or more parsed
// fragment files into a single, strictly monotonic decode-time axis ready
// for progressive-MP4 assembly.
package timeline

import (
	"log/slog"
	"math"

	"github.com/tetsuo/fmp4remux/fragment"
)

// Options controls normalization behavior.
type Options struct {
	// NormalizeAcrossFiles enables Phase B's cross-file offsetting. The
	// zero value leaves it off; remux.Flatten turns it on unless its own
	// options disable it.
	NormalizeAcrossFiles bool
}

// Result is the normalized, concatenated sample list plus bookkeeping the
// caller needs to report discontinuities.
type Result struct {
	Samples []fragment.Sample

	// DiscontinuityDetected is true if a zero-duration sample's repaired
	// gap to its successor exceeded one media-timescale tick, i.e. the
	// source timeline itself had a jump larger than a rounding artifact.
	DiscontinuityDetected bool
}

// Normalize runs the three-phase timeline repair over one sample list per
// input file, in input order, and returns the concatenated, globally
// monotonic result. perFile entries are consumed by value; samples are
// copied before mutation so callers' slices are left untouched.
//
// Phase A repairs each file's own zero-duration samples against their
// successor (or predecessor, at the tail). Phase B offsets every file
// after the first onto a shared running timeline. Phase C walks the fully
// concatenated list once more and clamps any residual non-monotonicity,
// preserving emission order (no re-sort) so B-frame composition offsets
// stay attached to the right decode position.
func Normalize(perFile [][]fragment.Sample, opts Options, logger *slog.Logger) Result {
	files := make([][]fragment.Sample, 0, len(perFile))
	for _, samples := range perFile {
		if len(samples) == 0 {
			continue
		}
		files = append(files, cloneSamples(samples))
	}
	if len(files) == 0 {
		return Result{}
	}

	discontinuity := false
	for i := range files {
		discontinuity = repairDurations(files[i]) || discontinuity
	}

	if opts.NormalizeAcrossFiles {
		offsetCrossFile(files, logger)
	}

	total := 0
	for _, f := range files {
		total += len(f)
	}
	all := make([]fragment.Sample, 0, total)
	for _, f := range files {
		all = append(all, f...)
	}

	monotonize(all, logger)

	return Result{Samples: all, DiscontinuityDetected: discontinuity}
}

func cloneSamples(samples []fragment.Sample) []fragment.Sample {
	out := make([]fragment.Sample, len(samples))
	copy(out, samples)
	return out
}

// repairDurations fixes zero-duration samples in place (Phase A): a
// successor gives duration = max(1, next.dts - cur.dts); the tail sample
// duplicates its predecessor's duration, or 1 if it has none. Returns true
// if any repaired gap exceeded one media-timescale tick, signaling a real
// timeline jump rather than a rounding artifact.
func repairDurations(samples []fragment.Sample) bool {
	discontinuity := false
	for i := range samples {
		if samples[i].Duration != 0 {
			continue
		}
		if i+1 < len(samples) {
			gap := samples[i+1].DTS - samples[i].DTS
			samples[i].Duration = max64(1, gap)
			if gap > 1 {
				discontinuity = true
			}
		} else if i > 0 {
			samples[i].Duration = samples[i-1].Duration
		} else {
			samples[i].Duration = 1
		}
	}
	return discontinuity
}

// offsetCrossFile shifts every file after the first onto a running
// timelineOffset: each file's samples are shifted by the offset accrued
// so far, then the file's own inferred duration is added to the offset
// for the next file (Phase B).
func offsetCrossFile(files [][]fragment.Sample, logger *slog.Logger) {
	var timelineOffset int64
	for i, samples := range files {
		duration := fileDuration(samples)
		if timelineOffset != 0 {
			for j := range samples {
				samples[j].DTS += timelineOffset
				samples[j].CTS += timelineOffset
			}
			if logger != nil {
				logger.Debug("offsetting file onto shared timeline", "fileIndex", i, "offset", timelineOffset)
			}
		}
		timelineOffset += duration
	}
}

// fileDuration is a file's inferred end: max over samples of
// dts + max(0, duration), relative to the file's own (pre-offset) start.
func fileDuration(samples []fragment.Sample) int64 {
	var end int64
	for _, s := range samples {
		e := s.DTS + max64(0, s.Duration)
		if e > end {
			end = e
		}
	}
	return end
}

// monotonize sanitizes non-finite/negative fields and then walks the fully
// concatenated list once, clamping any sample whose dts does not reach
// max(cur.dts, prev.dts, prevEnd) forward to that value, shifting cts by
// the same delta and then clamping cts >= dts (Phase C). Order is never
// changed.
func monotonize(samples []fragment.Sample, logger *slog.Logger) {
	for i := range samples {
		sanitize(&samples[i])
	}
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1]
		prevEnd := prev.DTS + max64(1, prev.Duration)
		cur := &samples[i]
		target := max64(cur.DTS, max64(prev.DTS, prevEnd))
		if target != cur.DTS {
			delta := target - cur.DTS
			cur.DTS += delta
			cur.CTS += delta
			if logger != nil {
				logger.Debug("timeline monotonization applied", "sampleIndex", i, "delta", delta)
			}
		}
		if cur.CTS < cur.DTS {
			cur.CTS = cur.DTS
		}
	}
}

// sanitize replaces non-finite or negative dts/cts/duration before Phase C
// runs: dts falls back to 0, cts falls back to the (sanitized) dts, and
// duration falls back to 0.
func sanitize(s *fragment.Sample) {
	if !finite(s.DTS) || s.DTS < 0 {
		s.DTS = 0
	}
	if !finite(s.CTS) || s.CTS < 0 {
		s.CTS = s.DTS
	}
	if !finite(s.Duration) || s.Duration < 0 {
		s.Duration = 0
	}
}

// finite reports whether v, treated as a signed timestamp, represents a
// usable value rather than an overflowed sentinel.
func finite(v int64) bool {
	return v != math.MinInt64 && v != math.MaxInt64
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
