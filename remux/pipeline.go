// Package remux orchestrates the full pipeline: splitting raw input
// buffers, parsing the init segment and every fragment, normalizing the
// combined timeline, and assembling the progressive output file.
package remux

import (
	"log/slog"

	"github.com/tetsuo/fmp4remux/errs"
	"github.com/tetsuo/fmp4remux/fragment"
	"github.com/tetsuo/fmp4remux/mp4build"
	"github.com/tetsuo/fmp4remux/split"
	"github.com/tetsuo/fmp4remux/timeline"
	"github.com/tetsuo/fmp4remux/track"
)

// Options controls every stage of the pipeline that has a caller-tunable
// behavior.
type Options struct {
	// AllowTrunDataOffsetFallback is passed through to the fragment parser.
	AllowTrunDataOffsetFallback bool

	// NormalizeAcrossFiles enables the timeline normalizer's Phase B. This
	// defaults to true in Flatten's zero-value handling below.
	NormalizeAcrossFiles *bool

	Logger *slog.Logger

	// DebugFileLimit caps how many fragment files emit Debug-level parse
	// records, so a caller piping in thousands of fragments at --debug
	// doesn't drown in per-file output. Zero means unlimited.
	DebugFileLimit int
}

func (o Options) normalizeAcrossFiles() bool {
	if o.NormalizeAcrossFiles == nil {
		return true
	}
	return *o.NormalizeAcrossFiles
}

// debugLoggerForFile returns the logger to use for the i'th fragment file,
// or nil once DebugFileLimit has been reached.
func (o Options) debugLoggerForFile(i int) *slog.Logger {
	if o.DebugFileLimit > 0 && i >= o.DebugFileLimit {
		return nil
	}
	return o.Logger
}

// Result is the pipeline's full output: the assembled file plus the
// metadata spec §6's external interface promises callers.
type Result struct {
	Output                []byte
	IdrTimestamps          []float64
	DiscontinuityDetected bool

	// Track is kept so callers can seek into Output without re-parsing it
	// (see FindKeyframeAtOrBefore / FindKeyframeAtOrAfter).
	Track Track
}

// Flatten runs the complete pipeline over buffers (in decode order) and
// returns a single progressive MP4.
func Flatten(buffers [][]byte, opts Options) (Result, error) {
	classified, err := split.Classify(buffers)
	if err != nil {
		return Result{}, err
	}

	cfg, err := track.ParseInit(classified.Init, opts.Logger)
	if err != nil {
		return Result{}, err
	}

	parser := fragment.NewParser(cfg, fragment.Options{
		AllowTrunDataOffsetFallback: opts.AllowTrunDataOffsetFallback,
	}, opts.Logger)

	perFile := make([][]fragment.Sample, 0, len(classified.Fragments))
	for i, buf := range classified.Fragments {
		parser.Logger = opts.debugLoggerForFile(i)
		samples, err := parser.ParseFragment(buf)
		if err != nil {
			return Result{}, err
		}
		perFile = append(perFile, samples)
	}

	normalizeAcrossFiles := opts.normalizeAcrossFiles()
	norm := timeline.Normalize(perFile, timeline.Options{
		NormalizeAcrossFiles: normalizeAcrossFiles,
	}, opts.Logger)

	if len(norm.Samples) == 0 {
		return Result{}, errs.New(errs.KindEmptySampleList, "", -1, "no samples extracted from any fragment")
	}

	built, err := mp4build.Build(cfg, norm.Samples, opts.Logger)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Output:                built.Output,
		IdrTimestamps:          built.IdrTimestamps,
		DiscontinuityDetected: norm.DiscontinuityDetected,
		Track:                 newTrack(cfg, norm.Samples),
	}, nil
}
