package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetsuo/fmp4remux/remux"
)

var (
	outputPath                  string
	allowTrunFallback           bool
	disableNormalizeAcrossFiles bool
	debugRemux                  bool
	debugFileLimit              int
)

var remuxCmd = &cobra.Command{
	Use:   "remux <init.mp4> <fragment.m4s>...",
	Short: "Flatten an init segment and its fragments into a progressive MP4",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemux,
}

func init() {
	remuxCmd.Flags().StringVarP(&outputPath, "output", "o", "out.mp4", "output file path")
	remuxCmd.Flags().BoolVar(&allowTrunFallback, "allow-trun-data-offset-fallback", false,
		"synthesize a trun data_offset when one is missing, instead of failing")
	remuxCmd.Flags().BoolVar(&disableNormalizeAcrossFiles, "no-normalize-across-files", false,
		"disable cross-file timeline offsetting (treat each input's dts independently)")
	remuxCmd.Flags().BoolVar(&debugRemux, "debug", false,
		"emit Debug-level pipeline records (dts bumps, data-offset fallbacks, timeline offsets and clamps)")
	remuxCmd.Flags().IntVar(&debugFileLimit, "debug-file-limit", 0,
		"cap how many fragment files emit --debug records (0 means unlimited)")
}

func runRemux(_ *cobra.Command, args []string) error {
	buffers := make([][]byte, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		buffers[i] = data
	}

	logger := slog.Default()
	if debugRemux {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	normalize := !disableNormalizeAcrossFiles
	result, err := remux.Flatten(buffers, remux.Options{
		AllowTrunDataOffsetFallback: allowTrunFallback,
		NormalizeAcrossFiles:        &normalize,
		Logger:                      logger,
		DebugFileLimit:              debugFileLimit,
	})
	if err != nil {
		return fmt.Errorf("remux: %w", err)
	}

	if err := os.WriteFile(outputPath, result.Output, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}

	slog.Info("remux complete",
		"output", outputPath,
		"bytes", len(result.Output),
		"keyframes", len(result.IdrTimestamps),
		"discontinuityDetected", result.DiscontinuityDetected,
	)
	return nil
}
