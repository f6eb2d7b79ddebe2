package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report encoder binaries and hardware acceleration",
	Long: `Detect ffmpeg and ffprobe, the GPU vendor, and which hardware
encoders for that vendor pass a short test encode on this host.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	binaries, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	fmt.Fprintf(out, "ffmpeg:  %s (%s)\n", binaries.Version, binaries.FFmpegPath)
	fmt.Fprintf(out, "ffprobe: %s (%s)\n", binaries.FFprobeVersion, binaries.FFprobePath)

	vendor, err := ffmpeg.NewVendorDetector().Detect(ctx, cfg.FFmpeg.ForceGPU)
	if err != nil {
		fmt.Fprintf(out, "gpu:     none (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "gpu:     %s\n", vendor)

	prober := ffmpeg.NewAcceleratorProber(binaries.FFmpegPath).
		WithTimeout(cfg.FFmpeg.ProbeTimeout).
		WithRenderNode(cfg.FFmpeg.RenderNode)
	for _, encoder := range converter.AcceleratedNames(vendor, runtime.GOOS) {
		status := "unavailable"
		if prober.Available(encoder) {
			status = "available"
		}
		fmt.Fprintf(out, "  %-20s %s\n", encoder, status)
	}
	return nil
}
