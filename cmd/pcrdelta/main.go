package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zsiec/pcrdelta/internal/session"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := session.DefaultConfig()
	var outputFile string
	var latencyMS uint

	cmd := &cobra.Command{
		Use:     "pcrdelta <input-a> <input-b>",
		Short:   "Compare PCR timing between two redundant MPEG-TS feeds",
		Version: version,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Inputs = [2]string{args[0], args[1]}
			cfg.OutputPath = outputFile
			cfg.LatencyThresholdMS = float64(latencyMS)
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&outputFile, "output-file", "o", "", "CSV destination (default: stderr)")
	flags.UintVar(&latencyMS, "latency", 0, "sync threshold in milliseconds")
	flags.Float64Var(&cfg.PairTimestampSkewMS, "pair-skew-ms", cfg.PairTimestampSkewMS, "max arrival-time skew between a pairable sample, in milliseconds")
	flags.IntVar(&cfg.QueueSoftCap, "queue-cap", cfg.QueueSoftCap, "per-input sample queue soft cap before a reset")
	flags.IntVar(&cfg.PacketBatchMax, "batch-max", cfg.PacketBatchMax, "max packets requested per Source.Receive call")
	flags.BoolVar(&cfg.PCRWrapMitigation, "pcr-wrap-mitigation", cfg.PCRWrapMitigation, "treat PCR deltas as wrap-aware (min(|delta|, 2^42-|delta|))")

	return cmd
}

// run builds and drives a Session Controller to completion, canceling
// on SIGINT/SIGTERM the same way the session's terminate() flag is
// driven in the reference implementation.
func run(ctx context.Context, cfg session.Config) error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, stopping session", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ctrl := session.New(cfg, log)

	log.Info("session starting",
		"session_id", ctrl.SessionID,
		"input_a", cfg.Inputs[0],
		"input_b", cfg.Inputs[1],
		"latency_threshold_ms", cfg.LatencyThresholdMS,
	)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("pcrdelta: %w", err)
	}

	if err := ctrl.Wait(); err != nil {
		log.Error("session ended with error", "error", err)
		return fmt.Errorf("pcrdelta: %w", err)
	}

	log.Info("session complete")
	return nil
}
