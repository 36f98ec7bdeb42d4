package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	replay "github.com/e7canasta/instant-replay"
)

// Version information
const version = "v0.1.0"

type options struct {
	input     string
	buffer    int
	maxBytes  uint64
	latency   int
	transport string
	username  string
	password  string

	port     int
	mount    string
	allowUDP bool

	noHW        bool
	gpu         int
	passthrough bool
	bitrate     int

	tempDir       string
	statsInterval int
	debug         bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "instant-replay",
		Short: "Instant-replay buffer for RTSP cameras",
		Long: `instant-replay connects to an H.264 RTSP source, retains the last N
seconds of video in a bounded ring buffer, and re-serves the retained
window as a seekable RTSP stream.

Play the window from any RTSP client:

  ffplay rtsp://localhost:8554/replay

A Range header on PLAY seeks within the window; seek targets snap back
to the nearest keyframe.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	f := root.Flags()
	// Accept underscore variants of multi-word flag names.
	f.SetNormalizeFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	f.StringVarP(&opts.input, "input", "i", "", "upstream RTSP URL (required)")
	f.IntVarP(&opts.buffer, "buffer", "b", 60, "retention window in seconds (1-3600)")
	f.Uint64Var(&opts.maxBytes, "max-bytes", 1<<30, "retention window byte cap")
	f.IntVar(&opts.latency, "latency", 2000, "upstream jitterbuffer latency in milliseconds")
	f.StringVar(&opts.transport, "transport", "tcp", "upstream transport: tcp, udp, udp-mcast")
	f.StringVar(&opts.username, "username", "", "upstream RTSP username")
	f.StringVar(&opts.password, "password", "", "upstream RTSP password")

	f.IntVarP(&opts.port, "port", "p", 8554, "replay RTSP service port")
	f.StringVarP(&opts.mount, "mount", "m", "/replay", "replay mount point path")
	f.BoolVar(&opts.allowUDP, "allow-udp", false, "offer UDP transports to replay clients")

	f.BoolVar(&opts.noHW, "no-hw", false, "force software codecs for playback")
	f.IntVar(&opts.gpu, "gpu", 0, "GPU device id for NVIDIA encode")
	f.BoolVar(&opts.passthrough, "passthrough", false, "serve retained data without re-encoding")
	f.IntVar(&opts.bitrate, "bitrate", 4000, "playback re-encode bitrate in kbps")

	f.StringVar(&opts.tempDir, "temp-dir", "", "directory for buffer spill files")
	f.IntVar(&opts.statsInterval, "stats-interval", 10, "seconds between stats reports (0 disables)")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	_ = root.MarkFlagRequired("input")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	// Set up logging
	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var transport replay.Transport
	switch opts.transport {
	case "tcp":
		transport = replay.TransportTCP
	case "udp":
		transport = replay.TransportUDP
	case "udp-mcast":
		transport = replay.TransportUDPMulticast
	default:
		return fmt.Errorf("invalid transport %q (must be tcp, udp, or udp-mcast)", opts.transport)
	}

	cfg := replay.Config{
		Source:          opts.input,
		BufferSeconds:   opts.buffer,
		MaxBufferBytes:  opts.maxBytes,
		LatencyMS:       opts.latency,
		Transport:       transport,
		Username:        opts.username,
		Password:        opts.password,
		Port:            opts.port,
		Mount:           opts.mount,
		AllowUDPClients: opts.allowUDP,
		DisableHardware: opts.noHW,
		GPUID:           opts.gpu,
		Passthrough:     opts.passthrough,
		BitrateKbps:     opts.bitrate,
		TempDir:         opts.tempDir,
	}

	svc, err := replay.New(cfg)
	if err != nil {
		return err
	}

	// Print banner
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              Instant Replay - RTSP Buffer                 ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Source:        %s\n", opts.input)
	fmt.Printf("  Window:        %d seconds (max %d MiB)\n", opts.buffer, opts.maxBytes>>20)
	fmt.Printf("  Replay URL:    rtsp://localhost:%d%s\n", opts.port, opts.mount)
	fmt.Printf("  Transport:     %s\n", transport)
	fmt.Printf("  Backend:       %s\n", svc.Backend())
	if opts.passthrough {
		fmt.Printf("  Re-encode:     disabled (passthrough)\n")
	} else {
		fmt.Printf("  Re-encode:     %d kbps\n", opts.bitrate)
	}
	fmt.Printf("\n")
	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := svc.Start(ctx); err != nil {
		return err
	}

	// Launch stats reporter goroutine
	if opts.statsInterval > 0 {
		ticker := time.NewTicker(time.Duration(opts.statsInterval) * time.Second)
		defer ticker.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					printStats(svc.Stats())
				}
			}
		}()
	}

	// Wait for ingest termination or a shutdown signal
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- svc.Wait()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig.String())
	case err := <-waitErr:
		if err != nil {
			slog.Error("ingest terminated", "error", err)
		} else {
			slog.Info("ingest finished")
		}
	}

	if err := svc.Stop(); err != nil {
		return err
	}

	printStats(svc.Stats())
	return nil
}

func printStats(st replay.Stats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Replay Statistics (Uptime: %s)\n", st.Uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ State:              %10s\n", st.State)
	fmt.Printf("│ Window:             %8.1f s (%d%% full)\n", st.BufferedSeconds, st.FillPercent)
	fmt.Printf("│ Buffered:           %8d samples (%.1f MiB)\n", st.SamplesBuffered, float64(st.BufferedBytes)/(1<<20))
	fmt.Printf("│ Ingested:           %8d samples (%d evicted)\n", st.SamplesAppended, st.SamplesEvicted)
	fmt.Printf("│ Sessions:           %8d active (%d total)\n", st.ActiveSessions, st.SessionsServed)
	if st.ErrorsNetwork+st.ErrorsCodec+st.ErrorsAuth+st.ErrorsUnknown > 0 {
		fmt.Printf("│ Errors:             net=%d codec=%d auth=%d other=%d\n",
			st.ErrorsNetwork, st.ErrorsCodec, st.ErrorsAuth, st.ErrorsUnknown)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
}
