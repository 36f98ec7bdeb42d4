package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/instant-replay/internal/events"
	"github.com/e7canasta/instant-replay/internal/hwaccel"
	"github.com/e7canasta/instant-replay/internal/pipeline"
	"github.com/e7canasta/instant-replay/internal/ringbuf"
	"github.com/e7canasta/instant-replay/internal/server"
)

// Service implements Replayer: it ingests one RTSP source into a bounded
// retention window and re-serves the window as a seekable RTSP stream.
type Service struct {
	// Configuration
	cfg   Config
	codec hwaccel.CodecPair

	// Components, built at Start
	store      *ringbuf.Store
	ingest     *pipeline.Ingest
	playback   *pipeline.Playback
	srv        *server.Server
	dispatcher *events.Dispatcher

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	started time.Time

	// Shutdown protection (atomic flag to keep Stop idempotent)
	stopped atomic.Bool
}

// New creates a replay service with fail-fast validation
//
// Validates configuration and the runtime environment at construction time:
//   - Source URL must be a non-empty rtsp:// or rtsps:// URL
//   - Retention window must be between 1 and 3600 seconds
//   - Service port and mount point must be valid
//   - GStreamer and its core elements must be available
//
// Codec selection also happens here: the hardware backends are probed once
// and the best available decoder/encoder pair is chosen, falling back to
// software when no hardware backend supports both directions.
func New(cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()

	if cfg.Source == "" {
		return nil, fmt.Errorf("replay: source RTSP URL is required")
	}
	if !strings.HasPrefix(cfg.Source, "rtsp://") && !strings.HasPrefix(cfg.Source, "rtsps://") {
		return nil, fmt.Errorf("replay: source must be an rtsp:// or rtsps:// URL, got %q", cfg.Source)
	}
	if cfg.BufferSeconds < 1 || cfg.BufferSeconds > 3600 {
		return nil, fmt.Errorf(
			"replay: invalid retention window %ds (must be 1-3600)",
			cfg.BufferSeconds,
		)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("replay: invalid port %d", cfg.Port)
	}
	if !strings.HasPrefix(cfg.Mount, "/") || cfg.Mount == "/" {
		return nil, fmt.Errorf("replay: mount point must be a non-root absolute path, got %q", cfg.Mount)
	}
	if cfg.BitrateKbps < 100 || cfg.BitrateKbps > 100000 {
		return nil, fmt.Errorf(
			"replay: invalid bitrate %d kbps (must be 100-100000)",
			cfg.BitrateKbps,
		)
	}
	if cfg.GPUID < 0 {
		return nil, fmt.Errorf("replay: invalid GPU id %d", cfg.GPUID)
	}

	probe, err := hwaccel.EngineProbe()
	if err != nil {
		return nil, fmt.Errorf("replay: GStreamer not available: %w", err)
	}
	if missing := hwaccel.MissingCoreElements(probe); len(missing) > 0 {
		return nil, fmt.Errorf(
			"replay: missing GStreamer elements: %s (install the base, good and libav plugin sets)",
			strings.Join(missing, ", "),
		)
	}

	report := hwaccel.Probe(probe)
	codec := hwaccel.Select(report, cfg.DisableHardware)

	s := &Service{
		cfg:   cfg,
		codec: codec,
	}

	slog.Info("replay: service created",
		"source", cfg.Source,
		"window_seconds", cfg.BufferSeconds,
		"max_buffer_bytes", cfg.MaxBufferBytes,
		"port", cfg.Port,
		"mount", cfg.Mount,
		"transport", cfg.Transport.String(),
		"backend", codec.Backend.String(),
		"decoder", codec.Decoder,
		"encoder", codec.Encoder,
		"passthrough", cfg.Passthrough,
	)

	return s, nil
}

// Backend returns the codec backend selected at construction.
func (s *Service) Backend() string {
	return s.codec.Backend.String()
}

// Start builds and launches the ingest graph, the retention store, the
// playback graph and the replay RTSP server
//
// This method returns immediately. The retention window starts filling
// asynchronously once the upstream handshake completes; replay clients can
// connect at any time and receive data as soon as a keyframe is retained.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("replay: service already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	retention := time.Duration(s.cfg.BufferSeconds) * time.Second

	store, err := ringbuf.NewStore(ringbuf.Config{
		Retention: retention,
		MaxBytes:  int64(s.cfg.MaxBufferBytes),
	})
	if err != nil {
		return fmt.Errorf("replay: failed to create retention store: %w", err)
	}
	s.store = store

	tempDir := s.cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	ingest, err := pipeline.BuildIngest(pipeline.IngestConfig{
		Location:             s.cfg.Source,
		LatencyMS:            s.cfg.LatencyMS,
		Transport:            s.cfg.Transport.toPipeline(),
		Username:             s.cfg.Username,
		Password:             s.cfg.Password,
		Retention:            retention,
		MaxBytes:             int64(s.cfg.MaxBufferBytes),
		UseBufferingMessages: true,
		TempTemplate:         filepath.Join(tempDir, "replay-buffer-XXXXXX"),
	}, store)
	if err != nil {
		return fmt.Errorf("replay: failed to build ingest pipeline: %w", err)
	}
	s.ingest = ingest

	playback, err := pipeline.BuildPlayback(s.codec, pipeline.PlaybackTuning{
		BitrateKbps:      s.cfg.BitrateKbps,
		KeyframeInterval: 60,
		LowLatency:       true,
		GPUID:            s.cfg.GPUID,
		Passthrough:      s.cfg.Passthrough,
	})
	if err != nil {
		ingest.Release()
		return fmt.Errorf("replay: failed to build playback pipeline: %w", err)
	}
	s.playback = playback

	srv, err := server.New(server.Config{
		Port:     s.cfg.Port,
		Mount:    s.cfg.Mount,
		AllowUDP: s.cfg.AllowUDPClients,
	}, store, playback)
	if err != nil {
		ingest.Release()
		return fmt.Errorf("replay: failed to create replay server: %w", err)
	}
	s.srv = srv

	notifs := make(chan events.Notification, 16)
	s.dispatcher = events.NewDispatcher(notifs, ingest)

	if err := ingest.Start(); err != nil {
		ingest.Release()
		return fmt.Errorf("replay: failed to start ingest pipeline: %w", err)
	}

	// The bus pump feeds the dispatcher; the dispatcher owns the graph from
	// here on, including its release.
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		pipeline.PumpBus(s.ctx, ingest, notifs)
	}()
	dispatcher := s.dispatcher
	go func() {
		defer s.wg.Done()
		if err := dispatcher.Run(s.ctx); err != nil {
			slog.Error("replay: ingest terminated", "error", err)
		}
	}()

	if err := s.srv.Start(s.ctx); err != nil {
		s.cancel()
		s.dispatcher.Shutdown()
		return fmt.Errorf("replay: failed to start replay server: %w", err)
	}

	slog.Info("replay: service started",
		"source", s.cfg.Source,
		"url", fmt.Sprintf("rtsp://localhost:%d%s", s.cfg.Port, s.cfg.Mount),
		"note", "retention window fills asynchronously once the upstream handshake completes",
	)

	return nil
}

// Wait blocks until the ingest side terminates (fatal pipeline error, end of
// stream, or Stop). Returns the runtime fault, if any.
func (s *Service) Wait() error {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()

	if d == nil {
		return fmt.Errorf("replay: service not started")
	}
	<-d.Done()
	return d.Err()
}

// Stop gracefully shuts down the service
//
/// Shutdown order matters: client admission stops first, then the shared
// serving graph, and only then is the ingest graph released. The retention
// store is never torn down under an attached serving graph.
//
// Idempotent - safe to call multiple times.
func (s *Service) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		slog.Debug("replay: service already stopped")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		slog.Debug("replay: service not started, nothing to stop")
		return nil
	}

	slog.Info("replay: stopping service")

	if s.srv != nil {
		s.srv.Close()
	}
	if s.dispatcher != nil {
		s.dispatcher.Shutdown()
	}
	s.cancel()

	// Wait for the bus pump and dispatcher with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Debug("replay: goroutines stopped cleanly")
	case <-time.After(3 * time.Second):
		slog.Warn("replay: stop timeout exceeded, some goroutines may still be running")
	}

	if s.ingest != nil {
		s.ingest.Release()
	}

	var served, ingested, evicted uint64
	if s.srv != nil {
		served = s.srv.SessionsServed()
	}
	if s.store != nil {
		ingested = s.store.Appended()
		evicted = s.store.Evicted()
	}
	slog.Info("replay: service stopped",
		"uptime", time.Since(s.started),
		"samples_ingested", ingested,
		"samples_evicted", evicted,
		"sessions_served", served,
	)

	return nil
}

// Stats returns current service statistics
//
// Thread-safe - counters are read atomically from their owners.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Backend: s.codec.Backend.String(),
		State:   events.StateNull.String(),
	}

	if !s.started.IsZero() {
		st.Uptime = time.Since(s.started)
	}
	if s.store != nil {
		st.SamplesBuffered = s.store.Len()
		st.BufferedBytes = uint64(s.store.Bytes())
		st.BufferedSeconds = s.store.Window().Seconds()
		st.FillPercent = s.store.FillPercent()
		st.SamplesAppended = s.store.Appended()
		st.SamplesEvicted = s.store.Evicted()
	}
	if s.dispatcher != nil {
		st.State = s.dispatcher.State().String()
		st.IsIngesting = s.dispatcher.State() == events.StatePlaying
		st.ErrorsNetwork, st.ErrorsCodec, st.ErrorsAuth, st.ErrorsUnknown = s.dispatcher.ErrorCounts()
	}
	if s.srv != nil {
		st.ActiveSessions = s.srv.ActiveSessions()
		st.SessionsServed = s.srv.SessionsServed()
	}

	return st
}
