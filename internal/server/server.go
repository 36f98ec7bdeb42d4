// Package server re-serves the retained buffer as a seekable RTSP stream.
//
// One shared playback graph feeds one shared stream per mount point; client
// sessions reference that stream rather than owning a graph, bounding
// resource growth under multiple simultaneous viewers. The graph's lifetime
// is bound to the server, not to sessions, so it keeps running for other
// viewers after one client departs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/e7canasta/instant-replay/internal/pipeline"
	"github.com/e7canasta/instant-replay/internal/ringbuf"
)

// rtpClockRate is the RTP clock rate for H.264.
const rtpClockRate = 90000

// catchUpPoll is how long the playback loop waits when it has reached the
// live edge of the retained window.
const catchUpPoll = 20 * time.Millisecond

// Config carries the serving-side configuration keys.
type Config struct {
	// Port is the RTSP service port.
	Port int
	// Mount is the mount point path, leading slash included.
	Mount string
	// AllowUDP additionally binds UDP/multicast transports. The default is
	// connection-oriented transport only, for robustness over lossy links.
	AllowUDP bool
}

// Server owns the RTSP listener, the shared stream and the playback loop
// reading from the retained buffer.
type Server struct {
	cfg      Config
	store    *ringbuf.Store
	playback *pipeline.Playback

	rtsp   *gortsplib.Server
	stream *gortsplib.ServerStream
	media  *description.Media
	enc    *rtph264.Encoder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seekCh chan time.Duration

	mu       sync.Mutex
	sessions map[*gortsplib.ServerSession]string

	served    uint64
	written   uint64
	listening atomic.Bool
	closed    atomic.Bool
}

// New builds a replay server over the retained store and the shared playback
// graph.
func New(cfg Config, store *ringbuf.Store, playback *pipeline.Playback) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("server: invalid port %d", cfg.Port)
	}
	if !strings.HasPrefix(cfg.Mount, "/") || cfg.Mount == "/" {
		return nil, fmt.Errorf("server: mount point must be a non-root absolute path, got %q", cfg.Mount)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		playback: playback,
		seekCh:   make(chan time.Duration, 1),
		sessions: make(map[*gortsplib.ServerSession]string),
	}

	s.media = &description.Media{
		Type: description.MediaTypeVideo,
		Formats: []format.Format{&format.H264{
			PayloadTyp:        96,
			PacketizationMode: 1,
		}},
	}

	s.enc = &rtph264.Encoder{PayloadType: 96}
	if err := s.enc.Init(); err != nil {
		return nil, fmt.Errorf("server: failed to initialize RTP payloader: %w", err)
	}

	s.rtsp = &gortsplib.Server{
		Handler:     s,
		RTSPAddress: fmt.Sprintf(":%d", cfg.Port),
	}
	if cfg.AllowUDP {
		s.rtsp.UDPRTPAddress = ":8000"
		s.rtsp.UDPRTCPAddress = ":8001"
	}

	return s, nil
}

// Start binds the listener, initializes the shared stream and launches the
// playback loop. The loop starts at the oldest retained keyframe and follows
// the live edge.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	// The listener must be running before the shared stream registers
	// against it; stream initialization against a stopped server fails.
	if err := s.rtsp.Start(); err != nil {
		return fmt.Errorf("server: failed to start RTSP listener: %w", err)
	}
	s.listening.Store(true)

	desc := &description.Session{Medias: []*description.Media{s.media}}
	s.stream = &gortsplib.ServerStream{Server: s.rtsp, Desc: desc}
	if err := s.stream.Initialize(); err != nil {
		s.rtsp.Close()
		s.listening.Store(false)
		s.stream = nil
		return fmt.Errorf("server: failed to initialize shared stream: %w", err)
	}

	if err := s.playback.Start(); err != nil {
		s.stream.Close()
		s.rtsp.Close()
		s.listening.Store(false)
		return err
	}

	s.wg.Add(2)
	go s.feedLoop()
	go s.writeLoop()

	slog.Info("server: replay stream available",
		"url", fmt.Sprintf("rtsp://localhost:%d%s", s.cfg.Port, s.cfg.Mount),
		"udp_enabled", s.cfg.AllowUDP,
	)
	return nil
}

// feedLoop walks the retained window and pushes access units into the shared
// playback graph, paced by their presentation timestamps. Seek requests
// reposition the cursor at a keyframe and re-anchor pacing.
func (s *Server) feedLoop() {
	defer s.wg.Done()

	var (
		cursor    time.Duration
		anchorPTS time.Duration
		anchor    time.Time
		anchored  bool
	)

	// Start at the oldest retained keyframe.
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		start, ok := s.store.SnapToKeyframe(0)
		if ok {
			cursor = start - 1
			slog.Info("server: playback starting", "position", start)
			break
		}
		time.Sleep(catchUpPoll)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case target := <-s.seekCh:
			cursor = target - 1
			anchored = false
			slog.Info("server: playback repositioned", "position", target)
		default:
		}

		sm, ok := s.store.Next(cursor)
		if !ok {
			// Caught up with the live edge, or the cursor was evicted
			// together with everything after it.
			time.Sleep(catchUpPoll)
			continue
		}
		cursor = sm.PTS

		if !anchored {
			anchor = time.Now()
			anchorPTS = sm.PTS
			anchored = true
		} else if wait := time.Until(anchor.Add(sm.PTS - anchorPTS)); wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.ctx.Done():
				return
			}
		}

		if err := s.playback.Push(sm.Data, sm.PTS); err != nil {
			slog.Debug("server: playback push failed", "error", err)
		}
	}
}

// writeLoop packetizes playback output and writes it to the shared stream.
func (s *Server) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case au, ok := <-s.playback.Out():
			if !ok {
				return
			}
			s.writeAccessUnit(au)
		}
	}
}

func (s *Server) writeAccessUnit(au pipeline.EncodedAU) {
	var nalus h264.AnnexB
	if err := nalus.Unmarshal(au.Data); err != nil {
		slog.Debug("server: skipping malformed access unit", "error", err)
		return
	}

	pkts, err := s.enc.Encode(nalus)
	if err != nil {
		slog.Debug("server: packetization failed", "error", err)
		return
	}

	stampPackets(pkts, au.PTS)
	for _, pkt := range pkts {
		if err := s.stream.WritePacketRTP(s.media, pkt); err != nil {
			slog.Debug("server: packet write failed", "error", err)
			continue
		}
		atomic.AddUint64(&s.written, 1)
	}
}

// stampPackets rewrites the timestamp of every packet of one access unit.
// All packets of an access unit share one presentation time.
func stampPackets(pkts []*rtp.Packet, pts time.Duration) {
	ts := rtpTimestamp(pts)
	for _, pkt := range pkts {
		pkt.Timestamp = ts
	}
}

// rtpTimestamp converts a presentation timestamp to the 90 kHz RTP clock.
// Split whole seconds from the remainder so the intermediate product never
// overflows, whatever the uptime; the RTP clock itself wraps at 2^32.
func rtpTimestamp(pts time.Duration) uint32 {
	n := uint64(pts)
	sec := n / uint64(time.Second)
	rem := n % uint64(time.Second)
	return uint32(sec*rtpClockRate + rem*rtpClockRate/uint64(time.Second))
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (s *Server) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	slog.Debug("server: connection opened")
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose. Client faults
// are isolated to the departing connection.
func (s *Server) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	slog.Debug("server: connection closed", "error", ctx.Error)
}

// OnSessionOpen implements gortsplib.ServerHandlerOnSessionOpen.
func (s *Server) OnSessionOpen(ctx *gortsplib.ServerHandlerOnSessionOpenCtx) {
	id := uuid.New().String()

	s.mu.Lock()
	s.sessions[ctx.Session] = id
	s.served++
	s.mu.Unlock()

	slog.Info("server: session opened", "session_id", id)
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose. The shared
// graph keeps running for remaining viewers.
func (s *Server) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	s.mu.Lock()
	id := s.sessions[ctx.Session]
	delete(s.sessions, ctx.Session)
	remaining := len(s.sessions)
	s.mu.Unlock()

	slog.Info("server: session closed",
		"session_id", id,
		"remaining_sessions", remaining,
	)
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (s *Server) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if ctx.Path != s.cfg.Mount {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, s.stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Server) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if ctx.Path != s.cfg.Mount {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, s.stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay. A Range header seeks the
// shared playback position within the retained window, snapped back to a
// keyframe. The position is shared by design: one graph serves every session
// at the mount point.
func (s *Server) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	if ctx.Request != nil {
		if offset, ok := parseNPTStart(ctx.Request.Header["Range"]); ok {
			s.seekTo(offset)
		}
	}

	s.mu.Lock()
	id := s.sessions[ctx.Session]
	s.mu.Unlock()
	slog.Info("server: playback requested", "session_id", id)

	return &base.Response{StatusCode: base.StatusOK}, nil
}

// OnPause implements gortsplib.ServerHandlerOnPause.
func (s *Server) OnPause(ctx *gortsplib.ServerHandlerOnPauseCtx) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// seekTo repositions the shared playback loop at the keyframe at or before
// the requested offset into the retained window.
func (s *Server) seekTo(offset time.Duration) {
	oldest, ok := s.store.OldestPTS()
	if !ok {
		return
	}
	target, ok := s.store.SnapToKeyframe(oldest + offset)
	if !ok {
		return
	}

	// Latest seek wins; drop a pending one.
	select {
	case <-s.seekCh:
	default:
	}
	s.seekCh <- target
}

// ActiveSessions returns the number of currently connected sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SessionsServed returns the total number of sessions ever opened.
func (s *Server) SessionsServed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// PacketsWritten returns the total number of RTP packets written to the
// shared stream.
func (s *Server) PacketsWritten() uint64 {
	return atomic.LoadUint64(&s.written)
}

// Close stops client admission, then releases the shared stream and the
// playback graph. Idempotent. Admission stops before the ingest side is
// released by the caller, so the buffer is never torn down under an attached
// serving graph.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.cancel == nil {
		// Never started; nothing is listening or running.
		return
	}

	slog.Info("server: shutting down",
		"sessions_served", s.SessionsServed(),
	)

	s.cancel()
	// The library's Close assumes a started server; skip it when Start
	// failed before the listener came up.
	if s.listening.Load() {
		s.rtsp.Close()
	}
	if s.stream != nil {
		s.stream.Close()
	}
	s.playback.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("server: close timeout exceeded, loops may still be running")
	}
}

// parseNPTStart extracts the start offset from an RTSP Range header in NPT
// form ("npt=12.5-", "npt=now-"). Returns false for absent or unusable
// values; "now" means no repositioning.
func parseNPTStart(values base.HeaderValue) (time.Duration, bool) {
	if len(values) == 0 {
		return 0, false
	}
	v := strings.TrimSpace(values[0])
	if !strings.HasPrefix(v, "npt=") {
		return 0, false
	}
	v = strings.TrimPrefix(v, "npt=")
	if i := strings.Index(v, "-"); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimSpace(v)
	if v == "" || v == "now" {
		return 0, false
	}

	// Either plain seconds ("12.5") or clock form ("hh:mm:ss.frac").
	if strings.Contains(v, ":") {
		parts := strings.Split(v, ":")
		if len(parts) != 3 {
			return 0, false
		}
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, false
		}
		total := time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(sec*float64(time.Second))
		return total, true
	}

	sec, err := strconv.ParseFloat(v, 64)
	if err != nil || sec < 0 {
		return 0, false
	}
	return time.Duration(sec * float64(time.Second)), true
}
