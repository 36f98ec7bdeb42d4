// Package replay provides an RTSP instant-replay service using GStreamer.
//
// The service connects to one upstream H.264 RTSP source, retains the last N
// seconds of compressed video in a bounded ring buffer, and re-serves the
// retained window as a seekable RTSP stream on a local mount point. Playback
// re-encoding selects a hardware codec backend automatically (NVIDIA, VAAPI,
// Intel Media SDK) and falls back to software when none is available.
//
// # Quick Start
//
// The simplest way to run a replay service:
//
//	cfg := replay.Config{
//	    Source:        "rtsp://192.168.1.100/stream",
//	    BufferSeconds: 60,
//	    Port:          8554,
//	    Mount:         "/replay",
//	}
//
//	svc, err := replay.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop()
//
//	if err := svc.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Blocks until the upstream terminates or Stop() is called.
//	if err := svc.Wait(); err != nil {
//	    log.Printf("ingest terminated: %v", err)
//	}
//
// Then play the retained window from any RTSP client:
//
//	ffplay rtsp://localhost:8554/replay
//
// A Range header on PLAY seeks within the window ("npt=12.5-" starts 12.5
// seconds into the oldest retained data). Seek targets snap back to the
// nearest keyframe so decoders always start from a clean reference.
//
// # Features
//
//   - RTSP ingest via GStreamer (requires gstreamer1.0 runtime)
//   - Bounded retention: time window, byte cap, oldest-first eviction
//   - Seekable replay serving with a shared graph per mount point
//   - Hardware codec selection (NVIDIA > VAAPI > Intel Media SDK > software)
//   - Buffering-driven pause/resume of the ingest pipeline
//   - Error categorization telemetry (network, codec, auth)
//   - Thread-safe statistics access
//
// # Hardware Codec Selection
//
// Backends are probed once at construction. A backend is selected only when
// it supports both decode and encode; a machine with an NVIDIA decoder but no
// encoder falls through to the next backend rather than mixing vendors in one
// graph. Config.DisableHardware forces the software pair (avdec_h264 +
// x264enc) regardless of probe results.
//
// # Retention Behavior
//
// The window is bounded by time (Config.BufferSeconds) and size
// (Config.MaxBufferBytes); whichever bound is reached first evicts the oldest
// access units. The newest access unit is always retained, even when it alone
// exceeds a bound. Ingestion never blocks on retention bookkeeping.
//
// # Serving Model
//
// One shared playback graph feeds one shared stream per mount point. Client
// sessions reference that stream rather than owning a graph, so resource
// usage stays flat as viewers join. The graph's lifetime is bound to the
// service: it keeps running when a client disconnects, and the playback
// position (including seeks) is shared by every session at the mount point.
//
// Replay clients are served over TCP-interleaved transport by default;
// Config.AllowUDPClients additionally offers UDP.
//
// # Error Handling
//
// Upstream pipeline errors are fatal to the ingest side: the ingest graph is
// released and Wait() returns the categorized fault. Already retained data
// stays serveable until Stop(). Retry policy is left to the supervising
// process manager.
//
// Monitor runtime health via Stats():
//
//	st := svc.Stats()
//	fmt.Printf("window: %.1fs (%d%%), sessions: %d\n",
//	    st.BufferedSeconds, st.FillPercent, st.ActiveSessions)
//
// # Dependencies
//
// GStreamer 1.x must be installed on the system:
//
//	# Ubuntu/Debian
//	sudo apt-get install \
//	    gstreamer1.0-tools \
//	    gstreamer1.0-plugins-base \
//	    gstreamer1.0-plugins-good \
//	    gstreamer1.0-plugins-bad \
//	    gstreamer1.0-plugins-ugly \
//	    gstreamer1.0-libav
//
// For hardware encoding, additionally one of:
//
//	gstreamer1.0-vaapi          # Intel/AMD VAAPI
//	gstreamer1.0-plugins-bad    # nvh264enc / msdkh264enc
//
// Verify the installation:
//
//	gst-inspect-1.0 rtspsrc
//	gst-inspect-1.0 x264enc
//
// # Limitations
//
//   - H.264 video only (no H.265, no audio)
//   - Single upstream source per Service instance
//   - One shared playback position per mount point
//   - No persistence across restarts; the window lives in memory with
//     optional disk spill
//
// # Examples
//
// A complete working example is available in examples/simple/. A
// command-line front end is provided in cmd/instant-replay/.
package replay
