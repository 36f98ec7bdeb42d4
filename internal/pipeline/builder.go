package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/instant-replay/internal/events"
	"github.com/e7canasta/instant-replay/internal/ringbuf"
)

// rtspsrc protocols bitmask values.
const (
	protoUDP       = 0x1
	protoMulticast = 0x2
	protoTCP       = 0x4
)

// Transport selects the RTSP transport for the ingest source.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUDP
	TransportUDPMulticast
)

// String returns the transport name as used on the CLI.
func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportUDPMulticast:
		return "udp-multicast"
	default:
		return "tcp"
	}
}

func (t Transport) protocols() int {
	switch t {
	case TransportUDP:
		return protoUDP
	case TransportUDPMulticast:
		return protoMulticast
	default:
		return protoTCP
	}
}

// IngestConfig carries the configuration keys of the ingest graph.
type IngestConfig struct {
	// Location is the source RTSP URL.
	Location string
	// LatencyMS is the source jitter buffer latency.
	LatencyMS int
	// Transport selects the RTP transport.
	Transport Transport
	// Username and Password are optional source credentials.
	Username string
	Password string

	// Retention and MaxBytes bound the ring buffer element; whichever bound
	// is reached first evicts oldest data.
	Retention time.Duration
	MaxBytes  int64
	// MaxBufferCount optionally bounds the element's buffer count.
	MaxBufferCount int
	// UseBufferingMessages enables engine buffering notifications.
	UseBufferingMessages bool
	// TempTemplate, when set, backs the element's ring with disk storage.
	TempTemplate string
}

// Ingest is the running ingest graph: source, depacketizer, parser, ring
// buffer element and the sink feeding the readable store. The graph is owned
// by its builder until handed to the event dispatcher for supervision.
type Ingest struct {
	pipeline *gst.Pipeline
	src      *gst.Element
	sink     *app.Sink
	store    *ringbuf.Store
	resolver *linkResolver
}

// BuildIngest assembles the static subgraph and the source node. The source's
// output pad is unknown until the RTSP handshake completes; it is bound later
// by the link resolver, exactly once.
//
// Construction fails fast with a ConstructionError when any required element
// cannot be instantiated; no partial pipeline is left running.
func BuildIngest(cfg IngestConfig, store *ringbuf.Store) (*Ingest, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("replay-ingest")
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to create ingest pipeline: %w", err)
	}

	src, err := makeElement("rtspsrc")
	if err != nil {
		return nil, err
	}
	depay, err := makeElement("rtph264depay")
	if err != nil {
		return nil, err
	}
	parse, err := makeElement("h264parse")
	if err != nil {
		return nil, err
	}
	ring, err := makeElement("queue2")
	if err != nil {
		return nil, err
	}
	capsfilter, err := makeElement("capsfilter")
	if err != nil {
		return nil, err
	}
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, &ConstructionError{Element: "appsink", Err: err}
	}

	src.SetProperty("location", cfg.Location)
	src.SetProperty("latency", cfg.LatencyMS)
	src.SetProperty("protocols", cfg.Transport.protocols())
	src.SetProperty("buffer-mode", 1) // slave: synchronize with source
	if cfg.Username != "" {
		src.SetProperty("user-id", cfg.Username)
		src.SetProperty("user-pw", cfg.Password)
	}

	// Ring discipline on the buffering element: both bounds independent,
	// oldest data discarded first, no indefinite blocking on a live source.
	ring.SetProperty("max-size-time", uint64(cfg.Retention.Nanoseconds()))
	ring.SetProperty("ring-buffer-max-size", uint64(cfg.MaxBytes))
	ring.SetProperty("max-size-buffers", uint(cfg.MaxBufferCount))
	ring.SetProperty("max-size-bytes", uint(0))
	ring.SetProperty("use-buffering", cfg.UseBufferingMessages)
	if cfg.TempTemplate != "" {
		ring.SetProperty("temp-template", cfg.TempTemplate)
	}

	// The sink needs complete access units in byte-stream form so the store
	// can split NALUs and index keyframes.
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		"video/x-h264,stream-format=byte-stream,alignment=au",
	))

	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 8)
	sink.SetProperty("drop", false)

	if err := pipeline.AddMany(src, depay, parse, ring, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("pipeline: failed to add ingest elements: %w", err)
	}

	// Static chain only; the source has dynamic pads.
	if err := gst.ElementLinkMany(depay, parse, ring, capsfilter, sink.Element); err != nil {
		return nil, &ConstructionError{Element: "static link", Err: err}
	}

	in := &Ingest{
		pipeline: pipeline,
		src:      src,
		sink:     sink,
		store:    store,
		resolver: &linkResolver{target: depay},
	}

	src.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		in.resolver.onPadAdded(self, pad)
	})

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: in.onNewSample,
	})

	slog.Info("pipeline: ingest graph constructed",
		"location", cfg.Location,
		"transport", cfg.Transport.String(),
		"latency_ms", cfg.LatencyMS,
		"retention", cfg.Retention,
		"max_bytes", cfg.MaxBytes,
	)

	return in, nil
}

func makeElement(factory string) (*gst.Element, error) {
	elem, err := gst.NewElement(factory)
	if err != nil {
		return nil, &ConstructionError{Element: factory, Err: err}
	}
	return elem, nil
}

// onNewSample moves one parsed access unit from the sink into the store.
// Runs on the engine's streaming thread; it only copies bytes and must not
// block.
func (in *Ingest) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("pipeline: failed to pull sample from sink, skipping")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("pipeline: sample without buffer, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("pipeline: empty access unit")
		return gst.FlowOK
	}

	au := make([]byte, len(data))
	copy(au, data)
	buffer.Unmap()

	in.store.Append(ringbuf.Sample{
		Data:     au,
		PTS:      buffer.PresentationTimestamp(),
		Duration: buffer.Duration(),
		Keyframe: isRandomAccess(au),
	})

	return gst.FlowOK
}

// isRandomAccess reports whether a byte-stream access unit contains an IDR
// slice.
func isRandomAccess(au []byte) bool {
	var nalus h264.AnnexB
	if err := nalus.Unmarshal(au); err != nil {
		return false
	}
	return h264.IsRandomAccess(nalus)
}

// Start requests the Playing state on the ingest graph.
func (in *Ingest) Start() error {
	if err := in.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("pipeline: failed to start ingest: %w", err)
	}
	return nil
}

// Name returns the top-level pipeline name, used to identify authoritative
// state-change messages on the bus.
func (in *Ingest) Name() string {
	return in.pipeline.GetName()
}

// Bus returns the pipeline bus for the notification pump.
func (in *Ingest) Bus() *gst.Bus {
	return in.pipeline.GetPipelineBus()
}

// Linked reports whether the source's dynamic pad has been bound.
func (in *Ingest) Linked() bool {
	in.resolver.mu.Lock()
	defer in.resolver.mu.Unlock()
	return in.resolver.linked
}

// RequestState implements events.Commander. Requests are asynchronous; the
// confirmation arrives as a later state-changed notification.
func (in *Ingest) RequestState(s events.State) error {
	return in.pipeline.SetState(toGstState(s))
}

// Release implements events.Commander: request the terminal Null state and
// free the graph. Safe to call more than once.
func (in *Ingest) Release() {
	if err := in.pipeline.SetState(gst.StateNull); err != nil {
		slog.Error("pipeline: failed to release ingest graph", "error", err)
	}
}

func toGstState(s events.State) gst.State {
	switch s {
	case events.StateReady:
		return gst.StateReady
	case events.StatePaused:
		return gst.StatePaused
	case events.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}
