package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/instant-replay/internal/hwaccel"
)

// PlaybackTuning carries the re-encode knobs applied to the selected codec
// pair.
type PlaybackTuning struct {
	// BitrateKbps is the target encoder bitrate.
	BitrateKbps int
	// KeyframeInterval is the encoder GOP length in frames.
	KeyframeInterval int
	// LowLatency enables the encoder's low-latency tuning.
	LowLatency bool
	// GPUID selects the CUDA device for the nvidia backend.
	GPUID int
	// Passthrough skips the re-encode stage entirely; retained access units
	// are served as-is.
	Passthrough bool
}

// EncodedAU is one re-encoded access unit with the presentation timestamp of
// the sample that produced it.
type EncodedAU struct {
	Data []byte
	PTS  time.Duration
}

// Playback is the shared playback graph serving all client sessions at a
// mount point: appsrc → parse → decode → encode → parse → appsink. In
// passthrough mode no graph runs and pushed samples come straight back out.
type Playback struct {
	passthrough bool

	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	out chan EncodedAU

	// The encoder is one-in/one-out at access unit granularity but may delay
	// output; pending tracks input timestamps awaiting their encoded unit.
	mu      sync.Mutex
	pending []time.Duration

	stopped sync.Once
}

// BuildPlayback assembles the playback graph for the selected codec pair.
// Fails fast with a ConstructionError when a codec element is missing.
func BuildPlayback(pair hwaccel.CodecPair, tune PlaybackTuning) (*Playback, error) {
	if tune.Passthrough {
		slog.Info("pipeline: playback graph in passthrough mode, codec pair unused",
			"decoder", pair.Decoder,
			"encoder", pair.Encoder,
		)
		return &Playback{passthrough: true, out: make(chan EncodedAU, 16)}, nil
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("replay-playback")
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to create playback pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, &ConstructionError{Element: "appsrc", Err: err}
	}
	parseIn, err := makeElement("h264parse")
	if err != nil {
		return nil, err
	}
	decoder, err := makeElement(pair.Decoder)
	if err != nil {
		return nil, err
	}
	encoder, err := makeElement(pair.Encoder)
	if err != nil {
		return nil, err
	}
	parseOut, err := makeElement("h264parse")
	if err != nil {
		return nil, err
	}
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, &ConstructionError{Element: "appsink", Err: err}
	}

	src.SetProperty("is-live", true)
	src.SetProperty("format", 3) // time
	src.SetProperty("do-timestamp", true)
	src.SetProperty("caps", gst.NewCapsFromString(
		"video/x-h264,stream-format=byte-stream,alignment=au",
	))

	configureEncoder(pair, encoder, tune)
	if pair.Backend == hwaccel.BackendNvidia {
		decoder.SetProperty("cuda-device-id", tune.GPUID)
	}

	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 8)
	sink.SetProperty("drop", false)

	if err := pipeline.AddMany(src.Element, parseIn, decoder, encoder, parseOut, sink.Element); err != nil {
		return nil, fmt.Errorf("pipeline: failed to add playback elements: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, parseIn, decoder, encoder, parseOut, sink.Element); err != nil {
		return nil, &ConstructionError{Element: "playback link", Err: err}
	}

	p := &Playback{
		pipeline: pipeline,
		src:      src,
		sink:     sink,
		out:      make(chan EncodedAU, 16),
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.onEncodedSample,
	})

	slog.Info("pipeline: playback graph constructed",
		"backend", pair.Backend.String(),
		"decoder", pair.Decoder,
		"encoder", pair.Encoder,
		"bitrate_kbps", tune.BitrateKbps,
	)

	return p, nil
}

// configureEncoder applies per-backend encoder keys. Property names differ
// across backends; unknown properties are ignored by the engine.
func configureEncoder(pair hwaccel.CodecPair, encoder *gst.Element, tune PlaybackTuning) {
	switch pair.Backend {
	case hwaccel.BackendNvidia:
		encoder.SetProperty("bitrate", uint(tune.BitrateKbps))
		encoder.SetProperty("gop-size", tune.KeyframeInterval)
		encoder.SetProperty("cuda-device-id", tune.GPUID)
		if tune.LowLatency {
			encoder.SetProperty("zerolatency", true)
		}
	case hwaccel.BackendVAAPI:
		encoder.SetProperty("bitrate", uint(tune.BitrateKbps))
		encoder.SetProperty("keyframe-period", uint(tune.KeyframeInterval))
	case hwaccel.BackendMSDK:
		encoder.SetProperty("bitrate", uint(tune.BitrateKbps))
		encoder.SetProperty("gop-size", uint(tune.KeyframeInterval))
		if tune.LowLatency {
			encoder.SetProperty("low-latency", true)
		}
	default:
		encoder.SetProperty("bitrate", uint(tune.BitrateKbps))
		encoder.SetProperty("key-int-max", uint(tune.KeyframeInterval))
		if tune.LowLatency {
			encoder.SetProperty("tune", "zerolatency")
		}
	}
}

// Start brings the playback graph to Playing. No-op in passthrough mode.
func (p *Playback) Start() error {
	if p.passthrough {
		return nil
	}
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("pipeline: failed to start playback graph: %w", err)
	}
	return nil
}

// Push feeds one retained access unit into the graph. In passthrough mode
// the unit is emitted directly.
func (p *Playback) Push(data []byte, pts time.Duration) error {
	if p.passthrough {
		select {
		case p.out <- EncodedAU{Data: data, PTS: pts}:
			return nil
		default:
			return fmt.Errorf("pipeline: playback output backlogged, unit dropped")
		}
	}

	p.mu.Lock()
	p.pending = append(p.pending, pts)
	p.mu.Unlock()

	buf := gst.NewBufferFromBytes(data)
	if ret := p.src.PushBuffer(buf); ret != gst.FlowOK {
		p.mu.Lock()
		if n := len(p.pending); n > 0 {
			p.pending = p.pending[:n-1]
		}
		p.mu.Unlock()
		return fmt.Errorf("pipeline: playback push rejected: %v", ret)
	}
	return nil
}

// Out delivers re-encoded access units in push order.
func (p *Playback) Out() <-chan EncodedAU {
	return p.out
}

// onEncodedSample pairs each encoder output with the oldest pending input
// timestamp.
func (p *Playback) onEncodedSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	au := make([]byte, len(data))
	copy(au, data)
	buffer.Unmap()

	p.mu.Lock()
	var pts time.Duration
	if len(p.pending) > 0 {
		pts = p.pending[0]
		p.pending = p.pending[1:]
	}
	p.mu.Unlock()

	select {
	case p.out <- EncodedAU{Data: au, PTS: pts}:
	default:
		slog.Debug("pipeline: dropping encoded unit, output backlogged")
	}
	return gst.FlowOK
}

// Stop releases the playback graph. Idempotent.
func (p *Playback) Stop() {
	p.stopped.Do(func() {
		if p.pipeline != nil {
			if err := p.pipeline.SetState(gst.StateNull); err != nil {
				slog.Error("pipeline: failed to release playback graph", "error", err)
			}
		}
		close(p.out)
	})
}
