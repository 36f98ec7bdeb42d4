package hwaccel

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEngineUnavailable is returned when the GStreamer runtime itself cannot be
// initialized. Backend absence is never an error; it is a normal report value.
var ErrEngineUnavailable = fmt.Errorf("media engine unavailable")

// ElementProbe reports whether a GStreamer element factory can be
// instantiated. Injectable so selection logic is testable without a runtime.
type ElementProbe func(factoryName string) bool

// Support records a backend's decode/encode availability. Decode and encode
// are probed independently; a system may have decode-only hardware.
type Support struct {
	Decoder bool
	Encoder bool
}

// Report is the immutable capability report computed once at startup.
type Report struct {
	backends map[Backend]Support
}

// Support returns the probed support for a backend. The software backend
// always reports full support.
func (r Report) Support(b Backend) Support {
	if b == BackendSoftware {
		return Support{Decoder: true, Encoder: true}
	}
	return r.backends[b]
}

// Probe queries each hardware backend's decoder and encoder in the fixed
// priority order and records what is present. It never fails: a missing
// element is a report value, not an error.
func Probe(probe ElementProbe) Report {
	report := Report{backends: make(map[Backend]Support, len(hardwarePriority))}

	for _, b := range hardwarePriority {
		pair := backendCodecs[b]
		sup := Support{
			Decoder: probe(pair.Decoder),
			Encoder: probe(pair.Encoder),
		}
		report.backends[b] = sup

		if sup.Decoder || sup.Encoder {
			slog.Info("hwaccel: backend detected",
				"backend", b.String(),
				"decoder", sup.Decoder,
				"encoder", sup.Encoder,
			)
		} else {
			slog.Debug("hwaccel: backend not present", "backend", b.String())
		}
	}

	return report
}

// EngineProbe initializes the GStreamer runtime and returns a production
// ElementProbe backed by element instantiation.
//
// Fails only if the engine itself is unavailable, verified by building a
// trivial element. Absence of individual codec elements is reported by the
// returned probe, not here.
func EngineProbe() (ElementProbe, error) {
	// Safe to call multiple times.
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	elem.SetState(gst.StateNull)

	return func(factoryName string) bool {
		e, err := gst.NewElement(factoryName)
		if err != nil {
			return false
		}
		e.SetState(gst.StateNull)
		return true
	}, nil
}

// coreElements are the protocol/parsing elements the ingest graph cannot run
// without, including the guaranteed software codec pair.
var coreElements = []string{
	"rtspsrc",
	"rtph264depay",
	"h264parse",
	"queue2",
	"capsfilter",
	"appsink",
	"avdec_h264",
	"x264enc",
}

// MissingCoreElements returns the names of required elements that are absent.
// An empty result means the static graph can be constructed.
func MissingCoreElements(probe ElementProbe) []string {
	var missing []string
	for _, name := range coreElements {
		if !probe(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
