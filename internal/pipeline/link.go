package pipeline

import (
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
)

// PadDescription is the negotiated media description carried by a dynamically
// announced source pad.
type PadDescription struct {
	// Media is the media kind ("video", "audio", "application").
	Media string
	// Encoding is the negotiated encoding name ("H264", "OPUS", ...).
	Encoding string
}

// shouldLink decides whether a newly announced pad binds into the static
// subgraph. Only the first video/H264 pad is linked; audio and metadata
// branches are ignored, and an endpoint is never relinked.
func shouldLink(desc PadDescription, alreadyLinked bool) bool {
	if alreadyLinked {
		return false
	}
	return desc.Media == "video" && desc.Encoding == "H264"
}

// linkResolver implements the deferred-linking hook for the source's
// dynamically announced outputs. The source announces pads only after the
// RTSP handshake completes, so the depayloader's sink pad is bound here
// rather than at construction time.
type linkResolver struct {
	mu     sync.Mutex
	linked bool
	target *gst.Element // depayloader
}

// onPadAdded runs once per announced pad, on the engine's signal thread.
// A failed bind despite matching negotiation is logged and the branch is
// abandoned; the running graph survives and data on the branch is dropped.
func (r *linkResolver) onPadAdded(src *gst.Element, pad *gst.Pad) {
	desc := describePad(pad)
	slog.Debug("pipeline: source announced pad",
		"pad", pad.GetName(),
		"media", desc.Media,
		"encoding", desc.Encoding,
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !shouldLink(desc, r.linked) {
		slog.Info("pipeline: ignoring announced pad",
			"pad", pad.GetName(),
			"media", desc.Media,
			"encoding", desc.Encoding,
			"already_linked", r.linked,
		)
		return
	}

	sinkPad := r.target.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("pipeline: depayloader has no sink pad")
		return
	}

	if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("pipeline: failed to link announced pad",
			"src_pad", pad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	r.linked = true
	slog.Info("pipeline: source linked to depayloader", "pad", pad.GetName())
}

// describePad reads the pad's negotiated caps into a PadDescription. A pad
// can be announced before its caps are current; querying falls back to the
// potential caps so such pads are still described. Missing fields yield empty
// strings, which shouldLink rejects.
func describePad(pad *gst.Pad) PadDescription {
	caps := pad.GetCurrentCaps()
	if caps == nil {
		caps = pad.QueryCaps(nil)
	}
	if caps == nil {
		return PadDescription{}
	}

	structure := caps.GetStructureAt(0)
	if structure == nil {
		return PadDescription{}
	}

	var desc PadDescription
	if v, err := structure.GetValue("media"); err == nil {
		if s, ok := v.(string); ok {
			desc.Media = s
		}
	}
	if v, err := structure.GetValue("encoding-name"); err == nil {
		if s, ok := v.(string); ok {
			desc.Encoding = s
		}
	}
	return desc
}
