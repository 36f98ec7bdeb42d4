package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/instant-replay/internal/events"
)

// busPollInterval keeps shutdown responsive without busy-waiting.
const busPollInterval = 50 * time.Millisecond

// PumpBus translates engine bus messages into notifications until the
// context is cancelled, then closes the output channel. Messages are
// delivered in emission order; the dispatcher on the other end is the single
// consumer.
func PumpBus(ctx context.Context, in *Ingest, out chan<- events.Notification) {
	defer close(out)

	bus := in.Bus()
	pipelineName := in.Name()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("pipeline: bus pump stopping")
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		n, ok := translateMessage(msg, pipelineName)
		if !ok {
			continue
		}

		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}

// translateMessage maps one engine message to a notification. Messages the
// state machine does not consume are dropped here.
func translateMessage(msg *gst.Message, pipelineName string) (events.Notification, bool) {
	switch msg.Type() {
	case gst.MessageError:
		gerr := msg.ParseError()
		return events.Notification{
			Kind:    events.KindError,
			Source:  msg.Source(),
			Message: gerr.Error(),
			Debug:   gerr.DebugString(),
		}, true

	case gst.MessageWarning:
		gerr := msg.ParseWarning()
		return events.Notification{
			Kind:    events.KindWarning,
			Source:  msg.Source(),
			Message: gerr.Error(),
			Debug:   gerr.DebugString(),
		}, true

	case gst.MessageEOS:
		return events.Notification{
			Kind:   events.KindEOS,
			Source: msg.Source(),
		}, true

	case gst.MessageStateChanged:
		old, next := msg.ParseStateChanged()
		return events.Notification{
			Kind:         events.KindStateChanged,
			Source:       msg.Source(),
			FromPipeline: msg.Source() == pipelineName,
			OldState:     fromGstState(old),
			NewState:     fromGstState(next),
		}, true

	case gst.MessageBuffering:
		percent, ok := bufferingPercent(msg)
		if !ok {
			return events.Notification{}, false
		}
		return events.Notification{
			Kind:    events.KindBuffering,
			Source:  msg.Source(),
			Percent: percent,
		}, true

	default:
		return events.Notification{}, false
	}
}

// bufferingPercent extracts the fill percentage from a buffering message.
func bufferingPercent(msg *gst.Message) (int, bool) {
	s := msg.GetStructure()
	if s == nil {
		return 0, false
	}
	v, err := s.GetValue("buffer-percent")
	if err != nil {
		return 0, false
	}
	switch p := v.(type) {
	case int:
		return p, true
	case int32:
		return int(p), true
	case int64:
		return int(p), true
	case uint:
		return int(p), true
	default:
		return 0, false
	}
}

func fromGstState(s gst.State) events.State {
	switch s {
	case gst.StateReady:
		return events.StateReady
	case gst.StatePaused:
		return events.StatePaused
	case gst.StatePlaying:
		return events.StatePlaying
	default:
		return events.StateNull
	}
}
