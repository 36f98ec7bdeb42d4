package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Commander issues asynchronous state-change requests to the running graph
// and releases it on shutdown. Requests do not complete synchronously;
// confirmation arrives later as a KindStateChanged notification.
type Commander interface {
	// RequestState asks the graph to move to the given lifecycle state.
	RequestState(State) error
	// Release requests the terminal Null state and frees all graph resources.
	// Must be safe to call more than once.
	Release()
}

// Dispatcher is the single consumer of the notification stream emitted by a
// running graph. It drives pipeline-level state transitions, buffering-induced
// pause/resume, and orchestrated shutdown.
type Dispatcher struct {
	notifs <-chan Notification
	cmd    Commander

	mu        sync.RWMutex
	state     State // authoritative, engine-confirmed
	requested State // last requested (level-triggered buffering dedup)
	fatal     error

	released atomic.Bool
	done     chan struct{}

	// Diagnostics counters (atomic)
	errorsNetwork uint64
	errorsCodec   uint64
	errorsAuth    uint64
	errorsUnknown uint64
}

// NewDispatcher builds a dispatcher over a notification stream. The initial
// requested state is Playing: the orchestration layer starts the graph before
// handing it over for supervision.
func NewDispatcher(notifs <-chan Notification, cmd Commander) *Dispatcher {
	return &Dispatcher{
		notifs:    notifs,
		cmd:       cmd,
		state:     StateNull,
		requested: StatePlaying,
		done:      make(chan struct{}),
	}
}

// Run consumes notifications until a fatal event, channel close, or context
// cancellation. It never blocks waiting for a notification it does not have;
// delivery is driven by the bus pump, not polled here.
//
// Returns nil on orderly termination (EOS, cancellation, channel close) and
// the runtime fault on an error notification.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("events: context cancelled, stopping dispatcher")
			d.Shutdown()
			return nil

		case n, ok := <-d.notifs:
			if !ok {
				slog.Debug("events: notification stream closed")
				return nil
			}
			if terminal := d.handle(n); terminal {
				return d.Err()
			}
		}
	}
}

// handle applies one notification to the state machine. Returns true when the
// dispatcher reached a terminal state and the consumption loop must stop.
func (d *Dispatcher) handle(n Notification) bool {
	switch n.Kind {
	case KindError:
		d.countError(n)
		slog.Error("events: pipeline error",
			"element", n.Source,
			"message", n.Message,
			"debug", n.Debug,
			"category", Classify(n.Message, n.Debug).String(),
		)
		d.setState(StateError)
		d.setFatal(fmt.Errorf("pipeline error from element %q: %s", n.Source, n.Message))
		d.Shutdown()
		return true

	case KindWarning:
		slog.Warn("events: pipeline warning",
			"element", n.Source,
			"message", n.Message,
			"debug", n.Debug,
		)
		return false

	case KindEOS:
		slog.Info("events: end of stream, source closed the connection")
		d.setState(StateTerminated)
		d.Shutdown()
		return true

	case KindStateChanged:
		// Child elements report their own, irrelevant, transitions.
		if !n.FromPipeline {
			return false
		}
		slog.Debug("events: pipeline state changed",
			"from", n.OldState.String(),
			"to", n.NewState.String(),
		)
		d.setState(n.NewState)
		return false

	case KindBuffering:
		d.handleBuffering(n.Percent)
		return false

	default:
		slog.Debug("events: ignoring notification", "kind", n.Kind.String())
		return false
	}
}

// handleBuffering implements the level-triggered pause/resume control loop.
// Repeated notifications at the same level are idempotent no-ops on the
// requested state; only a level crossing issues a new request.
func (d *Dispatcher) handleBuffering(percent int) {
	var target State
	if percent < 100 {
		target = StatePaused
	} else {
		target = StatePlaying
	}

	d.mu.Lock()
	if d.requested == target {
		d.mu.Unlock()
		return
	}
	d.requested = target
	d.mu.Unlock()

	slog.Info("events: buffering level crossed",
		"percent", percent,
		"requested", target.String(),
	)
	if err := d.cmd.RequestState(target); err != nil {
		slog.Warn("events: state request failed",
			"requested", target.String(),
			"error", err,
		)
	}
}

// Shutdown performs the orchestrated shutdown: request terminal state on the
// graph and release its resources. Idempotent; a second invocation is a no-op
// and never double-releases.
func (d *Dispatcher) Shutdown() {
	if !d.released.CompareAndSwap(false, true) {
		slog.Debug("events: shutdown already performed")
		return
	}

	slog.Info("events: orchestrated shutdown")
	d.cmd.Release()

	d.mu.Lock()
	if d.state != StateError {
		d.state = StateTerminated
	}
	d.mu.Unlock()
}

// Done is closed when the consumption loop has stopped.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// State returns the authoritative, engine-confirmed lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Requested returns the last requested state. Stale confirmations racing a
// newer request are not reconciled; only the authoritative state is updated.
func (d *Dispatcher) Requested() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.requested
}

// Err returns the recorded runtime fault, if any.
func (d *Dispatcher) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fatal
}

// ErrorCounts returns per-category error counters (network, codec, auth,
// unknown).
func (d *Dispatcher) ErrorCounts() (network, codec, auth, unknown uint64) {
	return atomic.LoadUint64(&d.errorsNetwork),
		atomic.LoadUint64(&d.errorsCodec),
		atomic.LoadUint64(&d.errorsAuth),
		atomic.LoadUint64(&d.errorsUnknown)
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Dispatcher) setFatal(err error) {
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = err
	}
	d.mu.Unlock()
}

func (d *Dispatcher) countError(n Notification) {
	switch Classify(n.Message, n.Debug) {
	case CategoryNetwork:
		atomic.AddUint64(&d.errorsNetwork, 1)
	case CategoryCodec:
		atomic.AddUint64(&d.errorsCodec, 1)
	case CategoryAuth:
		atomic.AddUint64(&d.errorsAuth, 1)
	default:
		atomic.AddUint64(&d.errorsUnknown, 1)
	}
}
