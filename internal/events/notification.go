package events

// State is the pipeline lifecycle state. Transitions are requested by the
// orchestration layer and confirmed asynchronously by the engine; the
// confirmed state, not the requested one, is authoritative.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
	StateError
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Kind tags a Notification.
type Kind int

const (
	// KindError is a fatal fault from an element (codec, negotiation, I/O).
	KindError Kind = iota
	// KindWarning is a non-fatal diagnostic; logged, never acted on.
	KindWarning
	// KindEOS signals the source closed the connection.
	KindEOS
	// KindStateChanged is an engine-confirmed state transition.
	KindStateChanged
	// KindBuffering carries the ring buffer fill percentage.
	KindBuffering
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindWarning:
		return "warning"
	case KindEOS:
		return "eos"
	case KindStateChanged:
		return "state-changed"
	case KindBuffering:
		return "buffering"
	default:
		return "unknown"
	}
}

// Notification is the tagged-union message consumed by the Dispatcher. The
// engine's bus callbacks are translated into these values so the state
// machine has no engine dependency and identical ordering guarantees.
type Notification struct {
	Kind Kind

	// Source is the name of the element that emitted the message.
	Source string
	// FromPipeline is true when the message origin is the top-level pipeline
	// rather than a child element. Only pipeline-origin state changes are
	// authoritative.
	FromPipeline bool

	// Message and Debug carry diagnostics for KindError and KindWarning.
	Message string
	Debug   string

	// OldState and NewState are set for KindStateChanged.
	OldState State
	NewState State

	// Percent is set for KindBuffering (0-100).
	Percent int
}
