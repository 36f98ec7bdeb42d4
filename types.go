package replay

import (
	"time"

	"github.com/e7canasta/instant-replay/internal/pipeline"
)

// Transport selects the RTSP transport used toward the upstream camera.
type Transport int

const (
	// TransportTCP is interleaved TCP (the default; robust over lossy links)
	TransportTCP Transport = iota
	// TransportUDP is plain UDP
	TransportUDP
	// TransportUDPMulticast is UDP multicast
	TransportUDPMulticast
)

// String returns a human-readable string representation of the transport
func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	case TransportUDPMulticast:
		return "udp-mcast"
	default:
		return "tcp"
	}
}

func (t Transport) toPipeline() pipeline.Transport {
	switch t {
	case TransportUDP:
		return pipeline.TransportUDP
	case TransportUDPMulticast:
		return pipeline.TransportUDPMulticast
	default:
		return pipeline.TransportTCP
	}
}

// Config contains configuration for the instant-replay service
type Config struct {
	// Source is the upstream RTSP URL (required)
	Source string
	// BufferSeconds is the retention window in seconds (1-3600, default 60)
	BufferSeconds int
	// MaxBufferBytes caps the retained window by size (default 1 GiB)
	MaxBufferBytes uint64
	// LatencyMS is the jitterbuffer latency toward the camera (default 2000)
	LatencyMS int
	// Transport selects the upstream RTSP transport (default TCP)
	Transport Transport
	// Username and Password are optional upstream RTSP credentials
	Username string
	Password string

	// Port is the replay RTSP service port (default 8554)
	Port int
	// Mount is the replay mount point path (default "/replay")
	Mount string
	// AllowUDPClients additionally offers UDP transports to replay clients.
	// The default is TCP-interleaved only.
	AllowUDPClients bool

	// DisableHardware forces the software codec path for playback
	DisableHardware bool
	// GPUID selects the GPU device for NVIDIA encode (default 0)
	GPUID int
	// Passthrough serves retained access units without re-encoding
	Passthrough bool
	// BitrateKbps is the playback re-encode bitrate (default 4000)
	BitrateKbps int

	// TempDir overrides the directory for buffer spill files. Empty uses
	// the system default.
	TempDir string
}

// withDefaults returns a copy of the config with zero values replaced by
// their defaults. Validation happens separately, at construction.
func (c Config) withDefaults() Config {
	if c.BufferSeconds == 0 {
		c.BufferSeconds = 60
	}
	if c.MaxBufferBytes == 0 {
		c.MaxBufferBytes = 1 << 30
	}
	if c.LatencyMS == 0 {
		c.LatencyMS = 2000
	}
	if c.Port == 0 {
		c.Port = 8554
	}
	if c.Mount == "" {
		c.Mount = "/replay"
	}
	if c.BitrateKbps == 0 {
		c.BitrateKbps = 4000
	}
	return c
}

// Stats contains current service statistics
type Stats struct {
	// Backend is the codec backend selected for playback
	Backend string
	// State is the ingest pipeline state ("Playing", "Paused", ...)
	State string
	// IsIngesting indicates whether the ingest side is running
	IsIngesting bool
	// Uptime is the time elapsed since Start
	Uptime time.Duration

	// SamplesBuffered is the number of access units currently retained
	SamplesBuffered int
	// BufferedBytes is the size of the retained window
	BufferedBytes uint64
	// BufferedSeconds is the timespan covered by the retained window
	BufferedSeconds float64
	// FillPercent is how full the retention window is (0-100)
	FillPercent int
	// SamplesAppended is the total number of access units ever ingested
	SamplesAppended uint64
	// SamplesEvicted is the total number of access units aged out
	SamplesEvicted uint64

	// ActiveSessions is the number of currently connected replay clients
	ActiveSessions int
	// SessionsServed is the total number of replay sessions ever opened
	SessionsServed uint64

	// Error counters by category
	ErrorsNetwork uint64
	ErrorsCodec   uint64
	ErrorsAuth    uint64
	ErrorsUnknown uint64
}
