package hwaccel

// Backend identifies a codec backend that may be present in the GStreamer
// registry. The zero value is the software backend, which is always available
// when the core plugin set is installed.
type Backend int

const (
	// BackendSoftware is the guaranteed fallback (avdec_h264 / x264enc).
	BackendSoftware Backend = iota
	// BackendNvidia is the NVIDIA nvcodec backend.
	BackendNvidia
	// BackendVAAPI is the VA-API backend (Intel/AMD on Linux).
	BackendVAAPI
	// BackendMSDK is the Intel Media SDK backend.
	BackendMSDK
)

// String returns a human-readable name for the backend.
func (b Backend) String() string {
	switch b {
	case BackendNvidia:
		return "nvidia"
	case BackendVAAPI:
		return "vaapi"
	case BackendMSDK:
		return "msdk"
	case BackendSoftware:
		return "software"
	default:
		return "software"
	}
}

// CodecPair is the decoder/encoder element pair selected for a process
// lifetime. Decoder and Encoder are GStreamer element factory names.
type CodecPair struct {
	Backend Backend
	Decoder string
	Encoder string
}

// hardwarePriority is the fixed preference order for hardware backends.
// Software is not listed; it is the unconditional bottom of the order.
var hardwarePriority = []Backend{BackendNvidia, BackendVAAPI, BackendMSDK}

// backendCodecs maps each backend to its H.264 element pair.
var backendCodecs = map[Backend]CodecPair{
	BackendNvidia:   {Backend: BackendNvidia, Decoder: "nvh264dec", Encoder: "nvh264enc"},
	BackendVAAPI:    {Backend: BackendVAAPI, Decoder: "vaapih264dec", Encoder: "vaapih264enc"},
	BackendMSDK:     {Backend: BackendMSDK, Decoder: "msdkh264dec", Encoder: "msdkh264enc"},
	BackendSoftware: {Backend: BackendSoftware, Decoder: "avdec_h264", Encoder: "x264enc"},
}

// SoftwarePair returns the software codec pair, the total fallback of Select.
func SoftwarePair() CodecPair {
	return backendCodecs[BackendSoftware]
}

// Select maps a capability report to a concrete codec pair.
//
// The priority order is fixed: nvidia, then vaapi, then msdk, then software.
// A hardware backend is chosen only when it supports both decode and encode;
// decode-only or encode-only hardware falls through to the next backend rather
// than mixing vendors. disableHW forces software for both directions
// regardless of the report.
//
// Select is pure and total: it always returns a valid pair.
func Select(report Report, disableHW bool) CodecPair {
	if disableHW {
		return SoftwarePair()
	}
	for _, b := range hardwarePriority {
		sup := report.Support(b)
		if sup.Decoder && sup.Encoder {
			return backendCodecs[b]
		}
	}
	return SoftwarePair()
}
