package events

import "strings"

// Category classifies runtime faults for diagnostics. Retry policy is
// external to the core, but operators need to know whether a fault was a
// network condition, a stream format problem, or bad credentials.
type Category int

const (
	// CategoryNetwork indicates connection, timeout, or DNS failures.
	CategoryNetwork Category = iota
	// CategoryCodec indicates decode/encode or caps negotiation failures.
	CategoryCodec
	// CategoryAuth indicates authentication/authorization failures.
	CategoryAuth
	// CategoryUnknown indicates unclassified failures.
	CategoryUnknown
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryCodec:
		return "codec"
	case CategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify categorizes an error notification from its message and debug
// detail. The engine does not expose structured error domains through the
// bindings, so classification is keyword-based.
func Classify(message, debug string) Category {
	combined := strings.ToLower(message) + " " + strings.ToLower(debug)

	// Auth first: most specific, and auth failures often mention the
	// connection too.
	if containsAny(combined,
		"unauthorized", "401", "403", "forbidden",
		"authentication", "credentials", "password", "username",
	) {
		return CategoryAuth
	}

	if containsAny(combined,
		"codec", "decode", "encode", "negotiation", "caps",
		"not negotiated", "no decoder", "missing plugin", "h264",
	) {
		return CategoryCodec
	}

	if containsAny(combined,
		"connection", "timeout", "unreachable", "network",
		"dns", "resolve", "socket", "could not connect", "failed to connect",
	) {
		return CategoryNetwork
	}

	return CategoryUnknown
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
