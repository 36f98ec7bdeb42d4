package replay

import "testing"

// TestConfig_Defaults tests zero-value replacement
func TestConfig_Defaults(t *testing.T) {
	got := Config{Source: "rtsp://camera.local/stream"}.withDefaults()

	if got.BufferSeconds != 60 {
		t.Errorf("BufferSeconds = %d, want 60", got.BufferSeconds)
	}
	if got.MaxBufferBytes != 1<<30 {
		t.Errorf("MaxBufferBytes = %d, want %d", got.MaxBufferBytes, 1<<30)
	}
	if got.LatencyMS != 2000 {
		t.Errorf("LatencyMS = %d, want 2000", got.LatencyMS)
	}
	if got.Port != 8554 {
		t.Errorf("Port = %d, want 8554", got.Port)
	}
	if got.Mount != "/replay" {
		t.Errorf("Mount = %q, want %q", got.Mount, "/replay")
	}
	if got.BitrateKbps != 4000 {
		t.Errorf("BitrateKbps = %d, want 4000", got.BitrateKbps)
	}
	if got.Transport != TransportTCP {
		t.Errorf("Transport = %v, want TransportTCP", got.Transport)
	}
}

// TestConfig_DefaultsPreserveExplicit tests that set values survive
func TestConfig_DefaultsPreserveExplicit(t *testing.T) {
	in := Config{
		Source:         "rtsp://camera.local/stream",
		BufferSeconds:  120,
		MaxBufferBytes: 512 << 20,
		Port:           9000,
		Mount:          "/cam1",
		BitrateKbps:    8000,
	}
	got := in.withDefaults()

	if got.BufferSeconds != 120 || got.MaxBufferBytes != 512<<20 ||
		got.Port != 9000 || got.Mount != "/cam1" || got.BitrateKbps != 8000 {
		t.Errorf("withDefaults() overwrote explicit values: %+v", got)
	}
}
