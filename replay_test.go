package replay_test

import (
	"context"
	"strings"
	"testing"

	replay "github.com/e7canasta/instant-replay"
)

// TestNew_FailFast tests fail-fast validation in the constructor
//
// These tests ensure configuration errors are caught at construction time
// rather than runtime, following the "Fail Fast" principle.
func TestNew_FailFast(t *testing.T) {
	tests := []struct {
		name    string
		cfg     replay.Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			cfg: replay.Config{
				Source: "rtsp://camera.local/stream",
			},
			wantErr: false,
		},
		{
			name:    "empty source",
			cfg:     replay.Config{},
			wantErr: true,
			errMsg:  "source RTSP URL is required",
		},
		{
			name: "non-rtsp source",
			cfg: replay.Config{
				Source: "http://camera.local/stream",
			},
			wantErr: true,
			errMsg:  "rtsp://",
		},
		{
			name: "window too large",
			cfg: replay.Config{
				Source:        "rtsp://camera.local/stream",
				BufferSeconds: 7200,
			},
			wantErr: true,
			errMsg:  "invalid retention window",
		},
		{
			name: "negative window",
			cfg: replay.Config{
				Source:        "rtsp://camera.local/stream",
				BufferSeconds: -5,
			},
			wantErr: true,
			errMsg:  "invalid retention window",
		},
		{
			name: "port out of range",
			cfg: replay.Config{
				Source: "rtsp://camera.local/stream",
				Port:   70000,
			},
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name: "relative mount point",
			cfg: replay.Config{
				Source: "rtsp://camera.local/stream",
				Mount:  "replay",
			},
			wantErr: true,
			errMsg:  "mount point",
		},
		{
			name: "bitrate too low",
			cfg: replay.Config{
				Source:      "rtsp://camera.local/stream",
				BitrateKbps: 10,
			},
			wantErr: true,
			errMsg:  "invalid bitrate",
		},
		{
			name: "negative GPU id",
			cfg: replay.Config{
				Source: "rtsp://camera.local/stream",
				GPUID:  -1,
			},
			wantErr: true,
			errMsg:  "invalid GPU id",
		},
		{
			name: "valid config with boundaries",
			cfg: replay.Config{
				Source:        "rtsp://camera.local/stream",
				BufferSeconds: 3600,
				Port:          65535,
				Mount:         "/buffer/cam1",
				BitrateKbps:   100,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := replay.New(tt.cfg)

			if tt.wantErr {
				if err == nil {
					t.Errorf("New() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("New() error = %q, want error containing %q", err.Error(), tt.errMsg)
				}
			} else {
				if err != nil {
					// Configuration is valid; only the environment can fail here.
					if strings.Contains(err.Error(), "GStreamer") {
						t.Skipf("GStreamer not available: %v", err)
					}
					t.Errorf("New() unexpected error = %v", err)
					return
				}
				if svc == nil {
					t.Error("New() returned nil service with no error")
				}
			}
		})
	}
}

// TestTransport_String tests transport string representation
func TestTransport_String(t *testing.T) {
	tests := []struct {
		transport replay.Transport
		want      string
	}{
		{replay.TransportTCP, "tcp"},
		{replay.TransportUDP, "udp"},
		{replay.TransportUDPMulticast, "udp-mcast"},
		{replay.Transport(99), "tcp"},
	}

	for _, tt := range tests {
		if got := tt.transport.String(); got != tt.want {
			t.Errorf("Transport.String() = %v, want %v", got, tt.want)
		}
	}
}

// TestStop_NotStarted tests that Stop is a safe no-op before Start
func TestStop_NotStarted(t *testing.T) {
	svc, err := replay.New(replay.Config{
		Source: "rtsp://camera.local/stream",
	})
	if err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Errorf("Stop() before Start() = %v, want nil", err)
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}
}

// TestStop_AfterFailedStart tests that Stop stays safe when Start fails
// before the retention store exists
func TestStop_AfterFailedStart(t *testing.T) {
	svc, err := replay.New(replay.Config{
		Source: "rtsp://camera.local/stream",
		// Overflows the store's signed byte bound, so Start fails at the
		// first construction step.
		MaxBufferBytes: 1 << 63,
	})
	if err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}

	if err := svc.Start(context.Background()); err == nil {
		svc.Stop()
		t.Fatal("Start() with oversized buffer bound = nil, want error")
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("Stop() after failed Start() = %v, want nil", err)
	}
}

// TestWait_NotStarted tests that Wait fails before Start
func TestWait_NotStarted(t *testing.T) {
	svc, err := replay.New(replay.Config{
		Source: "rtsp://camera.local/stream",
	})
	if err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}

	if err := svc.Wait(); err == nil {
		t.Error("Wait() before Start() = nil, want error")
	}
}
