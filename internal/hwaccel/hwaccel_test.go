package hwaccel

import (
	"testing"
)

// fakeProbe builds an ElementProbe that reports only the listed factories as
// available.
func fakeProbe(available ...string) ElementProbe {
	set := make(map[string]bool, len(available))
	for _, name := range available {
		set[name] = true
	}
	return func(factoryName string) bool {
		return set[factoryName]
	}
}

func TestSelect_Priority(t *testing.T) {
	tests := []struct {
		name      string
		available []string
		disableHW bool
		want      Backend
	}{
		{
			name:      "no hardware falls back to software",
			available: []string{},
			want:      BackendSoftware,
		},
		{
			name:      "nvidia wins over vaapi",
			available: []string{"nvh264dec", "nvh264enc", "vaapih264dec", "vaapih264enc"},
			want:      BackendNvidia,
		},
		{
			name:      "vaapi wins over msdk",
			available: []string{"vaapih264dec", "vaapih264enc", "msdkh264dec", "msdkh264enc"},
			want:      BackendVAAPI,
		},
		{
			name:      "msdk selected when alone",
			available: []string{"msdkh264dec", "msdkh264enc"},
			want:      BackendMSDK,
		},
		{
			name:      "decode-only nvidia is not taken as a pair",
			available: []string{"nvh264dec", "vaapih264dec", "vaapih264enc"},
			want:      BackendVAAPI,
		},
		{
			name:      "encode-only hardware everywhere falls to software",
			available: []string{"nvh264enc", "vaapih264enc", "msdkh264enc"},
			want:      BackendSoftware,
		},
		{
			name:      "disable-hw overrides full nvidia support",
			available: []string{"nvh264dec", "nvh264enc"},
			disableHW: true,
			want:      BackendSoftware,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Probe(fakeProbe(tt.available...))
			pair := Select(report, tt.disableHW)
			if pair.Backend != tt.want {
				t.Errorf("Select() backend = %s, want %s", pair.Backend, tt.want)
			}
			if pair.Decoder == "" || pair.Encoder == "" {
				t.Errorf("Select() returned incomplete pair: %+v", pair)
			}
		})
	}
}

// TestSelect_Total exercises every combination of per-backend decoder/encoder
// support and verifies that Select always yields a complete pair whose backend
// actually supports both directions.
func TestSelect_Total(t *testing.T) {
	elements := []string{
		"nvh264dec", "nvh264enc",
		"vaapih264dec", "vaapih264enc",
		"msdkh264dec", "msdkh264enc",
	}

	for mask := 0; mask < 1<<len(elements); mask++ {
		var available []string
		for i, name := range elements {
			if mask&(1<<i) != 0 {
				available = append(available, name)
			}
		}

		report := Probe(fakeProbe(available...))
		pair := Select(report, false)

		if pair.Decoder == "" || pair.Encoder == "" {
			t.Fatalf("mask %#x: incomplete pair %+v", mask, pair)
		}
		sup := report.Support(pair.Backend)
		if !sup.Decoder || !sup.Encoder {
			t.Fatalf("mask %#x: selected backend %s without full support", mask, pair.Backend)
		}
	}

	t.Logf("all %d support combinations produced a valid pair", 1<<len(elements))
}

func TestSelect_PairNeverMixesBackends(t *testing.T) {
	// nvidia can decode, msdk can encode: must not produce a cross-vendor pair.
	report := Probe(fakeProbe("nvh264dec", "msdkh264enc"))
	pair := Select(report, false)

	if pair.Backend != BackendSoftware {
		t.Errorf("expected software fallback, got %s", pair.Backend)
	}
	if pair.Decoder != "avdec_h264" || pair.Encoder != "x264enc" {
		t.Errorf("unexpected software pair: %+v", pair)
	}
}

func TestReport_SoftwareAlwaysSupported(t *testing.T) {
	report := Probe(fakeProbe())
	sup := report.Support(BackendSoftware)
	if !sup.Decoder || !sup.Encoder {
		t.Errorf("software support must be unconditional, got %+v", sup)
	}
}

func TestMissingCoreElements(t *testing.T) {
	t.Run("all present", func(t *testing.T) {
		probe := func(string) bool { return true }
		if missing := MissingCoreElements(probe); len(missing) != 0 {
			t.Errorf("expected no missing elements, got %v", missing)
		}
	})

	t.Run("reports each absent element by name", func(t *testing.T) {
		probe := fakeProbe("rtspsrc", "rtph264depay", "h264parse", "queue2", "capsfilter", "appsink", "avdec_h264")
		missing := MissingCoreElements(probe)
		if len(missing) != 1 || missing[0] != "x264enc" {
			t.Errorf("expected [x264enc], got %v", missing)
		}
	})
}

func TestBackend_String(t *testing.T) {
	tests := []struct {
		backend Backend
		want    string
	}{
		{BackendNvidia, "nvidia"},
		{BackendVAAPI, "vaapi"},
		{BackendMSDK, "msdk"},
		{BackendSoftware, "software"},
		{Backend(99), "software"},
	}
	for _, tt := range tests {
		if got := tt.backend.String(); got != tt.want {
			t.Errorf("Backend(%d).String() = %q, want %q", tt.backend, got, tt.want)
		}
	}
}
