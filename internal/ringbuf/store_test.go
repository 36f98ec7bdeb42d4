package ringbuf

import (
	"testing"
	"time"
)

// feed appends n samples of the given size at a fixed interval, keyframes
// every gop samples.
func feed(s *Store, n int, size int, interval time.Duration, gop int) {
	for i := 0; i < n; i++ {
		s.Append(Sample{
			Data:     make([]byte, size),
			PTS:      time.Duration(i) * interval,
			Duration: interval,
			Keyframe: i%gop == 0,
		})
	}
}

func TestNewStore_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Retention: time.Minute, MaxBytes: 1 << 30}, false},
		{"zero retention", Config{Retention: 0, MaxBytes: 1 << 30}, true},
		{"negative retention", Config{Retention: -time.Second, MaxBytes: 1 << 30}, true},
		{"zero max bytes", Config{Retention: time.Minute, MaxBytes: 0}, true},
		{"negative max samples", Config{Retention: time.Minute, MaxBytes: 1, MaxSamples: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStore(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
		})
	}
}

func TestStore_TimeBoundEviction(t *testing.T) {
	// 30 s retention, effectively unlimited bytes. Feed 45 s of 1-second
	// samples: only the most recent 30 s may remain.
	store, err := NewStore(Config{Retention: 30 * time.Second, MaxBytes: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}

	feed(store, 45, 1000, time.Second, 5)

	oldest, ok := store.OldestPTS()
	if !ok {
		t.Fatal("store is empty after feeding")
	}
	newest, _ := store.NewestPTS()

	if newest != 44*time.Second {
		t.Errorf("newest PTS = %v, want 44s", newest)
	}
	if got := newest - oldest; got > 30*time.Second {
		t.Errorf("retained span = %v, exceeds 30s retention", got)
	}
	if oldest < 14*time.Second {
		t.Errorf("oldest PTS = %v, stale data not evicted", oldest)
	}
	if store.Evicted() == 0 {
		t.Error("expected evictions for a feed exceeding the window")
	}
}

func TestStore_ByteBoundHitsFirst(t *testing.T) {
	// 60 s / 1 GB bounds with a feed exceeding 1 GB well before 60 s:
	// eviction must begin at the byte bound, not the time bound.
	const maxBytes = 1 << 30
	store, err := NewStore(Config{Retention: 60 * time.Second, MaxBytes: maxBytes})
	if err != nil {
		t.Fatal(err)
	}

	// 64 MiB per sample, 1 sample per second: byte bound crossed at ~16 s.
	const sampleSize = 64 << 20
	feed(store, 30, sampleSize, time.Second, 4)

	if store.Bytes() > maxBytes {
		t.Errorf("retained bytes = %d, exceeds byte bound %d", store.Bytes(), maxBytes)
	}
	if store.Window() >= 60*time.Second {
		t.Errorf("window = %v, time bound should never have been reached", store.Window())
	}
	if store.Evicted() == 0 {
		t.Error("expected byte-bound evictions")
	}

	// All 30 s of feed fit inside the time bound, so every eviction was
	// byte-driven.
	wantRetained := int(int64(maxBytes) / int64(sampleSize))
	if store.Len() != wantRetained {
		t.Errorf("retained samples = %d, want %d (byte bound / sample size)", store.Len(), wantRetained)
	}
}

func TestStore_SampleCountBound(t *testing.T) {
	store, err := NewStore(Config{Retention: time.Hour, MaxBytes: 1 << 40, MaxSamples: 10})
	if err != nil {
		t.Fatal(err)
	}
	feed(store, 100, 10, time.Millisecond, 5)

	if store.Len() != 10 {
		t.Errorf("retained samples = %d, want 10", store.Len())
	}
}

func TestStore_NewestSampleAlwaysRetained(t *testing.T) {
	store, err := NewStore(Config{Retention: time.Second, MaxBytes: 100})
	if err != nil {
		t.Fatal(err)
	}

	// A single sample larger than the byte bound must still be retained.
	store.Append(Sample{Data: make([]byte, 500), PTS: 0, Keyframe: true})
	if store.Len() != 1 {
		t.Fatalf("oversized sample dropped, len = %d", store.Len())
	}

	// The next append evicts it.
	store.Append(Sample{Data: make([]byte, 500), PTS: time.Millisecond, Keyframe: true})
	if store.Len() != 1 {
		t.Errorf("len = %d, want 1 after byte-bound eviction", store.Len())
	}
	oldest, _ := store.OldestPTS()
	if oldest != time.Millisecond {
		t.Errorf("oldest = %v, want the newer sample retained", oldest)
	}
}

func TestStore_SnapToKeyframe(t *testing.T) {
	store, err := NewStore(Config{Retention: time.Hour, MaxBytes: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}
	// Keyframes at 0s, 5s, 10s, ...
	feed(store, 20, 100, time.Second, 5)

	tests := []struct {
		name   string
		target time.Duration
		want   time.Duration
	}{
		{"exact keyframe", 10 * time.Second, 10 * time.Second},
		{"between keyframes snaps back", 7 * time.Second, 5 * time.Second},
		{"before window start snaps forward", -time.Second, 0},
		{"past the end snaps to last keyframe", time.Hour, 15 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := store.SnapToKeyframe(tt.target)
			if !ok {
				t.Fatal("no keyframe found")
			}
			if got != tt.want {
				t.Errorf("SnapToKeyframe(%v) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}

	t.Run("no keyframes at all", func(t *testing.T) {
		empty, _ := NewStore(Config{Retention: time.Hour, MaxBytes: 1 << 40})
		empty.Append(Sample{Data: []byte{1}, PTS: 0, Keyframe: false})
		if _, ok := empty.SnapToKeyframe(0); ok {
			t.Error("expected no snap without keyframes")
		}
	})
}

func TestStore_NextFollowsLiveEdge(t *testing.T) {
	store, err := NewStore(Config{Retention: time.Hour, MaxBytes: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}
	feed(store, 5, 10, time.Second, 1)

	var cursor time.Duration = -1
	var seen int
	for {
		sm, ok := store.Next(cursor)
		if !ok {
			break
		}
		if sm.PTS <= cursor {
			t.Fatalf("Next(%v) returned non-advancing PTS %v", cursor, sm.PTS)
		}
		cursor = sm.PTS
		seen++
	}
	if seen != 5 {
		t.Errorf("cursor walk visited %d samples, want 5", seen)
	}

	// Caught up: no sample after the newest.
	if _, ok := store.Next(cursor); ok {
		t.Error("Next past live edge must report no sample")
	}
}

func TestStore_NextReturnsCopy(t *testing.T) {
	store, err := NewStore(Config{Retention: time.Hour, MaxBytes: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}
	store.Append(Sample{Data: []byte{1, 2, 3}, PTS: time.Second, Keyframe: true})

	sm, ok := store.Next(0)
	if !ok {
		t.Fatal("sample not found")
	}
	sm.Data[0] = 99

	again, _ := store.Next(0)
	if again.Data[0] != 1 {
		t.Error("Next must return a snapshot copy, store was mutated through the read")
	}
}

func TestStore_FillPercent(t *testing.T) {
	store, err := NewStore(Config{Retention: 10 * time.Second, MaxBytes: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}

	if got := store.FillPercent(); got != 0 {
		t.Errorf("empty store fill = %d, want 0", got)
	}

	feed(store, 6, 10, time.Second, 1) // span 5s of a 10s window
	if got := store.FillPercent(); got != 50 {
		t.Errorf("fill = %d, want 50", got)
	}

	for i := 6; i < 26; i++ {
		store.Append(Sample{Data: make([]byte, 10), PTS: time.Duration(i) * time.Second, Keyframe: true})
	}
	if got := store.FillPercent(); got != 100 {
		t.Errorf("fill = %d, want capped at 100", got)
	}
}
