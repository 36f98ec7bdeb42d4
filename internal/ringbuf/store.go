// Package ringbuf implements the retention window the replay side serves
// from: a time- and byte-bounded store of parsed H.264 access units. The
// engine-side queue element keeps its own dataflow ring; this store is the
// readable copy of the most recent window, written by the ingest sink and
// read concurrently by every playback instance.
package ringbuf

import (
	"fmt"
	"sync"
	"time"
)

// Sample is one retained access unit.
type Sample struct {
	// Data is the access unit in Annex-B byte-stream form.
	Data []byte
	// PTS is the engine presentation timestamp of the access unit.
	PTS time.Duration
	// Duration is the access unit duration, when the engine reports one.
	Duration time.Duration
	// Keyframe is true when the access unit contains an IDR slice.
	Keyframe bool
}

// Config carries the sizing/eviction bounds. Whichever bound is reached
// first wins; eviction always discards the oldest retained data and never
// blocks the writer.
type Config struct {
	// Retention is the time bound of the window.
	Retention time.Duration
	// MaxBytes is the byte bound of the window.
	MaxBytes int64
	// MaxSamples optionally bounds the sample count. Zero means unbounded.
	MaxSamples int
}

// Store is the ring store. Append is called from the ingest sink callback;
// readers take snapshot copies under a shared lock. The store never tears
// itself down; the orchestration layer guarantees it outlives attached
// playback instances.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	samples  []Sample
	bytes    int64
	appended uint64
	evicted  uint64
}

// NewStore validates the bounds and builds an empty store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("ringbuf: retention must be positive, got %v", cfg.Retention)
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("ringbuf: max bytes must be positive, got %d", cfg.MaxBytes)
	}
	if cfg.MaxSamples < 0 {
		return nil, fmt.Errorf("ringbuf: max samples must not be negative, got %d", cfg.MaxSamples)
	}
	return &Store{cfg: cfg}, nil
}

// Append retains a sample and evicts oldest-first until all bounds hold
// again. The newest sample is always retained, even when it alone exceeds a
// bound.
func (s *Store) Append(sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sm)
	s.bytes += int64(len(sm.Data))
	s.appended++

	for len(s.samples) > 1 && s.overBoundLocked() {
		old := s.samples[0]
		s.samples[0] = Sample{}
		s.samples = s.samples[1:]
		s.bytes -= int64(len(old.Data))
		s.evicted++
	}

	// Reclaim the backing array once the dead prefix dominates it.
	if cap(s.samples) > 2*len(s.samples) && cap(s.samples) > 1024 {
		compact := make([]Sample, len(s.samples))
		copy(compact, s.samples)
		s.samples = compact
	}
}

func (s *Store) overBoundLocked() bool {
	if s.bytes > s.cfg.MaxBytes {
		return true
	}
	if s.cfg.MaxSamples > 0 && len(s.samples) > s.cfg.MaxSamples {
		return true
	}
	span := s.samples[len(s.samples)-1].PTS - s.samples[0].PTS
	return span > s.cfg.Retention
}

// OldestPTS returns the presentation timestamp of the oldest retained sample.
func (s *Store) OldestPTS() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return 0, false
	}
	return s.samples[0].PTS, true
}

// NewestPTS returns the presentation timestamp of the newest retained sample.
func (s *Store) NewestPTS() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return 0, false
	}
	return s.samples[len(s.samples)-1].PTS, true
}

// Window returns the retained time span.
func (s *Store) Window() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) < 2 {
		return 0
	}
	return s.samples[len(s.samples)-1].PTS - s.samples[0].PTS
}

// Bytes returns the retained byte count.
func (s *Store) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Len returns the retained sample count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Appended returns the total number of samples ever appended.
func (s *Store) Appended() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appended
}

// Evicted returns the total number of samples evicted.
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// FillPercent reports how much of the retention window is filled, 0-100.
// Used to derive buffering notifications when the engine's own buffering
// messages are disabled.
func (s *Store) FillPercent() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) < 2 {
		return 0
	}
	span := s.samples[len(s.samples)-1].PTS - s.samples[0].PTS
	pct := int(span * 100 / s.cfg.Retention)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// SnapToKeyframe returns the PTS of the latest keyframe at or before target,
// falling back to the earliest keyframe after it. Playback must start on an
// IDR so a decoder can join mid-window.
func (s *Store) SnapToKeyframe(target time.Duration) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		before    time.Duration
		hasBefore bool
	)
	for i := range s.samples {
		sm := &s.samples[i]
		if !sm.Keyframe {
			continue
		}
		if sm.PTS <= target {
			before = sm.PTS
			hasBefore = true
			continue
		}
		if !hasBefore {
			return sm.PTS, true
		}
		break
	}
	if hasBefore {
		return before, true
	}
	return 0, false
}

// Next returns a copy of the first sample with PTS strictly after the given
// timestamp. Used by playback loops to follow the live edge; returns false
// when the reader has caught up.
func (s *Store) Next(after time.Duration) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Binary search: samples are PTS-ordered.
	lo, hi := 0, len(s.samples)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.samples[mid].PTS <= after {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(s.samples) {
		return Sample{}, false
	}

	sm := s.samples[lo]
	out := Sample{
		Data:     append([]byte(nil), sm.Data...),
		PTS:      sm.PTS,
		Duration: sm.Duration,
		Keyframe: sm.Keyframe,
	}
	return out, true
}
