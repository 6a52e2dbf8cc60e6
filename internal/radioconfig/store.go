// Package radioconfig holds the process-wide SdrConfig singleton described
// in spec.md §3: an atomically-snapshotted record of the currently-applied
// radio parameters plus a dirty flag used for edge-triggered signalling
// from the control worker to the stream worker.
package radioconfig

import (
	"fmt"
	"sync"
)

// Platform bounds (spec.md §4.5).
const (
	MinFrequencyHz  = 70_000_000
	MaxFrequencyHz  = 6_000_000_000
	MinSampleRateHz = 2_084_000
	MaxSampleRateHz = 61_440_000
	MinGainDB       = 0.0
	MaxGainDB       = 77.0
)

// Snapshot is an immutable, point-in-time copy of the radio parameters.
type Snapshot struct {
	CenterFrequencyHz uint64
	SampleRateHz      uint32
	BandwidthHz       uint32
	GainDB            float64
}

// DefaultBandwidth returns 80% of sampleRate, the default bandwidth per
// spec.md §3.
func DefaultBandwidth(sampleRate uint32) uint32 {
	return uint32(uint64(sampleRate) * 8 / 10)
}

// Fields is a partial update: a non-nil pointer means "the incoming Context
// packet carried this field"; nil means "leave it unchanged."
type Fields struct {
	CenterFrequencyHz *uint64
	SampleRateHz      *uint32
	BandwidthHz       *uint32
	GainDB            *float64
}

// Validate checks a proposed partial update against platform bounds and the
// bandwidth-ceiling invariant (bandwidth_hz <= sample_rate_hz), using
// current's values for any field the update does not carry. It never
// mutates current or the store; the control worker calls it before
// acquiring the configuration lock (spec.md §4.5 step 3).
func Validate(f Fields, current Snapshot) error {
	if f.CenterFrequencyHz != nil {
		v := *f.CenterFrequencyHz
		if v < MinFrequencyHz || v > MaxFrequencyHz {
			return fmt.Errorf("radioconfig: center frequency %d Hz outside [%d, %d]", v, MinFrequencyHz, MaxFrequencyHz)
		}
	}
	if f.SampleRateHz != nil {
		v := *f.SampleRateHz
		if v < MinSampleRateHz || v > MaxSampleRateHz {
			return fmt.Errorf("radioconfig: sample rate %d Hz outside [%d, %d]", v, MinSampleRateHz, MaxSampleRateHz)
		}
	}
	if f.GainDB != nil {
		v := *f.GainDB
		if v < MinGainDB || v > MaxGainDB {
			return fmt.Errorf("radioconfig: gain %g dB outside [%g, %g]", v, MinGainDB, MaxGainDB)
		}
	}

	effectiveRate := current.SampleRateHz
	if f.SampleRateHz != nil {
		effectiveRate = *f.SampleRateHz
	}
	effectiveBW := current.BandwidthHz
	if f.BandwidthHz != nil {
		effectiveBW = *f.BandwidthHz
	}
	if effectiveBW > effectiveRate {
		return fmt.Errorf("radioconfig: bandwidth %d Hz exceeds sample rate %d Hz", effectiveBW, effectiveRate)
	}

	return nil
}

// Store is the process-wide configuration singleton. The zero value is not
// usable; construct with New.
type Store struct {
	mu      sync.Mutex
	current Snapshot
	dirty   bool
}

// New constructs a Store with the given initial (already-validated)
// snapshot.
func New(initial Snapshot) *Store {
	return &Store{current: initial}
}

// Snapshot returns a copy of the current configuration. The critical
// section is just a struct copy; no I/O happens under the lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Dirty reports whether any field has changed since the last ClearDirty.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// SnapshotIfDirty returns the current snapshot together with the dirty flag,
// both read under a single lock acquisition. The stream worker uses this
// instead of separate Snapshot/Dirty calls so the two values it reasons
// about together can never be torn by a concurrent Apply.
func (s *Store) SnapshotIfDirty() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.dirty
}

// ClearDirty clears the dirty flag. Called by the stream worker after a
// successful hardware reconfigure, and also after a failed reconfigure from
// which it recovered by recreating the previous buffer.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// Apply writes every field f carries that differs from the current value,
// setting dirty if anything changed, and returns the resulting snapshot.
// Callers must validate f before calling Apply; Apply itself does not
// re-validate.
func (s *Store) Apply(f Fields) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if f.CenterFrequencyHz != nil && *f.CenterFrequencyHz != s.current.CenterFrequencyHz {
		s.current.CenterFrequencyHz = *f.CenterFrequencyHz
		changed = true
	}
	if f.SampleRateHz != nil && *f.SampleRateHz != s.current.SampleRateHz {
		s.current.SampleRateHz = *f.SampleRateHz
		changed = true
	}
	if f.BandwidthHz != nil && *f.BandwidthHz != s.current.BandwidthHz {
		s.current.BandwidthHz = *f.BandwidthHz
		changed = true
	}
	if f.GainDB != nil && *f.GainDB != s.current.GainDB {
		s.current.GainDB = *f.GainDB
		changed = true
	}

	if changed {
		s.dirty = true
	}
	return s.current
}
