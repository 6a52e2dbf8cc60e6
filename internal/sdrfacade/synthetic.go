package sdrfacade

import (
	"math"
	"sync"

	"github.com/n5dr/vita-streamer/internal/vita"
)

// SyntheticFacade is a software-only Facade that produces a synthetic tone
// buffer instead of talking to real hardware. It is the simulated facade
// spec.md §9 calls for, used throughout internal/streamer's tests to drive
// the reconfiguration state machine without a physical radio.
type SyntheticFacade struct {
	mu sync.Mutex

	opened   bool
	params   Params
	buf      []vita.Sample
	phase    float64
	toneHz   float64

	// FailConfigureAlways, when true, makes every Configure call fail with
	// ErrFatal. On its own it exercises the recoverable "reconfigure
	// failure, previous buffer recreated" path; combined with a failing
	// NewBuffer it exercises the fatal path.
	FailConfigureAlways bool

	// RefillFailOnce causes the next Refill call to report ErrTransient and
	// then clears itself. Used to exercise the refill-retry path.
	RefillFailOnce bool
}

// NewSynthetic constructs a SyntheticFacade emitting a tone at toneHz,
// offset from baseband.
func NewSynthetic(toneHz float64) *SyntheticFacade {
	return &SyntheticFacade{toneHz: toneHz}
}

func (s *SyntheticFacade) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *SyntheticFacade) Configure(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fatalf("configure called before open")
	}
	if s.FailConfigureAlways {
		return fatalf("synthetic facade configured to always fail configure")
	}
	s.params = p
	s.phase = 0
	return nil
}

func (s *SyntheticFacade) EnableChannels() error {
	return nil
}

func (s *SyntheticFacade) NewBuffer(samples int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if samples <= 0 {
		return fatalf("buffer size must be positive, got %d", samples)
	}
	s.buf = make([]vita.Sample, samples)
	return nil
}

func (s *SyntheticFacade) DestroyBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	return nil
}

func (s *SyntheticFacade) Refill(dst []vita.Sample) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RefillFailOnce {
		s.RefillFailOnce = false
		return 0, transientf("synthetic refill failure (test injected)")
	}
	if s.buf == nil {
		return 0, transientf("no buffer allocated")
	}

	n := len(dst)
	if n > len(s.buf) {
		n = len(s.buf)
	}

	rate := float64(s.params.SampleRateHz)
	if rate <= 0 {
		rate = 1
	}
	step := 2 * math.Pi * s.toneHz / rate
	amp := 20000.0 * math.Pow(10, (s.params.GainDB-40)/20) / 10
	if amp > 32000 {
		amp = 32000
	}
	if amp < 0 {
		amp = 0
	}

	for i := 0; i < n; i++ {
		dst[i] = vita.Sample{
			I: int16(amp * math.Cos(s.phase)),
			Q: int16(amp * math.Sin(s.phase)),
		}
		s.phase += step
	}

	return n, nil
}

func (s *SyntheticFacade) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.buf = nil
	return nil
}
