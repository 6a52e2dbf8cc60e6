// Package sdrfacade defines the narrow capability this streamer uses to
// talk to an SDR driver (spec.md §4.4): open a context, apply radio
// parameters atomically, enable the I/Q channels, and create/refill/destroy
// a sample buffer. The real driver binding is an external collaborator
// (spec.md §1) and is not implemented here; SyntheticFacade is the
// in-process substitute spec.md §9 calls for, used by every test in
// internal/streamer that exercises the reconfiguration state machine.
package sdrfacade

import (
	"errors"
	"fmt"

	"github.com/n5dr/vita-streamer/internal/vita"
)

// Params is the atomic set of radio parameters applied to the hardware by
// Configure. It mirrors the mutable fields of radioconfig.Snapshot.
type Params struct {
	CenterFrequencyHz uint64
	SampleRateHz      uint32
	BandwidthHz       uint32
	GainDB            float64
	ManualGain        bool
}

// ErrFatal marks a driver failure that is not recoverable: the buffer
// cannot be (re)created at all. Per spec.md §4.6/§7 this is the only error
// class that propagates out of the stream worker and terminates the
// process (exit code 2).
var ErrFatal = errors.New("sdrfacade: fatal driver error")

// ErrTransient marks a driver failure that is recoverable: a refill or
// attribute write failed but the driver is still responsive. Callers count
// it and retry.
var ErrTransient = errors.New("sdrfacade: transient driver error")

// Facade is the only module allowed to talk to the SDR driver. All other
// driver concepts (DMA descriptors, vendor-specific tuning quirks, etc.)
// are hidden behind it.
type Facade interface {
	// Open establishes the driver context. Called once at startup.
	Open() error

	// Configure applies center frequency, sample rate, bandwidth, and gain
	// atomically. Returns a wrapped ErrTransient or ErrFatal on failure.
	Configure(p Params) error

	// EnableChannels enables the I/Q channel(s) this streamer reads from.
	EnableChannels() error

	// NewBuffer allocates a DMA-style sample buffer sized for samples
	// worth of (I,Q) pairs at the currently configured sample rate.
	NewBuffer(samples int) error

	// DestroyBuffer releases the current sample buffer. Safe to call when
	// no buffer exists.
	DestroyBuffer() error

	// Refill blocks until the buffer has fresh samples (or the driver
	// reports a transient failure) and copies them into dst, returning the
	// number of samples written. dst is sized by the caller to the
	// buffer's sample count; Refill never writes more than len(dst).
	Refill(dst []vita.Sample) (int, error)

	// Close tears down the driver context.
	Close() error
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}

func transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}
