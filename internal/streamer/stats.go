package streamer

import "sync"

// Stats is the stream worker's stats block (spec.md §3 StreamStats). The
// stream worker is the sole writer; the supervisor reads it under the same
// lock so a printed snapshot can never show a torn (impossible) combination
// of counters.
type Stats struct {
	mu sync.Mutex

	packetsSent  uint64
	bytesSent    uint64
	contextsSent uint64
	reconfigs    uint64
	sendFailures uint64

	underflows     uint64
	overflows      uint64
	refillFailures uint64
	timestampJumps uint64

	minLoopUs      uint64
	maxLoopUs      uint64
	totalLoopUs    uint64
	loopIterations uint64

	lastRefillTimestampUs uint64
}

// Snapshot is a point-in-time copy of every counter, safe to print or
// export without holding any lock.
type Snapshot struct {
	PacketsSent  uint64
	BytesSent    uint64
	ContextsSent uint64
	Reconfigs    uint64
	SendFailures uint64

	Underflows     uint64
	Overflows      uint64
	RefillFailures uint64
	TimestampJumps uint64

	MinLoopUs      uint64
	MaxLoopUs      uint64
	TotalLoopUs    uint64
	LoopIterations uint64
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		PacketsSent:    s.packetsSent,
		BytesSent:      s.bytesSent,
		ContextsSent:   s.contextsSent,
		Reconfigs:      s.reconfigs,
		SendFailures:   s.sendFailures,
		Underflows:     s.underflows,
		Overflows:      s.overflows,
		RefillFailures: s.refillFailures,
		TimestampJumps: s.timestampJumps,
		MinLoopUs:      s.minLoopUs,
		MaxLoopUs:      s.maxLoopUs,
		TotalLoopUs:    s.totalLoopUs,
		LoopIterations: s.loopIterations,
	}
}

func (s *Stats) AddPacketsSent(n uint64) {
	s.mu.Lock()
	s.packetsSent += n
	s.mu.Unlock()
}

func (s *Stats) AddBytesSent(n uint64) {
	s.mu.Lock()
	s.bytesSent += n
	s.mu.Unlock()
}

func (s *Stats) IncContextsSent() {
	s.mu.Lock()
	s.contextsSent++
	s.mu.Unlock()
}

func (s *Stats) IncReconfigs() {
	s.mu.Lock()
	s.reconfigs++
	s.mu.Unlock()
}

func (s *Stats) AddSendFailures(n uint64) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.sendFailures += n
	s.mu.Unlock()
}

func (s *Stats) IncRefillFailures() {
	s.mu.Lock()
	s.refillFailures++
	s.mu.Unlock()
}

func (s *Stats) IncTimestampJumps() {
	s.mu.Lock()
	s.timestampJumps++
	s.mu.Unlock()
}

func (s *Stats) IncUnderflows() {
	s.mu.Lock()
	s.underflows++
	s.mu.Unlock()
}

func (s *Stats) IncOverflows() {
	s.mu.Lock()
	s.overflows++
	s.mu.Unlock()
}

// LastRefillTimestampUs returns the last-refill gap-detection baseline; 0
// means no refill has completed yet.
func (s *Stats) LastRefillTimestampUs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefillTimestampUs
}

func (s *Stats) SetLastRefillTimestampUs(us uint64) {
	s.mu.Lock()
	s.lastRefillTimestampUs = us
	s.mu.Unlock()
}

// RecordLoopIteration folds one iteration's duration into the min/max/total
// loop-timing aggregates.
func (s *Stats) RecordLoopIteration(durationUs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopIterations == 0 || durationUs < s.minLoopUs {
		s.minLoopUs = durationUs
	}
	if durationUs > s.maxLoopUs {
		s.maxLoopUs = durationUs
	}
	s.totalLoopUs += durationUs
	s.loopIterations++
}
