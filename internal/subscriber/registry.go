// Package subscriber implements the bounded, thread-safe subscriber
// registry described in spec.md §4.3: a fixed-capacity array of active
// Data-stream receivers, indexed by (IPv4, port), with health-based
// eviction and reactivation.
package subscriber

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxSubscribers is the fixed registry capacity.
const MaxSubscribers = 16

// MaxConsecutiveFailures is the threshold at which a subscriber is marked
// inactive.
const MaxConsecutiveFailures = 10

// EvictionIdle is how long an inactive-send-free subscriber may go before
// compaction removes it even if it was never marked inactive by failures.
const EvictionIdle = 30 * time.Second

// ErrRegistryFull is returned by Register when the registry is already at
// MaxSubscribers and addr is not already present.
var ErrRegistryFull = errors.New("subscriber: registry full")

// Entry is a snapshot of one subscriber's identity, health, and counters.
// Callers that need a stable view (e.g. the supervisor's periodic report)
// should use Registry.Snapshot rather than reaching into live entries.
type Entry struct {
	Addr                netip.AddrPort
	SessionID           uuid.UUID
	Active              bool
	ConsecutiveFailures uint16
	TotalFailures       uint64
	PacketsSent         uint64
	BytesSent           uint64
	FirstSeenUs         uint64
	LastSeenUs          uint64
}

// Registry is the fixed-capacity, single-lock-guarded subscriber table.
// Zero value is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	entries []*Entry // len <= MaxSubscribers, no nil holes
	now     func() time.Time
	onWarn  func(format string, args ...any)
}

// New constructs an empty Registry. onWarn, if non-nil, is called with a
// printf-style message every 10th consecutive send failure for a
// subscriber; a nil onWarn silently discards the message.
func New(onWarn func(format string, args ...any)) *Registry {
	if onWarn == nil {
		onWarn = func(string, ...any) {}
	}
	return &Registry{
		entries: make([]*Entry, 0, MaxSubscribers),
		now:     time.Now,
		onWarn:  onWarn,
	}
}

func nowMicros(t time.Time) uint64 {
	return uint64(t.UnixMicro())
}

// Register inserts addr as a new, active subscriber, or reactivates it in
// place (preserving history) if it already exists but is inactive. A
// re-registration of an already-active subscriber is a no-op keepalive.
// Returns ErrRegistryFull if addr is new and the registry is already at
// capacity; existing entries are never evicted to make room.
func (r *Registry) Register(addr netip.AddrPort) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Addr == addr {
			if !e.Active {
				e.Active = true
				e.ConsecutiveFailures = 0
			}
			return e, nil
		}
	}

	if len(r.entries) >= MaxSubscribers {
		return nil, ErrRegistryFull
	}

	now := nowMicros(r.now())
	e := &Entry{
		Addr:        addr,
		SessionID:   uuid.New(),
		Active:      true,
		FirstSeenUs: now,
		LastSeenUs:  now,
	}
	r.entries = append(r.entries, e)
	return e, nil
}

// Sender is the minimal capability Broadcast needs to deliver one datagram
// to one subscriber. *net.UDPConn satisfies it.
type Sender interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Broadcast sends buf to every active subscriber over conn, updating health
// counters under the registry lock. It never blocks on an individual slow
// subscriber beyond whatever conn.WriteToUDPAddrPort itself blocks for. It
// returns the number of subscribers the send failed for, so a caller can
// fold that into its own socket-send-failure counter (spec.md §3
// SocketSendFailure).
func (r *Registry) Broadcast(conn Sender, buf []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMicros(r.now())
	failures := 0
	for _, e := range r.entries {
		if !e.Active {
			continue
		}

		n, err := conn.WriteToUDPAddrPort(buf, e.Addr)
		if err != nil || n != len(buf) {
			failures++
			e.ConsecutiveFailures++
			e.TotalFailures++
			if e.ConsecutiveFailures%10 == 0 {
				r.onWarn("subscriber %s: %d consecutive send failures", e.Addr, e.ConsecutiveFailures)
			}
			if e.ConsecutiveFailures >= MaxConsecutiveFailures {
				e.Active = false
			}
			continue
		}

		e.ConsecutiveFailures = 0
		e.PacketsSent++
		e.BytesSent += uint64(len(buf))
		e.LastSeenUs = now
	}
	return failures
}

// Compact removes every entry that is inactive or has been silent for
// longer than EvictionIdle, compacting the remaining entries so they stay
// contiguous. It runs on the stream worker's cadence (every 100 Data
// packets per spec.md §4.3).
func (r *Registry) Compact() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMicros(r.now())
	live := r.entries[:0]
	for _, e := range r.entries {
		idle := now - e.LastSeenUs
		if !e.Active || idle > uint64(EvictionIdle.Microseconds()) {
			continue
		}
		live = append(live, e)
	}
	r.entries = live
}

// Snapshot returns a copy of every current entry, active or not, for
// read-only reporting (e.g. the supervisor's telemetry line).
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// ActiveCount returns the number of currently-active subscribers.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.Active {
			n++
		}
	}
	return n
}

// AddrPortFromUDP converts a net.UDPAddr (as returned by ReadFromUDP) into
// the netip.AddrPort identity the registry keys on.
func AddrPortFromUDP(addr *net.UDPAddr) netip.AddrPort {
	ip, _ := netip.AddrFromSlice(addr.IP.To4())
	return netip.AddrPortFrom(ip, uint16(addr.Port))
}
