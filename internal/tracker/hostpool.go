package tracker

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

const (
	// DefaultDeadTimeout is how long a failed tracker is skipped.
	DefaultDeadTimeout = 5 * time.Second

	// DefaultMaxTries caps the hosts considered by one selection.
	DefaultMaxTries = 15
)

// Target is one dial attempt produced by ConnectTargets.
type Target struct {
	Addr      Address // Where to dial
	Preferred bool    // True for a preferred-IP override, dialed with the short timeout
}

// HostPool tracks the configured trackers, which of them failed recently, and
// an optional preferred-IP table.
//
// A pool is built once per tracker configuration and handed to every Conn
// that talks to those trackers, so a host marked dead by one connection is
// skipped by the others.
//
// Thread-safe: All methods are safe for concurrent access.
type HostPool struct {
	hosts       []Address            // Configured trackers, duplicates removed
	dead        map[Address]time.Time // Last connect failure per host
	preferred   map[string]string    // Host -> preferred alternate host
	rnd         *rand.Rand           // Start index source, guarded by mu
	now         func() time.Time     // Clock, replaceable in tests
	deadTimeout time.Duration        // Backoff window for dead hosts
	maxTries    int                  // Upper bound on hosts per selection
	mu          sync.RWMutex         // Protects dead, preferred and rnd
}

// PoolOption configures a HostPool.
type PoolOption func(*HostPool)

// WithDeadTimeout overrides the dead-host backoff window.
func WithDeadTimeout(d time.Duration) PoolOption {
	return func(p *HostPool) { p.deadTimeout = d }
}

// WithMaxTries overrides how many hosts one selection may consider.
func WithMaxTries(n int) PoolOption {
	return func(p *HostPool) {
		if n > 0 {
			p.maxTries = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) PoolOption {
	return func(p *HostPool) { p.now = now }
}

// WithRand replaces the random source used to pick the starting host.
func WithRand(r *rand.Rand) PoolOption {
	return func(p *HostPool) { p.rnd = r }
}

// WithPreferredIPs installs a preferred-IP table, see SetPreferredIPs.
func WithPreferredIPs(table map[string]string) PoolOption {
	return func(p *HostPool) { p.preferred = copyTable(table) }
}

// NewHostPool creates a pool over addrs.
// Duplicate addresses are dropped, keeping the first occurrence.
//
// Example:
//
//	addrs, _ := ParseAddresses([]string{"10.0.0.1:7001", "10.0.0.2:7001"})
//	pool := NewHostPool(addrs, WithPreferredIPs(map[string]string{"10.0.0.2": "10.2.0.2"}))
func NewHostPool(addrs []Address, opts ...PoolOption) *HostPool {
	hosts := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if !slices.Contains(hosts, a) {
			hosts = append(hosts, a)
		}
	}

	p := &HostPool{
		hosts:       hosts,
		dead:        make(map[Address]time.Time),
		preferred:   map[string]string{},
		now:         time.Now,
		deadTimeout: DefaultDeadTimeout,
		maxTries:    DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// Hosts returns a copy of the configured addresses in configuration order.
func (p *HostPool) Hosts() []Address {
	return slices.Clone(p.hosts)
}

// Select returns the first eligible host of a fresh random rotation.
// It returns false when every host considered is inside its dead window.
func (p *HostPool) Select() (Address, bool) {
	candidates := p.Candidates()
	if len(candidates) == 0 {
		return Address{}, false
	}
	return candidates[0], true
}

// Candidates returns the eligible hosts of one selection, in the order they
// should be tried.
//
// Implementation:
//  1. tries = min(len(hosts), maxTries)
//  2. start at a uniformly random index in [0, len(hosts))
//  3. walk tries hosts, wrapping around, skipping any host whose last
//     failure is younger than the dead timeout
func (p *HostPool) Candidates() []Address {
	n := len(p.hosts)
	if n == 0 {
		return nil
	}
	tries := min(n, p.maxTries)

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.rnd.Intn(n)
	now := p.now()
	out := make([]Address, 0, tries)
	for i := 0; i < tries; i++ {
		host := p.hosts[(idx+i)%n]
		if failed, ok := p.dead[host]; ok && now.Sub(failed) < p.deadTimeout {
			continue
		}
		out = append(out, host)
	}
	return out
}

// MarkDead records a connect failure for addr at when, replacing any earlier one.
func (p *HostPool) MarkDead(addr Address, when time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead[addr] = when
}

// MarkAlive forgets any recorded failure for addr.
func (p *HostPool) MarkAlive(addr Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dead, addr)
}

// IsDead reports whether addr is currently inside its dead window.
func (p *HostPool) IsDead(addr Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	failed, ok := p.dead[addr]
	return ok && p.now().Sub(failed) < p.deadTimeout
}

// DeadHosts returns a copy of the recorded failure times.
func (p *HostPool) DeadHosts() map[Address]time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Address]time.Time, len(p.dead))
	for a, t := range p.dead {
		out[a] = t
	}
	return out
}

// SetPreferredIPs replaces the preferred-IP table.
// Keys are tracker hosts as configured, values the alternate host to try
// first on the same port.
func (p *HostPool) SetPreferredIPs(table map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferred = copyTable(table)
}

// ConnectTargets returns the dial attempts for addr: the preferred override
// first when one is configured, then addr itself.
func (p *HostPool) ConnectTargets(addr Address) []Target {
	p.mu.RLock()
	pref, ok := p.preferred[addr.Host]
	p.mu.RUnlock()

	if !ok || pref == "" || pref == addr.Host {
		return []Target{{Addr: addr}}
	}
	return []Target{
		{Addr: Address{Host: pref, Port: addr.Port}, Preferred: true},
		{Addr: addr},
	}
}

func (p *HostPool) clock() time.Time {
	return p.now()
}

func copyTable(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
