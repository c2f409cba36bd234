// Package capacity implements the capacity tracker (C2): per-miner
// reported capacity with a TTL, and the total active capacity used for
// dynamic-deadline calculation and HDPool heartbeat frames.
package capacity

import (
	"net"
	"net/url"
	"sync"
	"time"
)

type entry struct {
	tib      float64
	lastSeen time.Time
}

// Tracker records capacity reports keyed by the reporting miner's IPv4
// address packed into a uint32, matching the spec's CapacityMap.
type Tracker struct {
	mu                 sync.RWMutex
	entries            map[uint32]entry
	minerUpdateTimeout time.Duration
	initialPlotTiB     float64
	now                func() time.Time
}

func New(minerUpdateTimeout time.Duration, initialPlotTiB float64) *Tracker {
	return &Tracker{
		entries:            make(map[uint32]entry),
		minerUpdateTimeout: minerUpdateTimeout,
		initialPlotTiB:     initialPlotTiB,
		now:                time.Now,
	}
}

// IPv4Key converts a dotted-quad or host:port endpoint into the 32-bit
// key used by the capacity map.
func IPv4Key(endpoint string) (uint32, bool) {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	if u, err := url.Parse(endpoint); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

// Update records a capacity report in GiB from the given endpoint,
// converting to TiB for storage (spec: capacity_gib/1024).
func (t *Tracker) Update(endpoint string, capacityGiB float64) {
	key, ok := IPv4Key(endpoint)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = entry{tib: capacityGiB / 1024, lastSeen: t.now()}
}

// TotalTiB sums every entry seen within minerUpdateTimeout, falling back
// to the configured initial plot capacity when nothing is fresh.
func (t *Tracker) TotalTiB() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var total float64
	var any bool
	for _, e := range t.entries {
		if now.Sub(e.lastSeen) < t.minerUpdateTimeout {
			total += e.tib
			any = true
		}
	}
	if !any {
		return t.initialPlotTiB
	}
	return total
}
