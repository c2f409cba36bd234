// Package sweeper implements the queue sweeper (C6): a 1 s tick that
// promotes a queued chain once its grace period has elapsed, covering
// the case where no new poll arrives to trigger the arbiter directly.
package sweeper

import (
	"time"

	"github.com/pocnet/arbiter/arbiter"
	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/state"
)

// Sweeper ticks once a second and re-evaluates the queued backlog
// against the current chain, per §4.6.
type Sweeper struct {
	arb      *arbiter.Arbiter
	tickRate time.Duration
}

func New(arb *arbiter.Arbiter) *Sweeper {
	return &Sweeper{arb: arb, tickRate: time.Second}
}

// Run blocks ticking until ctx-like stop channel closes. Intended to be
// launched as one of the supervisor's long-lived tasks.
func (s *Sweeper) Run(stop <-chan struct{}) {
	t := time.NewTicker(s.tickRate)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Tick()
		case <-stop:
			return
		}
	}
}

// Tick runs exactly one sweep; exported for deterministic testing.
func (s *Sweeper) Tick() {
	reg := s.arb.Registry()
	store := s.arb.Store()
	now := s.arb.Now()
	store.Transact(func(tx *state.Tx) {
		snap := tx.Snapshot()
		if !snap.Started {
			return
		}
		pick, ok := s.pick(reg, snap)
		if !ok || pick == snap.Current {
			if ok && pick == snap.Current {
				s.advanceSelf(tx, reg, snap, pick, now)
			}
			return
		}
		s.apply(tx, reg, snap, pick, now)
	})
}

// pick selects the queued chain to consider, per §4.6: in priority mode
// the lowest numeric priority (ties broken by first index); in FIFO mode
// the queued chain whose latest observation is oldest.
func (s *Sweeper) pick(reg *chain.Registry, snap state.Snapshot) (chain.Index, bool) {
	var (
		best    chain.Index
		found   bool
		bestPri int
		bestAt  time.Time
	)
	for idx, cs := range snap.Chains {
		if !cs.Queued() {
			continue
		}
		ci := chain.Index(idx)
		if s.arb.PriorityMode() {
			pri := reg.Get(ci).Priority
			if !found || pri < bestPri {
				best, bestPri, found = ci, pri, true
			}
			continue
		}
		if !found || cs.LatestAt.Before(bestAt) {
			best, bestAt, found = ci, cs.LatestAt, true
		}
	}
	return best, found
}

// apply runs the §4.6 action table for a pick that differs from the
// current chain.
func (s *Sweeper) apply(tx *state.Tx, reg *chain.Registry, snap state.Snapshot, pick chain.Index, now time.Time) {
	c := snap.Current
	elapsed := s.arb.ElapsedSince(snap, c, now)
	graceElapsed := elapsed >= s.arb.GracePeriod()

	if !s.arb.PriorityMode() {
		if graceElapsed {
			tx.StartChain(pick, now)
			s.arb.Narrate(arbiter.LastBlockInfo{Tag: arbiter.TagCompleted, Chain: c, Seconds: elapsed.Seconds()})
		}
		return
	}

	switch {
	case reg.Get(pick).Priority < reg.Get(c).Priority: // relation +1
		if graceElapsed {
			tx.StartChain(pick, now)
			s.arb.Narrate(arbiter.LastBlockInfo{Tag: arbiter.TagCompleted, Chain: c, Seconds: elapsed.Seconds()})
		} else if s.arb.InterruptLowerPriority() {
			info := s.arb.InterruptAndStart(tx, c, pick, now, elapsed)
			s.arb.Narrate(info)
		}
	case reg.Get(pick).Priority == reg.Get(c).Priority: // relation 0
		tx.StartChain(pick, now)
		s.arb.Narrate(arbiter.LastBlockInfo{Tag: arbiter.TagSuperseded, Chain: pick, Seconds: elapsed.Seconds()})
	default: // relation -1
		if graceElapsed {
			tx.StartChain(pick, now)
			s.arb.Narrate(arbiter.LastBlockInfo{Tag: arbiter.TagCompleted, Chain: c, Seconds: elapsed.Seconds()})
		}
	}
}

// advanceSelf handles the degenerate pick==current case: the current
// chain republished a fresh height and no other queued chain was picked
// ahead of it, so there is no interruption to narrate, only a
// continuation.
func (s *Sweeper) advanceSelf(tx *state.Tx, reg *chain.Registry, snap state.Snapshot, pick chain.Index, now time.Time) {
	elapsed := s.arb.ElapsedSince(snap, pick, now)
	tx.StartChain(pick, now)
	s.arb.Narrate(arbiter.LastBlockInfo{Tag: arbiter.TagSuperseded, Chain: pick, Seconds: elapsed.Seconds()})
}
