// Package arbiter implements the decision table (C5): given a new
// mining-info observation for some chain, decide whether to start it
// now, queue it, interrupt-and-requeue the current chain, or supersede
// it, under priority or FIFO policy with a grace period.
package arbiter

import (
	"time"

	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/metrics"
	"github.com/pocnet/arbiter/mininginfo"
	"github.com/pocnet/arbiter/state"
)

// Tag narrates why a chain transition happened. Consumed only for
// presentation (§4.5.2); it never feeds back into a decision.
type Tag int

const (
	TagCompleted Tag = iota
	TagSuperseded
	TagInterrupted
	TagRequeued
)

func (t Tag) String() string {
	switch t {
	case TagCompleted:
		return "completed"
	case TagSuperseded:
		return "superseded"
	case TagInterrupted:
		return "interrupted"
	case TagRequeued:
		return "requeued"
	default:
		return "unknown"
	}
}

// LastBlockInfo is the tagged union from §4.5.2.
type LastBlockInfo struct {
	Tag        Tag
	Chain      chain.Index
	Seconds    float64
	RequeueN   int
	RequeueMax int
}

// Decision is the outcome of one arbitration: either a chain was
// started (Info is populated) or the new info was simply queued.
type Decision struct {
	Started bool
	Info    LastBlockInfo
}

// Arbiter owns no mutable state of its own; every mutation runs through
// the shared Store so pollers racing on different chains serialize
// correctly (§5).
type Arbiter struct {
	reg                    *chain.Registry
	store                  *state.Store
	priorityMode           bool
	interruptLowerPriority bool
	gracePeriod            time.Duration
	startupDeadline        time.Time
	log                    log.Logger
	metrics                *metrics.Registry
	now                    func() time.Time
}

// New builds an Arbiter. startupDelay implements the supplemented
// startup-grace feature (SPEC_FULL §"Supplemented features" #1): no
// preemption happens before now()+startupDelay except for the very first
// chain observed, so racing pollers at boot don't flap the current
// chain before every chain has reported once.
func New(reg *chain.Registry, store *state.Store, priorityMode, interruptLowerPriority bool, gracePeriod, startupDelay time.Duration, logger log.Logger, metricsReg *metrics.Registry) *Arbiter {
	now := time.Now
	return &Arbiter{
		reg:                    reg,
		store:                  store,
		priorityMode:           priorityMode,
		interruptLowerPriority: interruptLowerPriority,
		gracePeriod:            gracePeriod,
		startupDeadline:        now().Add(startupDelay),
		log:                    logger,
		metrics:                metricsReg,
		now:                    now,
	}
}

// Handle is called by a poller (or websocket session) whenever it
// observes a new block for chain i. It atomically records the
// observation and applies the decision table, then narrates any
// transition.
func (a *Arbiter) Handle(i chain.Index, info mininginfo.MiningInfo) {
	now := a.now()
	var decision Decision
	a.store.Transact(func(tx *state.Tx) {
		tx.UpdateLatest(i, info, now)
		snap := tx.Snapshot()
		decision = a.decide(tx, snap, i, now)
	})
	if decision.Started {
		a.metrics.SetCurrent(a.reg.Enumerate(), a.store.Snapshot().Current)
		a.narrate(decision.Info)
	}
}

func (a *Arbiter) decide(tx *state.Tx, snap state.Snapshot, i chain.Index, now time.Time) Decision {
	if !snap.Started {
		tx.StartChain(i, now)
		return Decision{Started: true, Info: LastBlockInfo{Tag: TagCompleted, Chain: i}}
	}
	c := snap.Current
	if i != c && now.Before(a.startupDeadline) {
		return Decision{}
	}
	if a.priorityMode {
		return a.decidePriority(tx, snap, i, c, now)
	}
	return a.decideFIFO(tx, snap, i, c, now)
}

func (a *Arbiter) elapsedSince(snap state.Snapshot, idx chain.Index, now time.Time) time.Duration {
	if snap.Chains[idx].QueuedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(snap.Chains[idx].QueuedAt)
}

func (a *Arbiter) anyOtherQueued(snap state.Snapshot, except chain.Index) bool {
	for idx, cs := range snap.Chains {
		if chain.Index(idx) == except {
			continue
		}
		if cs.Queued() {
			return true
		}
	}
	return false
}

// decidePriority implements §4.5's priority-mode table.
func (a *Arbiter) decidePriority(tx *state.Tx, snap state.Snapshot, i, c chain.Index, now time.Time) Decision {
	prioI := a.reg.Get(i).Priority
	prioC := a.reg.Get(c).Priority
	elapsed := a.elapsedSince(snap, c, now)

	if prioI <= prioC {
		if i != c {
			if elapsed < a.gracePeriod {
				if a.interruptLowerPriority {
					info := a.InterruptAndStart(tx, c, i, now, elapsed)
					return Decision{Started: true, Info: info}
				}
				return Decision{}
			}
			tx.StartChain(i, now)
			return Decision{Started: true, Info: LastBlockInfo{Tag: TagCompleted, Chain: c, Seconds: elapsed.Seconds()}}
		}
		// i == c: fresh height on the already-current chain.
		if a.anyOtherQueued(snap, i) {
			tx.StartChain(i, now)
			return Decision{Started: true, Info: LastBlockInfo{Tag: TagSuperseded, Chain: i, Seconds: elapsed.Seconds()}}
		}
		return Decision{}
	}

	// prio(i) > prio(c): a lower-priority arrival.
	if elapsed >= a.gracePeriod {
		tx.StartChain(i, now)
		return Decision{Started: true, Info: LastBlockInfo{Tag: TagCompleted, Chain: c, Seconds: elapsed.Seconds()}}
	}
	return Decision{}
}

// decideFIFO implements §4.5's FIFO-mode table.
func (a *Arbiter) decideFIFO(tx *state.Tx, snap state.Snapshot, i, c chain.Index, now time.Time) Decision {
	elapsed := a.elapsedSince(snap, c, now)
	if i != c {
		if elapsed >= a.gracePeriod && tx.Get(i).Queued() {
			tx.StartChain(i, now)
			return Decision{Started: true, Info: LastBlockInfo{Tag: TagCompleted, Chain: c, Seconds: elapsed.Seconds()}}
		}
		return Decision{}
	}
	if !a.anyOtherQueued(snap, i) {
		tx.StartChain(i, now)
		return Decision{Started: true, Info: LastBlockInfo{Tag: TagSuperseded, Chain: i, Seconds: elapsed.Seconds()}}
	}
	return Decision{}
}

// InterruptAndStart applies §4.5.1's requeue semantics to the outgoing
// chain and then starts the incoming one. Shared by the event-driven
// decision table and the queue sweeper, whose "+1, grace not yet
// elapsed, interrupt_lower_priority_blocks" action is identical.
func (a *Arbiter) InterruptAndStart(tx *state.Tx, outgoing, incoming chain.Index, now time.Time, elapsed time.Duration) LastBlockInfo {
	desc := a.reg.Get(outgoing)
	requeued, n := tx.Requeue(outgoing, desc.RequeueInterrupted, desc.MaximumRequeueTimes)
	tx.StartChain(incoming, now)
	if requeued {
		a.metrics.ObserveRequeue(desc.Name)
		return LastBlockInfo{Tag: TagRequeued, Chain: outgoing, Seconds: elapsed.Seconds(), RequeueN: n, RequeueMax: desc.MaximumRequeueTimes}
	}
	return LastBlockInfo{Tag: TagInterrupted, Chain: outgoing, Seconds: elapsed.Seconds()}
}

// Registry exposes the chain registry the arbiter was built with, for
// collaborators (the sweeper) that need priority lookups without
// depending on construction details twice.
func (a *Arbiter) Registry() *chain.Registry { return a.reg }

// Store exposes the shared store for the same reason.
func (a *Arbiter) Store() *state.Store { return a.store }

func (a *Arbiter) PriorityMode() bool               { return a.priorityMode }
func (a *Arbiter) InterruptLowerPriority() bool      { return a.interruptLowerPriority }
func (a *Arbiter) GracePeriod() time.Duration        { return a.gracePeriod }
func (a *Arbiter) Now() time.Time                    { return a.now() }

// SetNowForTest overrides the clock. Exported only for deterministic
// tests in other packages (e.g. sweeper) that need to advance time
// without sleeping.
func (a *Arbiter) SetNowForTest(now func() time.Time) { a.now = now }
func (a *Arbiter) ElapsedSince(snap state.Snapshot, idx chain.Index, now time.Time) time.Duration {
	return a.elapsedSince(snap, idx, now)
}

// Narrate logs a transition. Exported so the sweeper can reuse the same
// presentation for the transitions it triggers.
func (a *Arbiter) Narrate(info LastBlockInfo) { a.narrate(info) }

func (a *Arbiter) narrate(info LastBlockInfo) {
	desc := a.reg.Get(info.Chain)
	switch info.Tag {
	case TagRequeued:
		a.log.Info("block requeued", "chain", desc.Name, "color", log.ChainColor(desc.Color), "times", info.RequeueN, "max", info.RequeueMax, "seconds", info.Seconds)
	case TagInterrupted:
		a.log.Info("block interrupted", "chain", desc.Name, "color", log.ChainColor(desc.Color), "seconds", info.Seconds)
	case TagSuperseded:
		a.log.Info("block superseded", "chain", desc.Name, "color", log.ChainColor(desc.Color))
	default:
		a.log.Info("block completed", "chain", desc.Name, "color", log.ChainColor(desc.Color), "seconds", info.Seconds)
	}
}
