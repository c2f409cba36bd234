// Package state implements the chain state store (C4): the single point
// of truth for per-chain mining info, queue bookkeeping, requeue counts,
// best-deadline tracking, and the current chain index.
//
// Per the design notes, this is modeled as a single-owner actor rather
// than a set of independently mutexed maps: every mutation runs on one
// goroutine that drains a command channel, which removes the lock-order
// hazards that come from touching several maps per operation. No network
// I/O ever happens inside the actor loop.
package state

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/mininginfo"
)

// ChainState is a read-only snapshot of one chain's runtime state.
type ChainState struct {
	Latest            mininginfo.MiningInfo
	LatestAt          time.Time
	QueuedHeight      uint64
	QueuedAt          time.Time
	RequeueHeight     uint64
	RequeueCount      int
	BlockStartPrinted uint64
	HasLatest         bool
}

// Queued reports whether this chain currently has backlog: its queued
// marker trails its latest known height (§4.6).
func (c ChainState) Queued() bool {
	return c.HasLatest && c.QueuedHeight < c.Latest.Height
}

// Snapshot is the full, consistent read the arbiter and sweeper act on.
type Snapshot struct {
	Current chain.Index
	Started bool
	Chains  []ChainState
}

type chainRec struct {
	ChainState
}

// Store is the C4 actor. New starts its actor goroutine and Close stops
// it; every exported method is safe to call concurrently and blocks
// until the command has been applied.
type Store struct {
	cmds    chan func(*storeState)
	closeCh chan struct{}
}

type storeState struct {
	current            chain.Index
	started            bool
	chains             []chainRec
	best               *lru.Cache // height -> map[accountID]uint64
	lastMiningInfoJSON []byte
	lastJSONFor        chain.Index
}

// New builds a Store for n chains. bestDeadlineRetention bounds how many
// distinct block heights' best-deadline rows are retained before the
// oldest is evicted (the spec's "implementation may prune by retention
// window" note).
func New(n int, bestDeadlineRetention int) *Store {
	c, _ := lru.New(bestDeadlineRetention)
	s := &Store{
		cmds:    make(chan func(*storeState), 64),
		closeCh: make(chan struct{}),
	}
	state := &storeState{
		chains: make([]chainRec, n),
		best:   c,
	}
	go s.run(state)
	return s
}

func (s *Store) run(st *storeState) {
	for {
		select {
		case fn := <-s.cmds:
			fn(st)
		case <-s.closeCh:
			return
		}
	}
}

func (s *Store) Close() { close(s.closeCh) }

func (s *Store) do(fn func(*storeState)) {
	done := make(chan struct{})
	s.cmds <- func(st *storeState) {
		fn(st)
		close(done)
	}
	<-done
}

// Snapshot returns a consistent read of every chain plus the current
// index. current_chain_index is guaranteed to reference a chain whose
// HasLatest is true, per the store's invariant.
func (s *Store) Snapshot() Snapshot {
	var out Snapshot
	s.do(func(st *storeState) {
		out.Current = st.current
		out.Started = st.started
		out.Chains = make([]ChainState, len(st.chains))
		for i, c := range st.chains {
			out.Chains[i] = c.ChainState
		}
	})
	return out
}

// Get returns the runtime state of a single chain.
func (s *Store) Get(idx chain.Index) ChainState {
	var out ChainState
	s.do(func(st *storeState) { out = st.chains[idx].ChainState })
	return out
}

// LastMiningInfoJSON returns the cached payload for the current chain.
// Miners are served this even after a newer block has arrived for the
// current chain but has not yet been announced via StartChain, which
// keeps miners from switching mid-transition (§6).
func (s *Store) LastMiningInfoJSON() []byte {
	var out []byte
	s.do(func(st *storeState) { out = st.lastMiningInfoJSON })
	return out
}

// UpdateBest applies the best-deadline gate for (height, accountID): it
// accepts the update only if no equal or better value is already recorded,
// guaranteeing the table is monotonically non-increasing per
// (height,account) and that drops never pollute it (§4.7 invariant).
func (s *Store) UpdateBest(height, accountID, adjustedDeadline uint64) (accepted bool) {
	s.do(func(st *storeState) {
		raw, ok := st.best.Get(height)
		var row map[uint64]uint64
		if ok {
			row = raw.(map[uint64]uint64)
		} else {
			row = make(map[uint64]uint64)
		}
		if prev, has := row[accountID]; has && prev <= adjustedDeadline {
			accepted = false
			return
		}
		row[accountID] = adjustedDeadline
		st.best.Add(height, row)
		accepted = true
	})
	return
}

// BestDeadline returns the currently stored best for (height,account),
// and whether one exists.
func (s *Store) BestDeadline(height, accountID uint64) (uint64, bool) {
	var (
		val uint64
		ok  bool
	)
	s.do(func(st *storeState) {
		raw, has := st.best.Get(height)
		if !has {
			return
		}
		row := raw.(map[uint64]uint64)
		val, ok = row[accountID]
	})
	return val, ok
}

// Tx exposes the store's mutation primitives to a caller that must
// observe-then-act atomically, such as the arbiter applying its decision
// table: UpdateLatest, the decision, and the resulting StartChain/Requeue
// all run inside one actor command so no other poller can interleave a
// second UpdateLatest between the read and the write.
type Tx struct {
	st     *storeState
	encode func(mininginfo.MiningInfo) []byte
}

func (tx *Tx) Snapshot() Snapshot {
	out := Snapshot{Current: tx.st.current, Started: tx.st.started, Chains: make([]ChainState, len(tx.st.chains))}
	for i, c := range tx.st.chains {
		out.Chains[i] = c.ChainState
	}
	return out
}

func (tx *Tx) Get(idx chain.Index) ChainState { return tx.st.chains[idx].ChainState }

func (tx *Tx) UpdateLatest(idx chain.Index, info mininginfo.MiningInfo, at time.Time) {
	tx.st.chains[idx].Latest = info
	tx.st.chains[idx].LatestAt = at
	tx.st.chains[idx].HasLatest = true
}

func (tx *Tx) StartChain(idx chain.Index, at time.Time) {
	latest := tx.st.chains[idx].Latest
	tx.st.chains[idx].QueuedHeight = latest.Height
	tx.st.chains[idx].QueuedAt = at
	tx.st.chains[idx].BlockStartPrinted = latest.Height
	tx.st.lastMiningInfoJSON = tx.encode(latest)
	tx.st.lastJSONFor = idx
	tx.st.current = idx
	tx.st.started = true
}

// Requeue applies the §3 (height, times_requeued) budget: the count is
// scoped to the specific height being interrupted, not the chain's
// lifetime, so a chain that gets interrupted once on each of several
// blocks keeps its full budget on every new height.
func (tx *Tx) Requeue(idx chain.Index, allowRequeue bool, maxTimes int) (requeued bool, timesNow int) {
	c := &tx.st.chains[idx]
	height := c.Latest.Height
	if c.RequeueHeight != height {
		c.RequeueHeight = height
		c.RequeueCount = 0
	}
	if allowRequeue && (maxTimes <= 0 || c.RequeueCount < maxTimes) {
		c.QueuedHeight--
		c.RequeueCount++
		return true, c.RequeueCount
	}
	return false, c.RequeueCount
}

// Transact runs fn with exclusive access to the store's state on the
// actor goroutine.
func (s *Store) Transact(fn func(tx *Tx)) {
	s.do(func(st *storeState) {
		fn(&Tx{st: st, encode: encodeMiningInfo})
	})
}

// encodeMiningInfo is the default JSON encoder used by callers of
// StartChain that don't need a custom envelope.
func encodeMiningInfo(info mininginfo.MiningInfo) []byte {
	b, _ := json.Marshal(info)
	return b
}

// EncodeMiningInfo is exported so the server package can reuse the exact
// same encoding the store caches.
var EncodeMiningInfo = encodeMiningInfo
