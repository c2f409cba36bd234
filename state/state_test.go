package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/mininginfo"
)

func TestStore_StartChainSetsCurrentAndCachesJSON(t *testing.T) {
	s := New(2, 8)
	defer s.Close()

	now := time.Now()
	s.Transact(func(tx *Tx) {
		tx.UpdateLatest(0, mininginfo.MiningInfo{Height: 10, BaseTarget: 5}, now)
		tx.StartChain(0, now)
	})

	snap := s.Snapshot()
	assert.Equal(t, chain.Index(0), snap.Current)
	assert.True(t, snap.Started)
	assert.NotNil(t, s.LastMiningInfoJSON())
}

func TestStore_UpdateBest_MonotonicNonIncreasing(t *testing.T) {
	s := New(1, 8)
	defer s.Close()

	assert.True(t, s.UpdateBest(100, 1, 500))
	assert.False(t, s.UpdateBest(100, 1, 600), "a worse deadline must be rejected")
	assert.True(t, s.UpdateBest(100, 1, 200), "a strictly better deadline must be accepted")

	val, ok := s.BestDeadline(100, 1)
	require.True(t, ok)
	assert.EqualValues(t, 200, val)
}

func TestStore_UpdateBest_IndependentPerAccountAndHeight(t *testing.T) {
	s := New(1, 8)
	defer s.Close()

	assert.True(t, s.UpdateBest(100, 1, 500))
	assert.True(t, s.UpdateBest(100, 2, 500), "different account at same height is independent")
	assert.True(t, s.UpdateBest(101, 1, 500), "different height is independent")
}

func TestTx_RequeueRespectsMaxTimes(t *testing.T) {
	s := New(1, 8)
	defer s.Close()

	now := time.Now()
	s.Transact(func(tx *Tx) {
		tx.UpdateLatest(0, mininginfo.MiningInfo{Height: 10}, now)
		tx.StartChain(0, now)
	})

	var results []bool
	s.Transact(func(tx *Tx) {
		for i := 0; i < 3; i++ {
			requeued, _ := tx.Requeue(0, true, 2)
			results = append(results, requeued)
		}
	})
	assert.Equal(t, []bool{true, true, false}, results, "requeue must stop once maximumRequeueTimes is reached")
}

func TestTx_RequeueBudgetResetsOnNewHeight(t *testing.T) {
	s := New(1, 8)
	defer s.Close()

	now := time.Now()
	s.Transact(func(tx *Tx) {
		tx.UpdateLatest(0, mininginfo.MiningInfo{Height: 10}, now)
		tx.StartChain(0, now)
	})

	s.Transact(func(tx *Tx) {
		requeued, n := tx.Requeue(0, true, 1)
		assert.True(t, requeued)
		assert.Equal(t, 1, n)
		requeued, _ = tx.Requeue(0, true, 1)
		assert.False(t, requeued, "budget for height 10 is exhausted")
	})

	// A new block arrives; the (chain,height) pair is now different, so
	// the budget must not still read as exhausted.
	s.Transact(func(tx *Tx) {
		tx.UpdateLatest(0, mininginfo.MiningInfo{Height: 11}, now)
	})

	s.Transact(func(tx *Tx) {
		requeued, n := tx.Requeue(0, true, 1)
		assert.True(t, requeued, "height 11 has its own fresh requeue budget")
		assert.Equal(t, 1, n)
	})
}

func TestTx_RequeueDeniedWhenNotAllowed(t *testing.T) {
	s := New(1, 8)
	defer s.Close()
	s.Transact(func(tx *Tx) {
		requeued, _ := tx.Requeue(0, false, 5)
		assert.False(t, requeued)
	})
}

func TestChainState_Queued(t *testing.T) {
	cs := ChainState{HasLatest: true, QueuedHeight: 5, Latest: mininginfo.MiningInfo{Height: 6}}
	assert.True(t, cs.Queued())

	cs.QueuedHeight = 6
	assert.False(t, cs.Queued())
}
