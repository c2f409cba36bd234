package submit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocnet/arbiter/capacity"
	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/mininginfo"
	"github.com/pocnet/arbiter/state"
)

func newTestEngine(t *testing.T, descs []chain.Descriptor) (*Engine, *chain.Registry, *state.Store) {
	t.Helper()
	reg, err := chain.NewRegistry(descs, false)
	require.NoError(t, err)
	store := state.New(reg.Len(), 16)
	t.Cleanup(store.Close)
	cap := capacity.New(time.Minute, 1)
	logger := log.NewLogger(log.JSONHandler(discard{}))
	e := New(reg, store, cap, logger, "test-agent", false, nil)
	return e, reg, store
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func seedChain(t *testing.T, store *state.Store, idx chain.Index, height, baseTarget uint64) {
	t.Helper()
	store.Transact(func(tx *state.Tx) {
		tx.UpdateLatest(idx, mininginfo.MiningInfo{Height: height, BaseTarget: baseTarget}, time.Now())
		tx.StartChain(idx, time.Now())
	})
}

func TestSubmit_RejectsWhenOverTargetDeadline(t *testing.T) {
	descs := []chain.Descriptor{{
		Name: "pool-a", URL: "http://a", Enabled: true, IsPool: true, TargetDeadline: 100,
	}}
	e, _, store := newTestEngine(t, descs)
	seedChain(t, store, 0, 1000, 10)

	resp := e.Submit(context.Background(), Request{AccountID: 1, Nonce: 1, Deadline: 5000, Adjusted: false})
	assert.Equal(t, "success", resp.Result, "over-target submissions are silently dropped with a synthetic success")
	assert.Equal(t, "500", resp.Deadline, "5000/10 = 500 > target 100; deadline is the decimal string miners expect")
}

func TestSubmit_AcceptsWhenUnderTargetAndUpdatesBest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","deadline":50}`))
	}))
	defer upstream.Close()

	descs := []chain.Descriptor{{
		Name: "solo", URL: upstream.URL, Enabled: true, TargetDeadline: 1000,
		NumericIDToPassphrase: map[uint64]string{1: "secret"},
	}}
	e, _, store := newTestEngine(t, descs)
	seedChain(t, store, 0, 1000, 10)

	_, ok := store.BestDeadline(1000, 1)
	assert.False(t, ok)

	resp := e.Submit(context.Background(), Request{AccountID: 1, Nonce: 1, Deadline: 500, Adjusted: false})
	assert.Equal(t, "success", resp.Result)
	assert.Equal(t, "50", resp.Deadline, "deadline round-trips to the miner as a decimal string")

	best, ok := store.BestDeadline(1000, 1)
	require.True(t, ok)
	assert.EqualValues(t, 50, best) // 500/10
}

func TestBestDeadline_SecondWorseDeadlineForSameAccountIsRejected(t *testing.T) {
	descs := []chain.Descriptor{{
		Name: "solo", URL: "http://solo", Enabled: true, TargetDeadline: 1000,
		NumericIDToPassphrase: map[uint64]string{1: "secret"},
	}}
	_, _, store := newTestEngine(t, descs)
	seedChain(t, store, 0, 1000, 10)

	assert.True(t, store.UpdateBest(1000, 1, 50))
	assert.False(t, store.UpdateBest(1000, 1, 60), "a worse deadline for the same account/height must not replace the stored best")
	assert.True(t, store.UpdateBest(1000, 1, 40), "a strictly better deadline must replace the stored best")
}

func TestSubmit_ZeroBaseTargetFailsLookup(t *testing.T) {
	descs := []chain.Descriptor{{
		Name: "pool-a", URL: "http://a", Enabled: true, IsPool: true,
	}}
	e, _, store := newTestEngine(t, descs)
	seedChain(t, store, 0, 1000, 0)

	resp := e.Submit(context.Background(), Request{AccountID: 1, Nonce: 1, Deadline: 500})
	assert.Equal(t, "failure", resp.Result)
}

func TestEffectiveTargetDeadline_PriorityChain(t *testing.T) {
	descs := []chain.Descriptor{{Name: "a", URL: "http://a", Enabled: true, IsPool: true}}
	e, _, _ := newTestEngine(t, descs)

	desc := chain.Descriptor{
		TargetDeadline:           100,
		PerAccountTargetDeadline: map[uint64]uint64{7: 42},
	}
	assert.EqualValues(t, 42, e.effectiveTargetDeadline(desc, 7, 999, 1000), "per-account override wins")
	assert.EqualValues(t, 100, e.effectiveTargetDeadline(desc, 1, 999, 1000), "chain-level target wins over pool max")

	noOverride := chain.Descriptor{}
	assert.EqualValues(t, 500, e.effectiveTargetDeadline(noOverride, 1, 500, 1000), "pool maximum used when nothing else is set")

	assert.Equal(t, uint64(1<<64-1), e.effectiveTargetDeadline(chain.Descriptor{}, 1, 0, 1000), "falls back to max uint64 with no configured tier")
}

func TestIsUpstreamSuccess_RequiresBothSubstrings(t *testing.T) {
	assert.True(t, isUpstreamSuccess(`{"result":"success","deadline":123}`, 123))
	assert.False(t, isUpstreamSuccess(`{"result":"success","deadline":124}`, 123))
	assert.False(t, isUpstreamSuccess(`{"result":"failure"}`, 123))
}
