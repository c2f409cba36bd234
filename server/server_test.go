package server

import (
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
	"github.com/pocnet/arbiter/submit"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() log.Logger { return log.NewLogger(log.JSONHandler(discard{})) }

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	reg, err := chain.NewRegistry([]chain.Descriptor{{
		Name: "pool-a", URL: "http://pool-a", Enabled: true, IsPool: true,
	}}, false)
	require.NoError(t, err)
	return reg
}

func TestGetMiningInfo_ReturnsServiceUnavailableBeforeFirstBlock(t *testing.T) {
	reg := testRegistry(t)
	store := state.New(reg.Len(), 8)
	defer store.Close()
	cap := capacity.New(time.Minute, 1)
	engine := submit.New(reg, store, cap, testLogger(), "test-agent", false, nil)
	s := New(store, engine, cap, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/burst?requestType=getMiningInfo", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetMiningInfo_ReturnsCachedPayloadAfterABlock(t *testing.T) {
	reg := testRegistry(t)
	store := state.New(reg.Len(), 8)
	defer store.Close()
	store.Transact(func(tx *state.Tx) {
		tx.UpdateLatest(0, mininginfo.MiningInfo{Height: 10, BaseTarget: 5}, time.Now())
		tx.StartChain(0, time.Now())
	})
	cap := capacity.New(time.Minute, 1)
	engine := submit.New(reg, store, cap, testLogger(), "test-agent", false, nil)
	s := New(store, engine, cap, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/burst?requestType=getMiningInfo", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"height":10`)
}

func TestSubmitNonce_InvalidAccountIDIsRejected(t *testing.T) {
	reg, err := chain.NewRegistry([]chain.Descriptor{{
		Name: "pool-a", URL: "http://pool-a", Enabled: true, IsPool: true,
	}}, false)
	require.NoError(t, err)
	store := state.New(reg.Len(), 8)
	defer store.Close()
	cap := capacity.New(time.Minute, 1)
	engine := submit.New(reg, store, cap, testLogger(), "test-agent", false, nil)
	s := New(store, engine, cap, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/burst?requestType=submitNonce&accountId=bad&nonce=1&deadline=1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseDeadlineParams_AdjustedIsAnExplicitFlagNotInferred(t *testing.T) {
	unadjusted, adjusted, err := parseDeadlineParams(map[string][]string{"deadline": {"9000"}})
	require.NoError(t, err)
	assert.EqualValues(t, 9000, unadjusted)
	assert.False(t, adjusted, "deadline without &adjusted carries the raw unadjusted nonce score")

	withFlag, adjusted, err := parseDeadlineParams(map[string][]string{"deadline": {"9000"}, "adjusted": {""}})
	require.NoError(t, err)
	assert.EqualValues(t, 9000, withFlag)
	assert.True(t, adjusted, "&adjusted present means deadline is already nonce-score/baseTarget")

	_, _, err = parseDeadlineParams(map[string][]string{})
	assert.Error(t, err)
}

func TestSubmitNonce_MissingDeadlineIsRejected(t *testing.T) {
	reg, err := chain.NewRegistry([]chain.Descriptor{{
		Name: "pool-a", URL: "http://pool-a", Enabled: true, IsPool: true,
	}}, false)
	require.NoError(t, err)
	store := state.New(reg.Len(), 8)
	defer store.Close()
	cap := capacity.New(time.Minute, 1)
	engine := submit.New(reg, store, cap, testLogger(), "test-agent", false, nil)
	s := New(store, engine, cap, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/burst?requestType=submitNonce&accountId=1&nonce=1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
