package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pocnet/arbiter/chain"
)

func TestRegistry_SetCurrentMarksExactlyOneChain(t *testing.T) {
	r := New()
	entries := []struct {
		Index chain.Index
		Desc  chain.Descriptor
	}{
		{Index: 0, Desc: chain.Descriptor{Name: "pool-a"}},
		{Index: 1, Desc: chain.Descriptor{Name: "pool-b"}},
	}
	r.SetCurrent(entries, 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, `pocarbiter_current_chain{chain="pool-b"} 1`)
	assert.Contains(t, body, `pocarbiter_current_chain{chain="pool-a"} 0`)
}

func TestRegistry_ObserveSubmissionIncrementsCounter(t *testing.T) {
	r := New()
	r.ObserveSubmission("pool-a", "accepted")
	r.ObserveSubmission("pool-a", "accepted")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	assert.Contains(t, w.Body.String(), `pocarbiter_submissions_total{chain="pool-a",outcome="accepted"} 2`)
}
