// Package submit implements the nonce submission engine (C7): gating by
// target deadline, deduplication against the per-block best, forwarding
// upstream over HTTP or websocket, retry, and the miner-facing response
// envelope.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pocnet/arbiter/capacity"
	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/errs"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/metrics"
	"github.com/pocnet/arbiter/state"
)

const maxRetries = 5

// MiningHeaders carries the miner-supplied headers the HTTP layer
// forwards into the core (§6).
type MiningHeaders struct {
	Capacity   string
	MinerName  string
	Miner      string
}

// Request is the core's contract for a submitNonce call (§6/§4.7).
type Request struct {
	Height     uint64 // 0 == use current chain
	AccountID  uint64
	Nonce      uint64
	Deadline   uint64
	Adjusted   bool // true if Deadline is already nonce-score/baseTarget
	UserAgent  string
	RemoteAddr string
	Headers    MiningHeaders
}

// Response is the JSON envelope returned to the miner. In every success
// response the engine builds itself, Deadline is the decimal string form
// of the adjusted deadline (HDPool and every pool-style upstream reply
// this way; a bare JSON number does not round-trip through some miner
// clients' string-typed parsers). An upstream envelope passed through on
// rejection keeps whatever deadline value the upstream sent.
type Response struct {
	Result   string      `json:"result"`
	Deadline interface{} `json:"deadline,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

func successResponse(adjusted uint64) Response {
	return Response{Result: "success", Deadline: strconv.FormatUint(adjusted, 10)}
}

// WSSubmitter is the subset of the websocket session (C8) the engine
// needs to forward an HDPool submission. Kept as an interface so this
// package doesn't import wsclient's reconnect machinery.
type WSSubmitter interface {
	Submit(ctx context.Context, accountID, height, nonce, unadjustedDeadline uint64) (bool, error)
}

// Engine is the C7 component.
type Engine struct {
	reg   *chain.Registry
	store *state.Store
	cap   *capacity.Tracker
	log   log.Logger

	httpClients map[chain.Index]*http.Client
	ws          map[chain.Index]WSSubmitter
	userAgent   string
	maskIDs     bool
	metrics     *metrics.Registry
}

func New(reg *chain.Registry, store *state.Store, cap *capacity.Tracker, logger log.Logger, userAgent string, maskIDs bool, metricsReg *metrics.Registry) *Engine {
	e := &Engine{
		reg:         reg,
		store:       store,
		cap:         cap,
		log:         logger,
		httpClients: make(map[chain.Index]*http.Client),
		ws:          make(map[chain.Index]WSSubmitter),
		userAgent:   userAgent,
		maskIDs:     maskIDs,
		metrics:     metricsReg,
	}
	for _, entry := range reg.Enumerate() {
		e.httpClients[entry.Index] = &http.Client{Timeout: 10 * time.Second}
	}
	return e
}

// RegisterWS wires the websocket session for an is_hdpool chain.
func (e *Engine) RegisterWS(idx chain.Index, s WSSubmitter) { e.ws[idx] = s }

// Submit runs the full §4.7 algorithm.
func (e *Engine) Submit(ctx context.Context, req Request) Response {
	idx, ok := e.resolveChain(req.Height)
	if !ok {
		lookupErr := errs.InternalLookupMiss(req.Height)
		e.log.Debug("nonce submission rejected", "err", lookupErr)
		return Response{Result: "failure", Reason: lookupErr.Msg}
	}
	desc := e.reg.Get(idx)
	cs := e.store.Get(idx)
	baseTarget := cs.Latest.BaseTarget
	if baseTarget == 0 {
		lookupErr := errs.InternalLookupMiss(req.Height)
		e.log.Debug("nonce submission rejected", "chain", desc.Name, "err", lookupErr)
		return Response{Result: "failure", Reason: lookupErr.Msg}
	}

	adjusted, unadjusted := e.computeDeadlines(req, baseTarget)
	target := e.effectiveTargetDeadline(desc, req.AccountID, cs.Latest.TargetDeadline, baseTarget)

	if adjusted > target {
		e.metrics.ObserveSubmission(desc.Name, "dropped_over_target")
		return successResponse(adjusted)
	}

	height := cs.Latest.Height
	if !e.store.UpdateBest(height, req.AccountID, adjusted) {
		e.metrics.ObserveSubmission(desc.Name, "dropped_stale")
		return successResponse(adjusted)
	}

	e.log.Info("nonce accepted", "chain", desc.Name, "height", height,
		"account", log.MaskAccountID(req.AccountID, e.maskIDs), "deadline", adjusted)

	ok, body, err := e.forward(ctx, idx, desc, height, req.AccountID, req.Nonce, unadjusted, adjusted)
	if err != nil {
		e.log.Warn("nonce forward failed", "chain", desc.Name, "err", err)
		e.metrics.ObserveSubmission(desc.Name, "forward_failed")
		return Response{Result: "failure", Reason: fmt.Sprintf("Unknown - Upstream returned: %v", err)}
	}
	if ok {
		e.metrics.ObserveSubmission(desc.Name, "accepted")
		return successResponse(adjusted)
	}
	if env, ok := parseUpstreamEnvelope(body); ok {
		e.log.Debug("upstream rejected nonce", "err", errs.UpstreamReject(desc.Name, height, body))
		e.metrics.ObserveSubmission(desc.Name, "rejected")
		return env
	}
	e.metrics.ObserveSubmission(desc.Name, "rejected")
	return Response{Result: "failure", Reason: fmt.Sprintf("Unknown - Upstream returned: %s", body)}
}

// resolveChain implements §4.7 step 1 by scanning every chain's latest
// height in one store snapshot; the registry is not consulted here.
func (e *Engine) resolveChain(height uint64) (chain.Index, bool) {
	snap := e.store.Snapshot()
	if height == 0 {
		return snap.Current, true
	}
	for idx, cs := range snap.Chains {
		if !cs.HasLatest {
			continue
		}
		if cs.Latest.Height == height || cs.Latest.Height == height-1 {
			return chain.Index(idx), true
		}
	}
	return snap.Current, true
}

func (e *Engine) computeDeadlines(req Request, baseTarget uint64) (adjusted, unadjusted uint64) {
	if req.Adjusted {
		adjusted = req.Deadline
		unadjusted = adjusted * baseTarget
		return
	}
	unadjusted = req.Deadline
	if baseTarget != 0 {
		adjusted = unadjusted / baseTarget
	}
	return
}

// effectiveTargetDeadline implements §4.7 step 4's priority chain.
func (e *Engine) effectiveTargetDeadline(desc chain.Descriptor, accountID, poolMax, baseTarget uint64) uint64 {
	if v, ok := desc.PerAccountTargetDeadline[accountID]; ok {
		return v
	}
	if desc.TargetDeadline != 0 {
		return desc.TargetDeadline
	}
	if desc.UseDynamicDeadlines {
		capTiB := e.cap.TotalTiB()
		if capTiB > 0 {
			nd := NetDiff(baseTarget, DefaultBlockTimeSecs)
			if dyn := DynamicDeadline(nd, capTiB); dyn > 0 {
				return dyn
			}
		}
	}
	if poolMax != 0 {
		return poolMax
	}
	return math.MaxUint64
}

func (e *Engine) forward(ctx context.Context, idx chain.Index, desc chain.Descriptor, height, accountID, nonce, unadjusted, adjusted uint64) (ok bool, body string, err error) {
	if desc.IsHDPool && desc.AccountKey != "" {
		if ws, has := e.ws[idx]; has {
			success, wsErr := ws.Submit(ctx, accountID, height, nonce, unadjusted)
			return success, "", wsErr
		}
	}

	var url string
	if desc.IsSolo() {
		pp, has := desc.NumericIDToPassphrase[accountID]
		if !has {
			return false, "", &errs.E{Kind: errs.KindInternalLookupMiss, Chain: desc.Name, Account: accountID, Msg: "no passphrase configured for account"}
		}
		url = fmt.Sprintf("%s/burst?requestType=submitNonce&accountId=%d&nonce=%d&secretPhrase=%s",
			desc.URL, accountID, nonce, pp)
	} else {
		url = fmt.Sprintf("%s/burst?requestType=submitNonce&blockheight=%d&accountId=%d&nonce=%d&deadline=%d",
			desc.URL, height, accountID, nonce, unadjusted)
	}

	client := e.httpClients[idx]
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		e.log.Debug("submitting nonce upstream", "chain", desc.Name, "attempt", attempt)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return false, "", reqErr
		}
		req.Header.Set("User-Agent", e.userAgent)
		resp, doErr := client.Do(req)
		if doErr != nil {
			lastErr = doErr
			continue
		}
		b, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		bodyStr := string(b)
		if isUpstreamSuccess(bodyStr, adjusted) {
			return true, bodyStr, nil
		}
		return false, bodyStr, nil
	}
	return false, "", lastErr
}

// isUpstreamSuccess implements the fragile-by-design substring match
// documented as an Open Question: the body must contain "success" and
// the literal decimal adjusted-deadline value.
func isUpstreamSuccess(body string, adjusted uint64) bool {
	return strings.Contains(body, "success") && strings.Contains(body, strconv.FormatUint(adjusted, 10))
}

// parseUpstreamEnvelope tries to decode a known success/failure envelope
// from the upstream body so rejections can be passed through verbatim.
func parseUpstreamEnvelope(body string) (Response, bool) {
	var env Response
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Response{}, false
	}
	if env.Result == "" {
		return Response{}, false
	}
	return env, true
}
