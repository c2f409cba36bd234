// Package server implements the miner-facing HTTP surface: getMiningInfo
// and submitNonce, in the Burst/PoC wire shape every downstream miner
// already speaks.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/pocnet/arbiter/capacity"
	"github.com/pocnet/arbiter/errs"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/state"
	"github.com/pocnet/arbiter/submit"
)

// Server wires the store and submission engine to httprouter handlers.
type Server struct {
	store  *state.Store
	engine *submit.Engine
	cap    *capacity.Tracker
	log    log.Logger
}

func New(store *state.Store, engine *submit.Engine, cap *capacity.Tracker, logger log.Logger) *Server {
	return &Server{store: store, engine: engine, cap: cap, log: logger}
}

// Handler builds the routed http.Handler, ready to pass to http.Server.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/burst", s.burst)
	r.POST("/burst", s.burst)
	return r
}

// burst dispatches on requestType the way every Burst-compatible pool
// endpoint does: one path, one query parameter selecting the operation.
func (s *Server) burst(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	switch r.URL.Query().Get("requestType") {
	case "getMiningInfo":
		s.getMiningInfo(w, r)
	case "submitNonce":
		s.submitNonce(w, r)
	default:
		http.Error(w, `{"errorCode":1,"errorDescription":"unknown requestType"}`, http.StatusBadRequest)
	}
}

func (s *Server) getMiningInfo(w http.ResponseWriter, r *http.Request) {
	body := s.store.LastMiningInfoJSON()
	if body == nil {
		http.Error(w, `{"errorCode":5,"errorDescription":"no block yet"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) submitNonce(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID, err := strconv.ParseUint(q.Get("accountId"), 10, 64)
	if err != nil {
		e := errs.MinerRequestInvalid("invalid accountId")
		s.log.Debug("rejecting submitNonce", "err", e)
		s.writeErr(w, e.Msg)
		return
	}
	nonce, err := strconv.ParseUint(q.Get("nonce"), 10, 64)
	if err != nil {
		e := errs.MinerRequestInvalid("invalid nonce")
		s.log.Debug("rejecting submitNonce", "err", e)
		s.writeErr(w, e.Msg)
		return
	}
	var height uint64
	if v := q.Get("blockheight"); v != "" {
		height, _ = strconv.ParseUint(v, 10, 64)
	}

	deadline, adjusted, err := parseDeadlineParams(q)
	if err != nil {
		e := errs.MinerRequestInvalid(err.Error())
		s.log.Debug("rejecting submitNonce", "err", e)
		s.writeErr(w, e.Msg)
		return
	}

	if capGiB := r.Header.Get("X-Capacity"); capGiB != "" {
		if v, err := strconv.ParseFloat(capGiB, 64); err == nil {
			s.cap.Update(r.RemoteAddr, v)
		}
	}

	req := submit.Request{
		Height:     height,
		AccountID:  accountID,
		Nonce:      nonce,
		Deadline:   deadline,
		Adjusted:   adjusted,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Headers: submit.MiningHeaders{
			Capacity:  r.Header.Get("X-Capacity"),
			MinerName: r.Header.Get("X-MinerName"),
			Miner:     r.Header.Get("X-Miner"),
		},
	}

	resp := s.engine.Submit(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parseDeadlineParams reads the single "deadline" param plus the
// explicit "adjusted" presence flag (`&deadline=D[&adjusted]`, §6):
// deadline's meaning — already nonce-score/baseTarget, or the raw
// unadjusted nonce score — is carried by whether "adjusted" was present
// on the query string, never inferred from which parameter name was
// used.
func parseDeadlineParams(q map[string][]string) (deadline uint64, adjusted bool, err error) {
	v, ok := q["deadline"]
	if !ok || len(v) == 0 || v[0] == "" {
		return 0, false, errMissingDeadline
	}
	d, perr := strconv.ParseUint(v[0], 10, 64)
	if perr != nil {
		return 0, false, perr
	}
	_, adjusted = q["adjusted"]
	return d, adjusted, nil
}

var errMissingDeadline = &missingDeadlineError{}

type missingDeadlineError struct{}

func (*missingDeadlineError) Error() string { return "missing deadline" }

func (s *Server) writeErr(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(submit.Response{Result: "failure", Reason: msg})
}
