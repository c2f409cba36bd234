// Package wsclient implements the persistent HDPool websocket session
// (C8): a single long-lived connection per is_hdpool chain that
// subscribes to mining-info pushes, heartbeats the miner's reported
// capacity, and forwards submitNonce calls.
//
// The wire shape is HDPool's own cmd/para envelope, not a generic
// JSON-RPC method/id/params frame: every outbound message is
// {"cmd":"...","para":{...}}, and acknowledgements are untagged — the
// upstream never echoes a correlation id back. A submission is
// considered successful the moment its frame is written to the socket;
// the miner-facing response is synthesized locally from the deadline
// already computed by the submission engine, exactly as the original
// HDPool client does.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pocnet/arbiter/arbiter"
	"github.com/pocnet/arbiter/capacity"
	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/mininginfo"
)

const (
	heartbeatInterval  = 5 * time.Second
	submitPollInterval = 50 * time.Millisecond
	reconnectDelay     = 10 * time.Second

	// hdpoolMinerMark identifies the client build to HDPool. HDPool's
	// own miners send a date-stamped build tag here; there is no
	// protocol meaning beyond "some non-empty client identifier".
	hdpoolMinerMark = "20190327"

	appName    = "Pocarbiter"
	appVersion = "1.0"
)

// outboundFrame is every message this client sends: a command name and
// an arbitrary payload. Para is omitted entirely for the bare
// subscription frames.
type outboundFrame struct {
	Cmd  string      `json:"cmd"`
	Para interface{} `json:"para,omitempty"`
}

// inboundFrame is every message HDPool sends: mining-info pushes and a
// bare heartbeat acknowledgement, both keyed by cmd with the payload (if
// any) under para.
type inboundFrame struct {
	Cmd  string          `json:"cmd"`
	Para json.RawMessage `json:"para"`
}

type heartbeatPara struct {
	AccountKey string  `json:"account_key"`
	MinerName  string  `json:"miner_name"`
	MinerMark  string  `json:"miner_mark"`
	Capacity   float64 `json:"capacity"`
}

type submitNoncePara struct {
	AccountKey string             `json:"account_key"`
	Capacity   float64            `json:"capacity"`
	MinerMark  string             `json:"miner_mark"`
	MinerName  string             `json:"miner_name"`
	Submit     []submitNonceEntry `json:"submit"`
}

type submitNonceEntry struct {
	AccountID uint64 `json:"accountId"`
	Height    uint64 `json:"height"`
	Nonce     uint64 `json:"nonce"`
	Deadline  uint64 `json:"deadline"`
	Ts        int64  `json:"ts"`
}

type submission struct {
	accountID uint64
	height    uint64
	nonce     uint64
	deadline  uint64
	traceID   string
	reply     chan submitResult
}

type submitResult struct {
	ok  bool
	err error
}

// Session owns one websocket connection and survives for the life of
// the process, reconnecting after reconnectDelay on any error.
type Session struct {
	idx  chain.Index
	desc chain.Descriptor
	arb  *arbiter.Arbiter
	cap  *capacity.Tracker
	log  log.Logger

	queue chan submission
}

func New(idx chain.Index, desc chain.Descriptor, arb *arbiter.Arbiter, cap *capacity.Tracker, logger log.Logger) *Session {
	return &Session{
		idx:   idx,
		desc:  desc,
		arb:   arb,
		cap:   cap,
		log:   logger.With("chain", desc.Name),
		queue: make(chan submission, 256),
	}
}

// Submit enqueues a submission and blocks until it has been written to
// the socket (success), the write failed, or ctx is done. Satisfies
// submit.WSSubmitter. deadline is the unadjusted nonce score; HDPool's
// submit_nonce frame carries that, not the adjusted value shown to the
// miner.
func (s *Session) Submit(ctx context.Context, accountID, height, nonce, unadjustedDeadline uint64) (bool, error) {
	traceID := uuid.NewString()
	reply := make(chan submitResult, 1)
	sub := submission{accountID: accountID, height: height, nonce: nonce, deadline: unadjustedDeadline, traceID: traceID, reply: reply}
	s.log.Debug("queuing hdpool submission", "trace", traceID, "account", accountID, "height", height)
	select {
	case s.queue <- sub:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run blocks, maintaining the connection until stop is closed.
func (s *Session) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := s.runOnce(stop); err != nil {
			s.log.Warn("websocket session error", "err", err)
		}
		select {
		case <-time.After(reconnectDelay):
		case <-stop:
			return
		}
	}
}

func (s *Session) runOnce(stop <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(s.desc.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("websocket session established")

	done := make(chan struct{})
	errCh := make(chan error, 1)
	var writeMu sync.Mutex

	go s.readLoop(conn, done, errCh)
	go s.heartbeatLoop(conn, &writeMu, done)
	go s.submitLoop(conn, &writeMu, done)

	select {
	case <-stop:
		close(done)
		return nil
	case err := <-errCh:
		close(done)
		s.failQueued(err)
		return err
	}
}

// subscribe sends the two bare subscription frames HDPool expects on
// connect: one for the chain-level mining_info channel, one for the
// pool-manager channel carrying the same payload.
func (s *Session) subscribe(conn *websocket.Conn) error {
	frames := []outboundFrame{
		{Cmd: "mining_info"},
		{Cmd: "poolmgr.mining_info"},
	}
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}, errCh chan error) {
	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		s.dispatch(f)
		select {
		case <-done:
			return
		default:
		}
	}
}

func (s *Session) dispatch(f inboundFrame) {
	switch {
	case f.Cmd == "poolmgr.heartbeat":
		s.log.Trace("heartbeat acknowledged")
	case f.Cmd == "mining_info" || f.Cmd == "poolmgr.mining_info":
		var info mininginfo.MiningInfo
		if err := json.Unmarshal(f.Para, &info); err != nil {
			s.log.Warn("malformed mining_info frame", "err", err)
			return
		}
		s.arb.Handle(s.idx, info)
	default:
		s.log.Debug("ignoring unknown frame", "cmd", f.Cmd)
	}
}

func (s *Session) heartbeatLoop(conn *websocket.Conn, writeMu *sync.Mutex, done chan struct{}) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			f := outboundFrame{Cmd: "poolmgr.heartbeat", Para: heartbeatPara{
				AccountKey: s.desc.AccountKey,
				MinerName:  s.minerName(),
				MinerMark:  hdpoolMinerMark,
				Capacity:   s.capacityGB(),
			}}
			writeMu.Lock()
			err := conn.WriteJSON(f)
			writeMu.Unlock()
			if err != nil {
				return
			}
			s.log.Trace("heartbeat sent")
		case <-done:
			return
		}
	}
}

// submitLoop drains the submission queue in FIFO order, polling every
// submitPollInterval so a fast succession of nonces doesn't starve the
// heartbeat writer sharing the same connection.
func (s *Session) submitLoop(conn *websocket.Conn, writeMu *sync.Mutex, done chan struct{}) {
	t := time.NewTicker(submitPollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			select {
			case sub := <-s.queue:
				s.sendSubmission(conn, writeMu, sub)
			default:
			}
		case <-done:
			return
		}
	}
}

// sendSubmission writes the batched poolmgr.submit_nonce frame and
// resolves the caller's reply the moment the write itself succeeds or
// fails — HDPool never echoes a correlated reply frame, so the write
// outcome is the only signal there is.
func (s *Session) sendSubmission(conn *websocket.Conn, writeMu *sync.Mutex, sub submission) {
	para := submitNoncePara{
		AccountKey: s.desc.AccountKey,
		Capacity:   s.capacityGB(),
		MinerMark:  hdpoolMinerMark,
		MinerName:  s.minerName(),
		Submit: []submitNonceEntry{{
			AccountID: sub.accountID,
			Height:    sub.height,
			Nonce:     sub.nonce,
			Deadline:  sub.deadline,
			Ts:        time.Now().Unix(),
		}},
	}
	f := outboundFrame{Cmd: "poolmgr.submit_nonce", Para: para}

	writeMu.Lock()
	err := conn.WriteJSON(f)
	writeMu.Unlock()
	if err != nil {
		s.log.Info("hdpool submit_nonce send failed", "trace", sub.traceID, "err", err)
		sub.reply <- submitResult{ok: false, err: err}
		return
	}
	s.log.Info("hdpool submit_nonce sent", "trace", sub.traceID)
	sub.reply <- submitResult{ok: true}
}

// failQueued fails every submission still waiting in the queue when the
// connection drops, so callers blocked in Submit don't wait out their
// context timeout for a frame that will never be sent.
func (s *Session) failQueued(err error) {
	for {
		select {
		case sub := <-s.queue:
			sub.reply <- submitResult{ok: false, err: err}
		default:
			return
		}
	}
}

// minerName matches the "<name> via <app>[ v<version>]" shape HDPool's
// original client reports, falling back to the local hostname when no
// miner_name is configured.
func (s *Session) minerName() string {
	name := s.desc.MinerName
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		} else {
			name = appName
		}
	}
	name = fmt.Sprintf("%s via %s", name, appName)
	if s.desc.AppendVersionToMinerName {
		name = fmt.Sprintf("%s v%s", name, appVersion)
	}
	return name
}

func (s *Session) capacityGB() float64 {
	return s.cap.TotalTiB() * 1024
}
