// Package poller implements the HTTP mining-info poller (C3): one
// logical task per enabled chain that GETs getMiningInfo on an interval,
// detects new blocks, and tracks outages.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pocnet/arbiter/arbiter"
	"github.com/pocnet/arbiter/capacity"
	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/errs"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/mininginfo"
	"github.com/pocnet/arbiter/metrics"
)

const defaultOutageStatusInterval = 300 * time.Second

// Poller runs the HTTP getMiningInfo loop for one chain.
type Poller struct {
	idx  chain.Index
	desc chain.Descriptor
	arb  *arbiter.Arbiter
	cap  *capacity.Tracker
	log  log.Logger
	metrics *metrics.Registry

	client   *http.Client
	interval time.Duration
	limiter  *rate.Limiter

	userAgent string

	lastSeenHeight   uint64
	haveLastSeen     bool
	outageSince      time.Time
	inOutage         bool
	lastOutageNotice time.Time

	outageStatusInterval time.Duration
	now                  func() time.Time
}

func New(idx chain.Index, desc chain.Descriptor, arb *arbiter.Arbiter, cap *capacity.Tracker, logger log.Logger, userAgent string, metricsReg *metrics.Registry) *Poller {
	interval := time.Duration(desc.GetMiningInfoInterval) * time.Second
	if interval < time.Second {
		interval = time.Second
	}
	return &Poller{
		idx:                  idx,
		desc:                 desc,
		arb:                  arb,
		cap:                  cap,
		log:                  logger.With("chain", desc.Name),
		metrics:              metricsReg,
		client:               &http.Client{Timeout: 5 * time.Second},
		interval:             interval,
		limiter:              rate.NewLimiter(rate.Every(time.Second), 1),
		userAgent:            userAgent,
		outageStatusInterval: defaultOutageStatusInterval,
		now:                  time.Now,
	}
}

// Run blocks polling until stop is closed. Each iteration is paced by a
// rate limiter enforcing a 1 s floor between attempts, giving the
// "retries indefinitely with backoff 1s (min interval)" behavior from §5
// without a busy-wait.
func (p *Poller) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := p.limiter.Wait(context.Background()); err != nil {
			return
		}
		ok := p.pollOnce()
		if ok {
			select {
			case <-time.After(p.interval):
			case <-stop:
				return
			}
		}
	}
}

func (p *Poller) pollOnce() bool {
	info, err := p.fetch()
	if err != nil {
		p.onFailure(err)
		return false
	}
	p.onSuccess(info)
	return true
}

func (p *Poller) fetch() (mininginfo.MiningInfo, error) {
	req, err := http.NewRequest(http.MethodGet, p.desc.URL+"/burst?requestType=getMiningInfo", nil)
	if err != nil {
		return mininginfo.MiningInfo{}, errs.UpstreamTransient(p.desc.Name, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	if p.desc.IsHPool {
		req.Header.Set("X-Account", p.desc.AccountKey)
		req.Header.Set("X-MinerName", p.desc.MinerName)
		req.Header.Set("X-Capacity", fmt.Sprintf("%.0f", p.cap.TotalTiB()*1024))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return mininginfo.MiningInfo{}, errs.UpstreamTransient(p.desc.Name, err)
	}
	defer resp.Body.Close()
	var info mininginfo.MiningInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return mininginfo.MiningInfo{}, errs.ProtocolParse(p.desc.Name, err)
	}
	return info, nil
}

func (p *Poller) onSuccess(info mininginfo.MiningInfo) {
	if p.inOutage {
		p.log.Info("outage over", "duration", p.now().Sub(p.outageSince).String())
		p.inOutage = false
		p.metrics.ObserveOutage(p.desc.Name, 0)
	}
	p.metrics.ObserveCapacity(p.cap.TotalTiB())
	isNew := !p.haveLastSeen || mininginfo.IsNewBlock(info.Height, p.lastSeenHeight, p.desc.AllowLowerHeights)
	if isNew {
		p.lastSeenHeight = info.Height
		p.haveLastSeen = true
		p.arb.Handle(p.idx, info)
	}
}

func (p *Poller) onFailure(err error) {
	now := p.now()
	if !p.inOutage {
		p.inOutage = true
		p.outageSince = now
		p.lastOutageNotice = now
		p.log.Warn("mining info request failed", "err", err)
		p.metrics.ObserveOutage(p.desc.Name, 0)
		return
	}
	p.metrics.ObserveOutage(p.desc.Name, now.Sub(p.outageSince).Seconds())
	if now.Sub(p.lastOutageNotice) >= p.outageStatusInterval {
		p.lastOutageNotice = now
		p.log.Warn("mining info still failing", "since", p.outageSince, "err", err)
	}
}
