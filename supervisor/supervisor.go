// Package supervisor runs the proxy's long-lived tasks (pollers, the
// sweeper, websocket sessions, the miner HTTP server) under one
// errgroup, restarting any task that returns unexpectedly with capped
// exponential backoff.
package supervisor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pocnet/arbiter/log"
)

const (
	minBackoff = time.Second
	maxBackoff = 10 * time.Second
)

// Task is a long-lived unit of work that blocks until stop is closed.
// A task returning before stop closes is treated as a crash and
// restarted.
type Task struct {
	Name string
	Run  func(stop <-chan struct{})
}

// Supervisor owns the stop signal every task shares. Run groups the
// tasks under an errgroup; runWithRestart restarts crashed ones.
type Supervisor struct {
	log  log.Logger
	stop chan struct{}
}

func New(logger log.Logger) *Supervisor {
	return &Supervisor{log: logger, stop: make(chan struct{})}
}

// Run launches every task and blocks until ctx is done, at which point
// it closes the shared stop channel and waits for all tasks to return.
func (s *Supervisor) Run(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			s.runWithRestart(gctx, t)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		close(s.stop)
		return nil
	})
	return g.Wait()
}

// runWithRestart keeps restarting t.Run until ctx is done, doubling the
// backoff on each consecutive crash up to maxBackoff and resetting it
// after a run that survives at least maxBackoff.
func (s *Supervisor) runWithRestart(ctx context.Context, t Task) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		s.runOnce(t)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= maxBackoff {
			backoff = minBackoff
		}
		s.log.Warn("task exited, restarting", "task", t.Name, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Supervisor) runOnce(t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", "task", t.Name, "recover", r)
		}
	}()
	t.Run(s.stop)
}
