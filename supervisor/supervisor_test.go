package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pocnet/arbiter/log"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() log.Logger { return log.NewLogger(log.JSONHandler(discard{})) }

func TestRun_StopsAllTasksWhenContextCancelled(t *testing.T) {
	var started int32
	task := Task{Name: "noop", Run: func(stop <-chan struct{}) {
		atomic.AddInt32(&started, 1)
		<-stop
	}}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(testLogger())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, []Task{task}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop within timeout")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&started))
}

func TestRunWithRestart_RestartsATaskThatReturnsEarly(t *testing.T) {
	var calls int32
	task := Task{Name: "flaky", Run: func(stop <-chan struct{}) {
		atomic.AddInt32(&calls, 1)
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	s := New(testLogger())
	s.runWithRestart(ctx, task)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2), "a task returning immediately should be restarted at least once before ctx expires")
}
