package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// mockRunner counts cycles and can fail on demand.
type mockRunner struct {
	mu     sync.Mutex
	cycles int
	err    error
}

func (m *mockRunner) Compact(_ context.Context) (*types.CompactionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	if m.err != nil {
		return nil, m.err
	}
	return &types.CompactionStats{Drained: m.cycles}, nil
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

func TestCompactionCoordinator_TimedCycles(t *testing.T) {
	runner := &mockRunner{}
	flush := make(chan compact.FlushRequest)
	c := NewCompactionCoordinator(runner, 10*time.Millisecond, flush, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runner.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles before deadline", runner.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop on cancel")
	}
}

func TestCompactionCoordinator_FlushRequest(t *testing.T) {
	runner := &mockRunner{}
	flush := make(chan compact.FlushRequest)
	// Interval far beyond the test duration: only flushes drive cycles
	c := NewCompactionCoordinator(runner, time.Hour, flush, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	req := compact.FlushRequest{Reply: make(chan compact.FlushReply, 1)}
	select {
	case flush <- req:
	case <-time.After(time.Second):
		t.Fatal("flush send blocked")
	}

	select {
	case reply := <-req.Reply:
		if reply.Err != nil || reply.Stats == nil || reply.Stats.Drained != 1 {
			t.Errorf("reply = %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("no flush reply")
	}
}

func TestCompactionCoordinator_FlushError(t *testing.T) {
	runner := &mockRunner{err: errors.New("disk full")}
	flush := make(chan compact.FlushRequest)
	c := NewCompactionCoordinator(runner, time.Hour, flush, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	req := compact.FlushRequest{Reply: make(chan compact.FlushReply, 1)}
	flush <- req

	select {
	case reply := <-req.Reply:
		if reply.Err == nil {
			t.Error("cycle error not propagated to flush caller")
		}
	case <-time.After(time.Second):
		t.Fatal("no flush reply")
	}
}

func TestCompactionCoordinator_OnCycleHook(t *testing.T) {
	runner := &mockRunner{}
	flush := make(chan compact.FlushRequest)

	var mu sync.Mutex
	var seen []*types.CompactionStats
	hook := func(_ time.Time, stats *types.CompactionStats) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, stats)
	}
	c := NewCompactionCoordinator(runner, time.Hour, flush, hook)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	req := compact.FlushRequest{Reply: make(chan compact.FlushReply, 1)}
	flush <- req
	<-req.Reply

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Errorf("hook calls = %d, want 1", len(seen))
	}
}
