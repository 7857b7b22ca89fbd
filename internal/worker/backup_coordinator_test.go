package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockBackupRunner counts backups and can fail on demand.
type mockBackupRunner struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (m *mockBackupRunner) Backup(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	if m.err != nil {
		return "", m.err
	}
	return "/backups/mnemo-test.db", nil
}

func (m *mockBackupRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func TestBackupCoordinator_RunsOnInterval(t *testing.T) {
	runner := &mockBackupRunner{}
	c := NewBackupCoordinator(runner, 10*time.Millisecond)

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
			t.Fatalf("only %d backups before deadline", runner.count())
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

func TestBackupCoordinator_ContinuesAfterFailure(t *testing.T) {
	runner := &mockBackupRunner{err: errors.New("bucket unreachable")}
	c := NewBackupCoordinator(runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	deadline := time.After(2 * time.Second)
	for runner.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("coordinator stopped retrying after failure (%d runs)", runner.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
