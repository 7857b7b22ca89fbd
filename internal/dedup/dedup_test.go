package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

type mockProber struct {
	match *store.VectorMatch
	err   error
}

func (m *mockProber) NearestMemory(_ context.Context, _ []float32) (*store.VectorMatch, error) {
	return m.match, m.err
}

func testConfig() config.DedupConfig {
	return config.DedupConfig{HardThreshold: 0.12, SoftThreshold: 0.20, FixThreshold: 0.05}
}

func matchAt(distance float64) *store.VectorMatch {
	return &store.VectorMatch{Memory: types.Memory{ID: "existing"}, Distance: distance}
}

func TestCheck_Thresholds(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		isFix    bool
		want     Outcome
	}{
		{"well below hard", 0.05, false, Blocked},
		{"just below hard", 0.119, false, Blocked},
		{"between hard and soft", 0.15, false, SoftDuplicate},
		{"above soft", 0.30, false, Unique},
		{"fix within strict threshold", 0.04, true, Blocked},
		{"fix between strict and soft", 0.10, true, SoftDuplicate},
		{"fix in soft zone", 0.15, true, SoftDuplicate},
		{"fix above soft", 0.30, true, Unique},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&mockProber{match: matchAt(tt.distance)}, testConfig())
			d := e.Check(context.Background(), []float32{1, 0}, tt.isFix, false)
			if d.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", d.Outcome, tt.want)
			}
			if d.Outcome != Unique && d.Reason() == "" {
				t.Error("non-unique decision must carry a reason")
			}
		})
	}
}

func TestCheck_ForceBypassesThresholds(t *testing.T) {
	e := New(&mockProber{match: matchAt(0.01)}, testConfig())
	d := e.Check(context.Background(), []float32{1, 0}, false, true)
	if d.Outcome != Unique {
		t.Errorf("force check = %s, want unique", d.Outcome)
	}
}

func TestCheck_EmptyStoreAdmits(t *testing.T) {
	e := New(&mockProber{match: nil}, testConfig())
	d := e.Check(context.Background(), []float32{1, 0}, false, false)
	if d.Outcome != Unique {
		t.Errorf("empty store = %s, want unique", d.Outcome)
	}
}

func TestCheck_ProbeErrorFailsOpen(t *testing.T) {
	e := New(&mockProber{err: errors.New("db locked")}, testConfig())
	d := e.Check(context.Background(), []float32{1, 0}, false, false)
	if d.Outcome != Unique {
		t.Errorf("probe error = %s, want fail-open unique", d.Outcome)
	}
}
