package memory

import (
	"context"
	"encoding/json"
	"testing"
)

func TestUpsert_MemoryBackfillsEmbedding(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	raw := json.RawMessage(`{
		"id": "import-1",
		"text": "Imported record carried over from the previous store",
		"tags": ["type:decision"],
		"tier": 1
	}`)
	if _, err := svc.Upsert(ctx, "memories", raw); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	m, err := st.GetMemory(ctx, "import-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Embedding) == 0 {
		t.Error("embedding was not backfilled")
	}
	if m.Tier != 1 {
		t.Errorf("tier = %d", m.Tier)
	}

	tags, err := svc.tags.Search(ctx, []string{"type:decision"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0] != "import-1" {
		t.Errorf("tag search = %v", tags)
	}
}

func TestUpsert_MemoryRequiresIDAndText(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Upsert(context.Background(), "memories", json.RawMessage(`{"text": "no id"}`)); err == nil {
		t.Error("expected error without id")
	}
	if _, err := svc.Upsert(context.Background(), "memories", json.RawMessage(`{"id": "x"}`)); err == nil {
		t.Error("expected error without text")
	}
}

func TestUpsert_Observation(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"session_id": "s1", "tool_name": "bash", "content": "imported observation"}`)
	result, err := svc.Upsert(ctx, "observations", raw)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if result == nil {
		t.Fatal("nil result")
	}

	n, err := st.CountObservations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("observations = %d", n)
	}
}

func TestUpsert_FixOutcomeRequiresChainID(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Upsert(context.Background(), "fix_outcomes", json.RawMessage(`{"error_hash": "abcd1234"}`)); err == nil {
		t.Error("expected error without chain_id")
	}
}

func TestUpsert_UnknownCollection(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Upsert(context.Background(), "nonsense", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown collection")
	}
}
