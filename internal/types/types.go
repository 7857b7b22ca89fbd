// Package types defines the record schemas shared across the store,
// the service layer, and the transports.
package types

import "time"

// Memory is a long-lived knowledge record. The ID is derived from the
// content hash, so storing identical text twice is an idempotent upsert.
type Memory struct {
	ID             string     `json:"id"`
	Text           string     `json:"text"`
	Embedding      []byte     `json:"-"`
	Context        string     `json:"context,omitempty"`
	Tags           []string   `json:"tags"`
	Timestamp      time.Time  `json:"timestamp"`
	SessionTime    float64    `json:"session_time,omitempty"`
	Preview        string     `json:"preview"`
	PrimarySource  string     `json:"primary_source,omitempty"`
	RelatedURLs    []string   `json:"related_urls,omitempty"`
	SourceMethod   string     `json:"source_method,omitempty"`
	Tier           int        `json:"tier"`
	RetrievalCount int        `json:"retrieval_count"`
	LastRetrieved  *time.Time `json:"last_retrieved,omitempty"`
}

// Observation is a short-lived record captured from an agent session.
// Observations expire after a TTL unless promoted into memories.
type Observation struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ToolName     string    `json:"tool_name"`
	Content      string    `json:"content"`
	Embedding    []byte    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
	HasError     bool      `json:"has_error"`
	ErrorPattern string    `json:"error_pattern,omitempty"`
}

// FixOutcome tracks one (error, strategy) chain. ChainID is
// hash(normalized error) + "_" + hash(strategy).
type FixOutcome struct {
	ChainID      string    `json:"chain_id"`
	ErrorHash    string    `json:"error_hash"`
	ErrorText    string    `json:"error_text,omitempty"`
	StrategyID   string    `json:"strategy_id"`
	StrategyText string    `json:"strategy_text,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Confidence   float64   `json:"confidence"`
	Attempts     int       `json:"attempts"`
	Successes    int       `json:"successes"`
	Banned       bool      `json:"banned"`
	FirstSeen    time.Time `json:"first_seen"`
	LastUpdated  time.Time `json:"last_updated"`
	Bridged      bool      `json:"bridged,omitempty"`
	Embedding    []byte    `json:"-"`
}

// WebPage is a fetched reference document keyed by URL.
type WebPage struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Embedding []byte    `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
	Domain    string    `json:"domain,omitempty"`
}

// QuarantineRecord holds a record removed from a live table, with the
// original row preserved as JSON so it can be inspected or restored.
type QuarantineRecord struct {
	ID            string    `json:"id"`
	OriginalTable string    `json:"original_table"`
	Payload       string    `json:"payload"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// CaptureEvent is one entry in the capture queue, written by hooks and
// drained into observations during compaction.
type CaptureEvent struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	HasError  bool      `json:"has_error,omitempty"`
}

// SearchResult pairs a record with its retrieval score and the channel
// that produced it.
type SearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
	// Source is "semantic", "keyword", "tag", or "both" after fusion.
	Source string `json:"source"`
}

// RememberStatus reports what happened to a remember request.
type RememberStatus string

const (
	RememberStored  RememberStatus = "stored"
	RememberBlocked RememberStatus = "blocked"
	RememberSoft    RememberStatus = "stored_near_duplicate"
)

// RememberResult is the outcome of a remember operation.
type RememberResult struct {
	Status RememberStatus `json:"status"`
	ID     string         `json:"id,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// FixBucket labels a fix chain during history queries.
type FixBucket string

const (
	FixRecommended FixBucket = "recommended"
	FixBanned      FixBucket = "banned"
	FixPending     FixBucket = "pending"
)

// FixHistoryEntry is one chain in a fix history response, with the
// query-time decayed confidence alongside the stored value.
type FixHistoryEntry struct {
	Chain             FixOutcome `json:"chain"`
	DecayedConfidence float64    `json:"decayed_confidence"`
	Bucket            FixBucket  `json:"bucket"`
}

// FixHistory groups chains for an error into action buckets.
type FixHistory struct {
	Recommended []FixHistoryEntry `json:"recommended"`
	Banned      []FixHistoryEntry `json:"banned"`
	Pending     []FixHistoryEntry `json:"pending"`
	// Observations holds fallback context when no chains match.
	Observations []Observation `json:"observations,omitempty"`
}

// HealthStatus is the service health report.
type HealthStatus struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	MemoryCount    int       `json:"memory_count"`
	ObservationCnt int       `json:"observation_count"`
	FixChainCount  int       `json:"fix_chain_count"`
	QueueDepth     int       `json:"queue_depth"`
	TagIndexSynced bool      `json:"tag_index_synced"`
	LastCompaction time.Time `json:"last_compaction,omitempty"`
}

// CompactionStats summarizes one compaction cycle.
type CompactionStats struct {
	Drained    int `json:"drained"`
	Expired    int `json:"expired"`
	Promoted   int `json:"promoted"`
	CapEvicted int `json:"cap_evicted"`
}
