package client

import "time"

// SearchMode selects the retrieval channel. ModeAuto lets the daemon's
// query router decide.
type SearchMode string

const (
	ModeAuto     SearchMode = "auto"
	ModeTag      SearchMode = "tag"
	ModeKeyword  SearchMode = "keyword"
	ModeSemantic SearchMode = "semantic"
	ModeHybrid   SearchMode = "hybrid"
)

// Memory is a stored knowledge record as returned by the daemon.
type Memory struct {
	ID             string     `json:"id"`
	Text           string     `json:"text"`
	Context        string     `json:"context,omitempty"`
	Tags           []string   `json:"tags"`
	Timestamp      time.Time  `json:"timestamp"`
	Preview        string     `json:"preview"`
	PrimarySource  string     `json:"primary_source,omitempty"`
	RelatedURLs    []string   `json:"related_urls,omitempty"`
	SourceMethod   string     `json:"source_method,omitempty"`
	Tier           int        `json:"tier"`
	RetrievalCount int        `json:"retrieval_count"`
	LastRetrieved  *time.Time `json:"last_retrieved,omitempty"`
}

// RememberParams holds the write-path request.
type RememberParams struct {
	Text        string   `json:"text"`
	Context     string   `json:"context,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SessionTime float64  `json:"session_time,omitempty"`
	Source      string   `json:"source,omitempty"`
	// Force bypasses duplicate detection. The noise filter still applies.
	Force bool `json:"force,omitempty"`
}

// RememberResult reports what happened to a remember request. Status is
// "stored", "stored_near_duplicate", or "blocked".
type RememberResult struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SearchParams holds retrieval options. Zero values use daemon defaults.
type SearchParams struct {
	Mode        SearchMode `json:"mode,omitempty"`
	TopK        int        `json:"top_k,omitempty"`
	MaxDistance float64    `json:"max_distance,omitempty"`
}

// SearchResult pairs a memory with its retrieval score and the channel
// that produced it.
type SearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// CaptureParams holds one raw observation for the capture queue.
type CaptureParams struct {
	SessionID string `json:"session_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Content   string `json:"content"`
	HasError  bool   `json:"has_error,omitempty"`
}

// WebPage is a fetched reference document keyed by URL.
type WebPage struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Domain  string `json:"domain,omitempty"`
}

// FixChain tracks one (error, strategy) pair across attempts.
type FixChain struct {
	ChainID      string    `json:"chain_id"`
	ErrorHash    string    `json:"error_hash"`
	ErrorText    string    `json:"error_text,omitempty"`
	StrategyText string    `json:"strategy_text,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Confidence   float64   `json:"confidence"`
	Attempts     int       `json:"attempts"`
	Successes    int       `json:"successes"`
	Banned       bool      `json:"banned"`
	FirstSeen    time.Time `json:"first_seen"`
	LastUpdated  time.Time `json:"last_updated"`
}

// FixHistoryEntry is one chain with its query-time decayed confidence.
type FixHistoryEntry struct {
	Chain             FixChain `json:"chain"`
	DecayedConfidence float64  `json:"decayed_confidence"`
	Bucket            string   `json:"bucket"`
}

// FixHistory groups chains for an error into action buckets.
type FixHistory struct {
	Recommended  []FixHistoryEntry `json:"recommended"`
	Banned       []FixHistoryEntry `json:"banned"`
	Pending      []FixHistoryEntry `json:"pending"`
	Observations []map[string]any  `json:"observations,omitempty"`
}

// Health is the daemon health report.
type Health struct {
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

// MaintenanceReport is the result of an administrative task.
type MaintenanceReport struct {
	Task     string `json:"task"`
	Affected int    `json:"affected"`
}
