package compact

import "github.com/mnemo-sh/mnemo/internal/types"

// FlushRequest asks the compaction worker to run a cycle immediately.
// The worker owns all observation mutation; callers never invoke the
// compactor directly.
type FlushRequest struct {
	Reply chan FlushReply
}

// FlushReply carries the result of an on-demand cycle.
type FlushReply struct {
	Stats *types.CompactionStats
	Err   error
}
