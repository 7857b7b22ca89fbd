package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// Scalar filter predicates for the generic query operations. A filter is
// a map of column to value (equality) or to an operator map such as
// {"$gte": 2}. "$and" and "$or" take lists of sub-filters. Column names
// are checked against a per-table allowlist, so callers cannot reach
// into arbitrary SQL.

var filterColumns = map[string]map[string]bool{
	"memories": {
		"id": true, "context": true, "timestamp": true, "tier": true,
		"retrieval_count": true, "source_method": true, "primary_source": true,
	},
	"observations": {
		"id": true, "session_id": true, "tool_name": true, "timestamp": true,
		"has_error": true, "error_pattern": true,
	},
	"fix_outcomes": {
		"chain_id": true, "error_hash": true, "strategy_id": true,
		"outcome": true, "banned": true, "attempts": true, "confidence": true,
	},
}

var filterOps = map[string]string{
	"$eq":  "=",
	"$ne":  "!=",
	"$lt":  "<",
	"$lte": "<=",
	"$gt":  ">",
	"$gte": ">=",
}

// TranslateFilter converts a filter map into a WHERE fragment and its
// arguments. An empty filter yields an empty clause.
func TranslateFilter(table string, filter map[string]any) (string, []any, error) {
	allowed, ok := filterColumns[table]
	if !ok {
		return "", nil, fmt.Errorf("unknown table %q", table)
	}
	if len(filter) == 0 {
		return "", nil, nil
	}
	return translateNode(allowed, filter, "AND")
}

func translateNode(allowed map[string]bool, filter map[string]any, join string) (string, []any, error) {
	// Deterministic clause order keeps queries cacheable and testable.
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any

	for _, key := range keys {
		value := filter[key]
		switch key {
		case "$and", "$or":
			subJoin := "AND"
			if key == "$or" {
				subJoin = "OR"
			}
			subs, ok := value.([]any)
			if !ok {
				return "", nil, fmt.Errorf("%s requires a list of filters", key)
			}
			var parts []string
			for _, sub := range subs {
				subFilter, ok := sub.(map[string]any)
				if !ok {
					return "", nil, fmt.Errorf("%s entries must be filter objects", key)
				}
				clause, subArgs, err := translateNode(allowed, subFilter, "AND")
				if err != nil {
					return "", nil, err
				}
				parts = append(parts, "("+clause+")")
				args = append(args, subArgs...)
			}
			clauses = append(clauses, "("+strings.Join(parts, " "+subJoin+" ")+")")
		default:
			if !allowed[key] {
				return "", nil, fmt.Errorf("column %q is not filterable", key)
			}
			switch v := value.(type) {
			case map[string]any:
				opKeys := make([]string, 0, len(v))
				for op := range v {
					opKeys = append(opKeys, op)
				}
				sort.Strings(opKeys)
				for _, op := range opKeys {
					sqlOp, ok := filterOps[op]
					if !ok {
						return "", nil, fmt.Errorf("unknown operator %q", op)
					}
					clauses = append(clauses, fmt.Sprintf("%s %s ?", key, sqlOp))
					args = append(args, filterArg(v[op]))
				}
			default:
				clauses = append(clauses, key+" = ?")
				args = append(args, filterArg(value))
			}
		}
	}

	return strings.Join(clauses, " "+join+" "), args, nil
}

// filterArg maps JSON values to SQL arguments; booleans become 0/1 to
// match the integer columns.
func filterArg(v any) any {
	if b, ok := v.(bool); ok {
		return boolToInt(b)
	}
	return v
}

// QueryMemories returns memories matching the filter, newest first.
func (s *Store) QueryMemories(ctx context.Context, filter map[string]any, limit int) ([]types.Memory, error) {
	clause, args, err := TranslateFilter("memories", filter)
	if err != nil {
		return nil, err
	}
	query := selectMemory
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// QueryObservations returns observations matching the filter, newest first.
func (s *Store) QueryObservations(ctx context.Context, filter map[string]any, limit int) ([]types.Observation, error) {
	clause, args, err := TranslateFilter("observations", filter)
	if err != nil {
		return nil, err
	}
	query := selectObservation
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// QueryFixOutcomes returns chains matching the filter, most recently
// updated first.
func (s *Store) QueryFixOutcomes(ctx context.Context, filter map[string]any, limit int) ([]types.FixOutcome, error) {
	clause, args, err := TranslateFilter("fix_outcomes", filter)
	if err != nil {
		return nil, err
	}
	query := selectFixOutcome
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " ORDER BY last_updated DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fix outcomes: %w", err)
	}
	defer rows.Close()
	return collectFixOutcomes(rows)
}
