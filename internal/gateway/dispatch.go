package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mnemo-sh/mnemo/internal/memory"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// request is one line of the wire protocol.
type request struct {
	Method     string          `json:"method"`
	Collection string          `json:"collection,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// response is the reply line. Exactly one of Result and Error is set.
type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type searchParams struct {
	Query       string  `json:"query"`
	TopK        int     `json:"top_k,omitempty"`
	Mode        string  `json:"mode,omitempty"`
	MaxDistance float64 `json:"max_distance,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

type queryParams struct {
	Filter map[string]any `json:"filter"`
	Limit  int            `json:"limit,omitempty"`
}

type fixParams struct {
	Error    string `json:"error"`
	Strategy string `json:"strategy,omitempty"`
	Success  bool   `json:"success,omitempty"`
}

type maintenanceParams struct {
	Task string `json:"task"`
}

// dispatch routes one request to the service layer.
func (s *Server) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case "ping":
		return "pong", nil

	case "search":
		var p searchParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		mode, err := parseMode(p.Mode)
		if err != nil {
			return nil, err
		}
		return s.svc.Search(ctx, p.Query, search.Options{
			TopK:        p.TopK,
			Mode:        mode,
			MaxDistance: p.MaxDistance,
		})

	case "remember":
		var p memory.RememberRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.Remember(ctx, p)

	case "auto_remember":
		var event types.CaptureEvent
		if err := decodeParams(req.Params, &event); err != nil {
			return nil, err
		}
		if err := s.svc.AutoRemember(ctx, event); err != nil {
			return nil, err
		}
		return map[string]any{"queued": true}, nil

	case "get":
		var p idParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.Get(ctx, p.ID)

	case "delete":
		var p idParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.svc.Delete(ctx, p.ID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": p.ID}, nil

	case "count":
		n, err := s.svc.Count(ctx, req.Collection)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil

	case "query":
		var p queryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.Query(ctx, req.Collection, p.Filter, p.Limit)

	case "upsert":
		if len(req.Params) == 0 {
			return nil, fmt.Errorf("upsert requires params")
		}
		return s.svc.Upsert(ctx, req.Collection, req.Params)

	case "save_page":
		var page types.WebPage
		if err := decodeParams(req.Params, &page); err != nil {
			return nil, err
		}
		if err := s.svc.SaveWebPage(ctx, page); err != nil {
			return nil, err
		}
		return map[string]any{"saved": page.URL}, nil

	case "flush_queue":
		return s.svc.FlushQueue(ctx)

	case "backup":
		path, err := s.svc.Backup(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": path}, nil

	case "fix_attempt":
		var p fixParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.RecordFixAttempt(ctx, p.Error, p.Strategy)

	case "fix_outcome":
		var p fixParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.RecordFixOutcome(ctx, p.Error, p.Strategy, p.Success)

	case "fix_history":
		var p fixParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.FixHistory(ctx, p.Error)

	case "health":
		return s.svc.Health(ctx)

	case "maintenance":
		var p maintenanceParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.Maintenance(ctx, p.Task)

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("params required")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// parseMode maps the wire mode names to router modes. Empty means
// automatic routing.
func parseMode(mode string) (search.Mode, error) {
	switch mode {
	case "", "auto":
		return search.ModeAuto, nil
	case "tag":
		return search.ModeTag, nil
	case "keyword":
		return search.ModeKeyword, nil
	case "semantic":
		return search.ModeSemantic, nil
	case "hybrid":
		return search.ModeHybrid, nil
	default:
		return search.ModeAuto, fmt.Errorf("unknown search mode %q", mode)
	}
}
