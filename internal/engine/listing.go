package engine

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// Listing bounds. A serialized page larger than the response budget has
// each memory's content clipped and marked.
const (
	MaxListLimit      = 500
	responseBudget    = 40000
	truncatedContent  = 100
	truncatedMetaFlag = "_truncated"
)

// ListRequest is a normalized get_all_memories call.
type ListRequest struct {
	UserID      string
	Limit       int
	Offset      int
	PreferCache bool
}

// ListResult is a page of memories with pagination bookkeeping.
type ListResult struct {
	Total     int             `json:"total"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
	Returned  int             `json:"returned"`
	HasMore   bool            `json:"hasMore"`
	Source    string          `json:"source"`
	Truncated bool            `json:"truncated,omitempty"`
	Memories  []memory.Memory `json:"memories"`
}

// ListMemories returns a page of the user's memories, cache-first when
// requested and the cache holds anything, cloud otherwise.
func (e *Engine) ListMemories(ctx context.Context, req ListRequest) (ListResult, error) {
	if req.Limit <= 0 || req.Limit > MaxListLimit {
		req.Limit = MaxListLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	userID := e.userOrDefault(req.UserID)

	var (
		all    []memory.Memory
		source = memory.SourceCloud
	)

	if req.PreferCache && e.cacheReady() {
		cached, err := e.listFromCache(ctx, userID)
		if err != nil {
			e.logger.Warn("cache listing failed, falling through to cloud", logging.Err(err))
		} else if len(cached) > 0 {
			all = cached
			source = memory.SourceHot
		}
	}

	if all == nil {
		cloudAll, err := e.cloud.ListAll(ctx, userID, 0)
		if err != nil {
			return ListResult{}, err
		}
		all = cloudAll
	}

	res := ListResult{
		Total:  len(all),
		Limit:  req.Limit,
		Offset: req.Offset,
		Source: source,
	}

	if req.Offset < len(all) {
		end := req.Offset + req.Limit
		if end > len(all) {
			end = len(all)
		}
		res.Memories = all[req.Offset:end]
	}
	res.Returned = len(res.Memories)
	res.HasMore = req.Offset+res.Returned < res.Total

	res.Memories, res.Truncated = clipOversized(res.Memories)
	return res, nil
}

// listFromCache enumerates cached memory records belonging to the user,
// newest first.
func (e *Engine) listFromCache(ctx context.Context, userID string) ([]memory.Memory, error) {
	ids, err := e.cache.ListMemoryIDs(ctx)
	if err != nil {
		return nil, err
	}
	memories, err := e.cache.BatchGet(ctx, ids)
	if err != nil {
		return nil, err
	}

	filtered := memories[:0]
	for _, m := range memories {
		if userID == "" || m.UserID == "" || m.UserID == userID {
			filtered = append(filtered, m)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt != filtered[j].CreatedAt {
			return filtered[i].CreatedAt > filtered[j].CreatedAt
		}
		return filtered[i].ID < filtered[j].ID
	})
	return filtered, nil
}

// clipOversized enforces the response budget: when the serialized page is
// too large, each memory is cloned with its content clipped and a marker in
// its metadata. Clones keep cached records untouched.
func clipOversized(memories []memory.Memory) ([]memory.Memory, bool) {
	if len(memories) == 0 {
		return memories, false
	}
	raw, err := json.Marshal(memories)
	if err != nil || len(raw) <= responseBudget {
		return memories, false
	}

	clipped := make([]memory.Memory, len(memories))
	for i, m := range memories {
		c := m.Clone()
		if runes := []rune(c.Content); len(runes) > truncatedContent {
			c.Content = string(runes[:truncatedContent])
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, 1)
		}
		c.Metadata[truncatedMetaFlag] = true
		clipped[i] = c
	}
	return clipped, true
}
