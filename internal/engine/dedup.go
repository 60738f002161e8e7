package engine

import (
	"context"
	"sort"

	"go.uber.org/multierr"

	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// DuplicateEntry is one redundant memory within a group.
type DuplicateEntry struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"` // percentage, 0-100
	Content    string  `json:"content"`
}

// DuplicateGroup is a primary memory and the entries judged redundant
// against it.
type DuplicateGroup struct {
	Primary    memory.Memory    `json:"primary"`
	Duplicates []DuplicateEntry `json:"duplicates"`
}

// DedupResult is the outcome of Deduplicate.
type DedupResult struct {
	Groups  []DuplicateGroup `json:"groups"`
	Deleted int              `json:"deleted,omitempty"`
	DryRun  bool             `json:"dryRun"`
}

// Deduplicate scans a user's memories for near-identical pairs by Jaccard
// similarity. The oldest memory of each group is kept as primary. With
// dryRun false all duplicates are deleted; per-memory delete failures are
// accumulated, not aborting.
func (e *Engine) Deduplicate(ctx context.Context, userID string, threshold float64, dryRun bool) (DedupResult, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	userID = e.userOrDefault(userID)

	all, err := e.cloud.ListAll(ctx, userID, 0)
	if err != nil {
		return DedupResult{}, err
	}

	// Oldest first so the earliest memory of each group becomes primary.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].ID < all[j].ID
	})

	res := DedupResult{DryRun: dryRun}
	claimed := make(map[string]struct{}, len(all))

	for i, primary := range all {
		if _, taken := claimed[primary.ID]; taken {
			continue
		}
		var group DuplicateGroup
		for _, candidate := range all[i+1:] {
			if _, taken := claimed[candidate.ID]; taken {
				continue
			}
			sim := memory.Jaccard(primary.Content, candidate.Content)
			if sim < threshold {
				continue
			}
			claimed[candidate.ID] = struct{}{}
			group.Duplicates = append(group.Duplicates, DuplicateEntry{
				ID:         candidate.ID,
				Similarity: sim * 100,
				Content:    candidate.Content,
			})
		}
		if len(group.Duplicates) == 0 {
			continue
		}
		group.Primary = primary
		res.Groups = append(res.Groups, group)
	}

	if dryRun {
		return res, nil
	}

	var errs error
	for _, group := range res.Groups {
		for _, dup := range group.Duplicates {
			if err := e.DeleteMemory(ctx, userID, dup.ID); err != nil {
				e.logger.Warn("duplicate removal failed",
					logging.MemoryID(dup.ID), logging.Err(err))
				errs = multierr.Append(errs, err)
				continue
			}
			res.Deleted++
		}
	}
	return res, errs
}
