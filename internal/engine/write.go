package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hybridmem/mcp-memory/internal/bus"
	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// duplicate-gate parameters: candidates come from a cloud similarity search
// on a prefix of the new content.
const (
	dupCandidates    = 5
	dupProbeLen      = 100
	defaultThreshold = 0.85
)

// AddRequest is a normalized add_memory call.
type AddRequest struct {
	UserID             string
	Input              memory.WriteInput
	Metadata           map[string]any
	Priority           memory.Priority
	Async              bool
	SkipDuplicateCheck bool
}

// AddResult is the outcome of AddMemory. Async acceptance carries a job id;
// synchronous completion carries the stored memories.
type AddResult struct {
	JobID    string
	Accepted int
	Memories []memory.Memory

	// Done receives the job's terminal result on the async path. The write
	// pipeline resolves it exactly once, by completion or by timeout.
	Done <-chan bus.Result
}

// Async reports whether the result is an async acceptance.
func (r AddResult) Async() bool { return r.JobID != "" }

// AddMemory runs the write pipeline: duplicate gate, then either an async
// dispatch with immediate acceptance or a synchronous cloud write. Both
// paths eagerly cache the stored memories at the hot TTL so a read issued
// right after the write finds them.
func (e *Engine) AddMemory(ctx context.Context, req AddRequest) (AddResult, error) {
	if err := req.Input.Validate(); err != nil {
		return AddResult{}, err
	}
	if req.Priority == "" {
		req.Priority = memory.PriorityMedium
	}
	userID := e.userOrDefault(req.UserID)

	if !req.SkipDuplicateCheck {
		if err := e.checkDuplicate(ctx, userID, req.Input.ComparisonText()); err != nil {
			return AddResult{}, err
		}
	}

	if req.Async && e.asyncReady() {
		res, err := e.addAsync(ctx, userID, req)
		if err != bus.ErrTooManyJobs {
			return res, err
		}
		// Pending-job ceiling reached: degrade to synchronous rather than
		// dropping the write.
		e.logger.Warn("async pipeline saturated, writing synchronously",
			logging.Count(e.jobs.Pending()))
	}

	return e.addSync(ctx, userID, req)
}

// addAsync registers a job, hands the cloud write to the worker pool, and
// returns immediately. Pool admission happens inside the spawned goroutine:
// a saturated pool delays the write, never the caller. The pending-job
// ceiling bounds how much work can queue up behind the pool.
func (e *Engine) addAsync(ctx context.Context, userID string, req AddRequest) (AddResult, error) {
	jobID := uuid.NewString()
	done, err := e.jobs.Register(jobID)
	if err != nil {
		return AddResult{}, err
	}

	go func() {
		e.writeSem <- struct{}{}
		defer func() { <-e.writeSem }()

		// The job's own deadline governs the dispatched work; the caller has
		// already been answered.
		jobCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Async.JobTimeout)
		defer cancel()

		stored, err := e.cloud.AddMemory(jobCtx, userID, req.Input, req.Metadata)
		if err != nil {
			e.logger.Warn("async cloud write failed",
				logging.JobID(jobID), logging.Err(err))
			e.completeJob(jobCtx, bus.Result{
				JobID:  jobID,
				Status: bus.StatusFailed,
				Error:  err.Error(),
			})
			return
		}

		e.afterCloudAck(jobCtx, userID, req.Priority, stored, true)

		res := bus.Result{JobID: jobID, Status: bus.StatusCompleted}
		if len(stored) > 0 {
			res.MemoryID = stored[0].ID
		}
		e.completeJob(jobCtx, res)
	}()

	return AddResult{JobID: jobID, Accepted: 1, Done: done}, nil
}

// addSync performs the cloud write in the caller's context.
func (e *Engine) addSync(ctx context.Context, userID string, req AddRequest) (AddResult, error) {
	stored, err := e.cloud.AddMemory(ctx, userID, req.Input, req.Metadata)
	if err != nil {
		return AddResult{}, err
	}
	e.afterCloudAck(ctx, userID, req.Priority, stored, false)
	return AddResult{Accepted: len(stored), Memories: stored}, nil
}

// afterCloudAck runs the post-write cache protocol: eager L1 insertion for
// read-your-writes, process events or pending enqueue per priority, and a
// search-cache flush.
func (e *Engine) afterCloudAck(ctx context.Context, userID string, priority memory.Priority, stored []memory.Memory, async bool) {
	if e.cacheReady() {
		for _, m := range stored {
			if err := e.cache.PutMemory(ctx, m.ID, m, e.cache.L1TTL()); err != nil {
				e.logger.Warn("eager cache insertion failed",
					logging.MemoryID(m.ID), logging.Err(err))
				continue
			}
			if !async {
				continue
			}
			if priority == memory.PriorityHigh {
				e.publishProcess(ctx, m.ID, userID, priority)
			} else {
				e.enqueuePending(m.ID, userID, priority)
			}
		}
		if err := e.cache.InvalidateSearchCache(ctx); err != nil {
			e.logger.Warn("post-write search cache flush failed", logging.Err(err))
		}
	}
}

func (e *Engine) publishProcess(ctx context.Context, id, userID string, priority memory.Priority) {
	if e.bus == nil {
		return
	}
	payload, _ := json.Marshal(processEvent{
		MemoryID: id,
		UserID:   userID,
		Priority: string(priority),
	})
	if err := e.bus.Publish(ctx, bus.ChannelMemoryProcess, string(payload)); err != nil {
		e.logger.Warn("process event publish failed",
			logging.MemoryID(id), logging.Err(err))
	}
}

func (e *Engine) completeJob(ctx context.Context, res bus.Result) {
	if e.jobs == nil {
		return
	}
	if err := e.jobs.Complete(ctx, res); err != nil {
		e.logger.Warn("job completion publish failed",
			logging.JobID(res.JobID), logging.Err(err))
	}
}

// checkDuplicate probes the cloud for near-matches and rejects the write
// when any candidate clears the Jaccard threshold. Cloud failures fail open.
func (e *Engine) checkDuplicate(ctx context.Context, userID, text string) error {
	probe := text
	if len(probe) > dupProbeLen {
		probe = probe[:dupProbeLen]
	}

	candidates, err := e.cloud.Search(ctx, userID, probe, dupCandidates)
	if err != nil {
		e.logger.Debug("duplicate probe failed, allowing write", logging.Err(err))
		return nil
	}

	for _, c := range candidates {
		if sim := memory.Jaccard(text, c.Content); sim >= defaultThreshold {
			return &memory.DuplicateError{ExistingID: c.ID, Similarity: sim}
		}
	}
	return nil
}

// DeleteMemory removes a memory from the cloud store, evicts it from every
// cache tier, and fans the invalidation out to other instances. The cloud
// delete is authoritative: its failure fails the operation.
func (e *Engine) DeleteMemory(ctx context.Context, userID, id string) error {
	if id == "" {
		return &memory.ValidationError{Field: "memory_id", Reason: "must not be empty"}
	}
	userID = e.userOrDefault(userID)

	if err := e.cloud.Delete(ctx, userID, id); err != nil {
		return err
	}

	// Local eviction runs synchronously so a read issued right after the
	// delete misses; the published event covers other instances and is
	// idempotent here.
	if e.cacheReady() {
		if err := e.cache.DeleteMemory(ctx, id); err != nil {
			e.logger.Warn("local eviction failed", logging.MemoryID(id), logging.Err(err))
		}
		if err := e.cache.InvalidateSearchCache(ctx); err != nil {
			e.logger.Warn("post-delete search cache flush failed", logging.Err(err))
		}
	}
	e.removePending(id)

	if e.bus != nil {
		payload, _ := json.Marshal(invalidateEvent{MemoryID: id, Operation: "delete"})
		if err := e.bus.Publish(ctx, bus.ChannelCacheInvalidate, string(payload)); err != nil {
			e.logger.Warn("invalidation publish failed", logging.MemoryID(id), logging.Err(err))
		}
	}
	return nil
}

// WaitJob blocks until the job resolves or the context expires. Used by
// tests and by callers that need confirmation after an async acceptance.
func (e *Engine) WaitJob(ctx context.Context, ch <-chan bus.Result) (bus.Result, error) {
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return bus.Result{}, ctx.Err()
	}
}
