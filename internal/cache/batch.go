package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// batchChunkSize bounds how many keys a single pipeline touches.
const batchChunkSize = 10

// BatchGet fetches the given ids in chunks of ten, chunks in parallel.
// Missing and undecodable entries are skipped; input order is preserved for
// the ids that resolve. Access counters are not touched: batch reads are
// plumbing (hydration, sync sweeps), not user-facing accesses.
func (m *Manager) BatchGet(ctx context.Context, ids []string) ([]memory.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	found := make([]*memory.Memory, len(ids))
	g, gctx := errgroup.WithContext(opCtx)
	for chunkIdx, chunk := range lo.Chunk(ids, batchChunkSize) {
		offset := chunkIdx * batchChunkSize
		chunk := chunk
		g.Go(func() error {
			for i, id := range chunk {
				raw, ok, err := m.hot.Get(gctx, memoryKey(id))
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				var mem memory.Memory
				if err := json.Unmarshal([]byte(raw), &mem); err != nil {
					m.logger.Debug("skipping undecodable cached memory",
						logging.MemoryID(id), logging.Err(err))
					continue
				}
				found[offset+i] = &mem
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, timeoutErr(err)
	}

	results := make([]memory.Memory, 0, len(ids))
	for _, mem := range found {
		if mem != nil {
			results = append(results, *mem)
		}
	}
	return results, nil
}

// BatchSet writes many memories at a shared TTL, in chunks of ten. A zero
// ttl places each memory by its own access count. Errors are accumulated so
// a single bad entry does not abort the rest of the batch.
func (m *Manager) BatchSet(ctx context.Context, memories []memory.Memory, ttl time.Duration) error {
	var errs error
	for _, chunk := range lo.Chunk(memories, batchChunkSize) {
		for _, mem := range chunk {
			if mem.ID == "" {
				continue
			}
			if err := m.PutMemory(ctx, mem.ID, mem, ttl); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// deleteChunked issues DELs in bounded chunks.
func (m *Manager) deleteChunked(ctx context.Context, keys []string) error {
	var errs error
	for _, chunk := range lo.Chunk(keys, batchChunkSize) {
		if err := m.hot.Del(ctx, chunk...); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
