package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridmem/mcp-memory/internal/logging"
)

// ErrTooManyJobs is returned when the pending-job ceiling is reached.
// Callers degrade to synchronous execution rather than queueing further.
var ErrTooManyJobs = errors.New("too many pending jobs")

// Job statuses carried on the completion channel.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Result is the terminal outcome of an async job. It is the JSON payload of
// ChannelJobComplete messages.
type Result struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	MemoryID string `json:"memoryId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Jobs tracks pending async jobs and resolves each exactly once: by a
// completion event, or by the per-job timeout, whichever lands first.
type Jobs struct {
	bus     *Bus
	logger  *slog.Logger
	timeout time.Duration
	maxPend int

	mu      sync.Mutex
	pending map[string]pendingJob
}

// pendingJob pairs a job's result channel with its armed timeout timer.
type pendingJob struct {
	done  chan Result
	timer *time.Timer
}

// JobsOption configures a Jobs registry.
type JobsOption func(*Jobs)

// WithJobTimeout sets the per-job resolution deadline. Default 30s.
func WithJobTimeout(d time.Duration) JobsOption {
	return func(j *Jobs) { j.timeout = d }
}

// WithMaxPending caps concurrently pending jobs. Default 100.
func WithMaxPending(n int) JobsOption {
	return func(j *Jobs) { j.maxPend = n }
}

// WithJobsLogger sets the logger.
func WithJobsLogger(logger *slog.Logger) JobsOption {
	return func(j *Jobs) { j.logger = logger }
}

// NewJobs builds a job registry wired to the bus. It subscribes to the
// completion channel immediately.
func NewJobs(ctx context.Context, b *Bus, opts ...JobsOption) (*Jobs, error) {
	j := &Jobs{
		bus:     b,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
		maxPend: 100,
		pending: make(map[string]pendingJob),
	}
	for _, opt := range opts {
		opt(j)
	}
	if err := b.Subscribe(ctx, ChannelJobComplete, j.onComplete); err != nil {
		return nil, err
	}
	return j, nil
}

// Register enrolls a job and returns a channel that receives exactly one
// Result. The timeout timer is armed here and disarmed when the job
// resolves. When the ceiling is hit it returns ErrTooManyJobs and the
// caller should run the work synchronously instead.
func (j *Jobs) Register(jobID string) (<-chan Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) >= j.maxPend {
		return nil, ErrTooManyJobs
	}

	ch := make(chan Result, 1)
	timer := time.AfterFunc(j.timeout, func() {
		j.resolve(Result{JobID: jobID, Status: StatusTimeout, Error: "job timed out"})
	})
	j.pending[jobID] = pendingJob{done: ch, timer: timer}
	return ch, nil
}

// Complete publishes a job's terminal result on the completion channel. The
// local registry resolves through the same path as remote listeners.
func (j *Jobs) Complete(ctx context.Context, res Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return j.bus.Publish(ctx, ChannelJobComplete, string(payload))
}

// onComplete routes completion events to their pending channel.
func (j *Jobs) onComplete(_, payload string) {
	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		j.logger.Warn("dropping malformed job completion", logging.Err(err))
		return
	}
	j.resolve(res)
}

// resolve delivers a result exactly once; later resolutions for the same job
// (the timeout racing a late completion) are no-ops.
func (j *Jobs) resolve(res Result) {
	j.mu.Lock()
	p, ok := j.pending[res.JobID]
	if ok {
		delete(j.pending, res.JobID)
	}
	j.mu.Unlock()

	if !ok {
		return
	}
	p.timer.Stop()
	p.done <- res
	close(p.done)
}

// Pending reports the number of unresolved jobs.
func (j *Jobs) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}
