package bus

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalJobs(t *testing.T, opts ...JobsOption) *Jobs {
	t.Helper()
	b := New(nil)
	t.Cleanup(b.Close)

	j, err := NewJobs(context.Background(), b, opts...)
	require.NoError(t, err)
	return j
}

func TestJobCompletesThroughBus(t *testing.T) {
	j := newLocalJobs(t)

	ch, err := j.Register("job-1")
	require.NoError(t, err)
	require.NoError(t, j.Complete(context.Background(), Result{
		JobID:    "job-1",
		Status:   StatusCompleted,
		MemoryID: "m1",
	}))

	select {
	case res := <-ch:
		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, "m1", res.MemoryID)
	case <-time.After(2 * time.Second):
		t.Fatal("job never resolved")
	}
	assert.Zero(t, j.Pending())
}

func TestJobTimesOut(t *testing.T) {
	j := newLocalJobs(t, WithJobTimeout(50*time.Millisecond))

	ch, err := j.Register("job-slow")
	require.NoError(t, err)

	select {
	case res := <-ch:
		assert.Equal(t, StatusTimeout, res.Status)
		assert.NotEmpty(t, res.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestJobResolvesExactlyOnce(t *testing.T) {
	j := newLocalJobs(t, WithJobTimeout(50*time.Millisecond))

	ch, err := j.Register("job-racy")
	require.NoError(t, err)
	require.NoError(t, j.Complete(context.Background(), Result{JobID: "job-racy", Status: StatusCompleted}))

	res, ok := <-ch
	require.True(t, ok)
	first := res.Status

	// After the first resolution the channel is closed; the losing side of
	// the race must not deliver a second result.
	time.Sleep(100 * time.Millisecond)
	_, ok = <-ch
	assert.False(t, ok)
	assert.Equal(t, StatusCompleted, first)
}

func TestJobFailure(t *testing.T) {
	j := newLocalJobs(t)

	ch, err := j.Register("job-err")
	require.NoError(t, err)
	require.NoError(t, j.Complete(context.Background(), Result{
		JobID:  "job-err",
		Status: StatusFailed,
		Error:  "cloud rejected the write",
	}))

	res := <-ch
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "cloud rejected the write", res.Error)
}

func TestRegisterEnforcesCeiling(t *testing.T) {
	j := newLocalJobs(t, WithMaxPending(2), WithJobTimeout(time.Minute))

	_, err := j.Register("j1")
	require.NoError(t, err)
	_, err = j.Register("j2")
	require.NoError(t, err)

	_, err = j.Register("j3")
	assert.ErrorIs(t, err, ErrTooManyJobs)
	assert.Equal(t, 2, j.Pending())
}

func TestUnknownCompletionIsIgnored(t *testing.T) {
	j := newLocalJobs(t)

	require.NoError(t, j.Complete(context.Background(), Result{JobID: "never-registered", Status: StatusCompleted}))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, j.Pending())
}

func TestResolvedJobsLeaveNoTimersRunning(t *testing.T) {
	j := newLocalJobs(t, WithJobTimeout(time.Minute))
	ctx := context.Background()
	baseline := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("job-%d", i)
		ch, err := j.Register(id)
		require.NoError(t, err)
		require.NoError(t, j.Complete(ctx, Result{JobID: id, Status: StatusCompleted}))

		res := <-ch
		assert.Equal(t, StatusCompleted, res.Status)
	}
	assert.Zero(t, j.Pending())

	// Each resolution disarms its timeout timer, so nothing remains parked
	// waiting out the full minute.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, 2*time.Second, 20*time.Millisecond)
}
