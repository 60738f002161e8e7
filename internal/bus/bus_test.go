package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/mcp-memory/internal/hotstore"
)

func newRedisBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	hot, err := hotstore.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hot.Close() })

	b := New(hot)
	t.Cleanup(b.Close)
	return b, mr
}

func TestPublishDeliversOverHotStore(t *testing.T) {
	b, _ := newRedisBus(t)
	ctx := context.Background()

	var got atomic.Value
	require.NoError(t, b.Subscribe(ctx, ChannelCacheInvalidate, func(channel, payload string) {
		got.Store(channel + "|" + payload)
	}))

	require.NoError(t, b.Publish(ctx, ChannelCacheInvalidate, "m1"))

	require.Eventually(t, func() bool {
		v, _ := got.Load().(string)
		return v == ChannelCacheInvalidate+"|m1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalOnlyBusDispatches(t *testing.T) {
	b := New(nil)
	t.Cleanup(b.Close)
	ctx := context.Background()

	var count atomic.Int32
	require.NoError(t, b.Subscribe(ctx, ChannelMemoryProcess, func(_, _ string) {
		count.Add(1)
	}))
	require.NoError(t, b.Subscribe(ctx, ChannelMemoryProcess, func(_, _ string) {
		count.Add(1)
	}))

	require.NoError(t, b.Publish(ctx, ChannelMemoryProcess, "payload"))

	require.Eventually(t, func() bool {
		return count.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPublishFallsBackLocallyWhenDisconnected(t *testing.T) {
	mr := miniredis.RunT(t)
	hot, err := hotstore.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hot.Close() })

	b := New(hot)
	t.Cleanup(b.Close)
	ctx := context.Background()

	var got atomic.Value
	require.NoError(t, b.Subscribe(ctx, ChannelCacheInvalidate, func(_, payload string) {
		got.Store(payload)
	}))

	mr.Close()
	require.Eventually(t, func() bool {
		return !hot.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Publish(ctx, ChannelCacheInvalidate, "m-offline"))

	require.Eventually(t, func() bool {
		v, _ := got.Load().(string)
		return v == "m-offline"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriptionIsChannelScoped(t *testing.T) {
	b := New(nil)
	t.Cleanup(b.Close)
	ctx := context.Background()

	var fired atomic.Bool
	require.NoError(t, b.Subscribe(ctx, ChannelJobComplete, func(_, _ string) {
		fired.Store(true)
	}))

	require.NoError(t, b.Publish(ctx, ChannelCacheInvalidate, "other"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSubscriberHearsEventsAfterHotStoreRecovers(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	hot, err := hotstore.New("redis://" + addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hot.Close() })

	b := New(hot)
	t.Cleanup(b.Close)
	ctx := context.Background()

	// Take the hot store down before anyone subscribes, so the remote
	// subscription cannot attach.
	mr.Close()
	require.Eventually(t, func() bool {
		return !hot.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	var got atomic.Value
	require.NoError(t, b.Subscribe(ctx, ChannelJobComplete, func(_, payload string) {
		got.Store(payload)
	}))

	restarted := miniredis.NewMiniRedis()
	require.NoError(t, restarted.StartAddr(addr))
	t.Cleanup(restarted.Close)
	require.Eventually(t, func() bool {
		return hot.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	// Publishing now goes over the recovered hot store; the handler whose
	// remote subscription never attached must still receive the event.
	require.NoError(t, b.Publish(ctx, ChannelJobComplete, "j-recovered"))
	require.Eventually(t, func() bool {
		v, _ := got.Load().(string)
		return v == "j-recovered"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRemoteSubscriptionReattachesAfterRecovery(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	hot, err := hotstore.New("redis://" + addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hot.Close() })

	b := New(hot)
	t.Cleanup(b.Close)
	ctx := context.Background()

	mr.Close()
	require.Eventually(t, func() bool {
		return !hot.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	var count atomic.Int32
	require.NoError(t, b.Subscribe(ctx, ChannelCacheInvalidate, func(_, _ string) {
		count.Add(1)
	}))

	restarted := miniredis.NewMiniRedis()
	require.NoError(t, restarted.StartAddr(addr))
	t.Cleanup(restarted.Close)
	require.Eventually(t, func() bool {
		return hot.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	// Once the background attach lands, each publish reaches the handler
	// exactly once: the remote path delivers and the local path skips it.
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		regs := b.local[ChannelCacheInvalidate]
		return len(regs) == 1 && regs[0].remote
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, b.Publish(ctx, ChannelCacheInvalidate, "m-after"))
	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}
