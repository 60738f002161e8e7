// Package hotstore wraps the low-latency key-value store (Redis protocol)
// behind a narrow interface: string values with TTL, sets, hash fields,
// SCAN-based enumeration, and pub/sub.
//
// Three logically separate connections are held: one for commands, one for
// publishing, and one for subscriptions, because a subscribed connection
// cannot serve commands.
package hotstore

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler receives pub/sub messages.
type Handler func(channel, payload string)

// Client is the hot-store surface consumed by the cache manager and the bus.
type Client interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetWithTTL stores value under key. A zero ttl stores without expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	HashIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Scan is the only permitted enumeration primitive; unbounded keyspace
	// globbing is forbidden at the key counts this store reaches.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (uint64, []string, error)
	// ScanAll drains a SCAN cursor to completion.
	ScanAll(ctx context.Context, match string, count int64) ([]string, error)
	Info(ctx context.Context, section string) (string, error)
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe registers a handler on a channel. The returned function
	// cancels the subscription.
	Subscribe(ctx context.Context, channel string, handler Handler) (func(), error)
	// PatternSubscribe registers a handler on a glob pattern of channels.
	PatternSubscribe(ctx context.Context, pattern string, handler Handler) (func(), error)
	// Pipelined executes the queued commands of fn in a single round trip.
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error
	Ping(ctx context.Context) error
	// Connected reports the health monitor's last observation.
	Connected() bool
	Close() error
}

// Reconnect backoff: exponential, capped at 2s, with up to 200ms of jitter,
// retrying forever.
const (
	reconnectBase   = 100 * time.Millisecond
	reconnectCap    = 2 * time.Second
	reconnectJitter = 200 * time.Millisecond
	probeInterval   = 2 * time.Second
)

// RedisClient implements Client over go-redis.
type RedisClient struct {
	cmd *redis.Client
	pub *redis.Client
	sub *redis.Client

	logger    *slog.Logger
	connected atomic.Bool
	onChange  func(connected bool)

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// RedisOption configures a RedisClient.
type RedisOption func(*RedisClient)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(c *RedisClient) { c.logger = logger }
}

// WithStateChange registers a callback invoked whenever the monitor observes
// a connectivity transition.
func WithStateChange(fn func(connected bool)) RedisOption {
	return func(c *RedisClient) { c.onChange = fn }
}

// New connects to the hot store at url (redis:// form). The client is
// returned even when the initial ping fails; a background monitor keeps
// probing with capped exponential backoff and flips Connected accordingly.
func New(url string, opts ...RedisOption) (*RedisClient, error) {
	baseOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	baseOpts.MinRetryBackoff = 8 * time.Millisecond
	baseOpts.MaxRetryBackoff = reconnectCap
	baseOpts.MaxRetries = 3

	c := &RedisClient{
		cmd:    redis.NewClient(baseOpts),
		pub:    redis.NewClient(baseOpts),
		sub:    redis.NewClient(baseOpts),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.cmd.Ping(pingCtx).Err(); err != nil {
		c.logger.Warn("hot store unreachable at startup, will keep retrying", "error", err)
	} else {
		c.connected.Store(true)
	}

	c.wg.Add(1)
	go c.monitor()

	return c, nil
}

// monitor probes the connection forever, with exponential backoff while
// disconnected and a steady interval while healthy.
func (c *RedisClient) monitor() {
	defer c.wg.Done()

	delay := reconnectBase
	for {
		wait := probeInterval
		if !c.connected.Load() {
			wait = delay + time.Duration(rand.Int63n(int64(reconnectJitter)))
			delay *= 2
			if delay > reconnectCap {
				delay = reconnectCap
			}
		} else {
			delay = reconnectBase
		}

		select {
		case <-c.stopCh:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.cmd.Ping(ctx).Err()
		cancel()

		was := c.connected.Load()
		now := err == nil
		if was != now {
			c.connected.Store(now)
			if now {
				c.logger.Info("hot store connection restored")
			} else {
				c.logger.Warn("hot store connection lost", "error", err)
			}
			if c.onChange != nil {
				c.onChange(now)
			}
		}
	}
}

// Connected reports the monitor's last observation.
func (c *RedisClient) Connected() bool { return c.connected.Load() }

// Ping checks connectivity directly.
func (c *RedisClient) Ping(ctx context.Context) error {
	return wrapErr("ping", "", c.cmd.Ping(ctx).Err())
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.cmd.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", key, err)
	}
	return val, true, nil
}

func (c *RedisClient) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr("set", key, c.cmd.Set(ctx, key, value, ttl).Err())
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrapErr("del", keys[0], c.cmd.Del(ctx, keys...).Err())
}

func (c *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.cmd.Incr(ctx, key).Result()
	return n, wrapErr("incr", key, err)
}

func (c *RedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr("sadd", key, c.cmd.SAdd(ctx, key, args...).Err())
}

func (c *RedisClient) SetRemove(ctx context.Context, key, member string) error {
	return wrapErr("srem", key, c.cmd.SRem(ctx, key, member).Err())
}

func (c *RedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.cmd.SMembers(ctx, key).Result()
	return members, wrapErr("smembers", key, err)
}

func (c *RedisClient) HashIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	v, err := c.cmd.HIncrBy(ctx, key, field, n).Result()
	return v, wrapErr("hincrby", key, err)
}

func (c *RedisClient) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := c.cmd.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("hget", key, err)
	}
	return val, true, nil
}

func (c *RedisClient) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.cmd.HGetAll(ctx, key).Result()
	return fields, wrapErr("hgetall", key, err)
}

func (c *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.cmd.TTL(ctx, key).Result()
	return ttl, wrapErr("ttl", key, err)
}

func (c *RedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) (uint64, []string, error) {
	keys, next, err := c.cmd.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return 0, nil, wrapErr("scan", match, err)
	}
	return next, keys, nil
}

func (c *RedisClient) ScanAll(ctx context.Context, match string, count int64) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		next, batch, err := c.Scan(ctx, cursor, match, count)
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (c *RedisClient) Info(ctx context.Context, section string) (string, error) {
	var cmd *redis.StringCmd
	if section == "" {
		cmd = c.cmd.Info(ctx)
	} else {
		cmd = c.cmd.Info(ctx, section)
	}
	out, err := cmd.Result()
	return out, wrapErr("info", section, err)
}

func (c *RedisClient) Publish(ctx context.Context, channel, payload string) error {
	return wrapErr("publish", channel, c.pub.Publish(ctx, channel, payload).Err())
}

func (c *RedisClient) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	ps := c.sub.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapErr("subscribe", channel, err)
	}
	return c.pump(ps, handler), nil
}

func (c *RedisClient) PatternSubscribe(ctx context.Context, pattern string, handler Handler) (func(), error) {
	ps := c.sub.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapErr("psubscribe", pattern, err)
	}
	return c.pump(ps, handler), nil
}

// pump delivers messages to the handler until the subscription is closed.
func (c *RedisClient) pump(ps *redis.PubSub, handler Handler) func() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range ps.Channel() {
			handler(msg.Channel, msg.Payload)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { _ = ps.Close() })
	}
}

func (c *RedisClient) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	_, err := c.cmd.TxPipelined(ctx, fn)
	return wrapErr("pipeline", "", err)
}

// Close stops the monitor and all subscriptions and closes the three
// underlying connections.
func (c *RedisClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)
	err := c.cmd.Close()
	if perr := c.pub.Close(); err == nil {
		err = perr
	}
	if serr := c.sub.Close(); err == nil {
		err = serr
	}
	c.wg.Wait()
	return err
}
