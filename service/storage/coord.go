package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Coord is the coordination store adapter: key/value with expiry,
// publish/subscribe and append-only streams, over one shared Redis.
// Nothing here is authoritative in-process; every gateway instance sees the
// same keys.
type Coord struct {
	rdb redis.UniversalClient

	luaLock         *redis.Script
	luaRelease      *redis.Script
	luaPresenceUp   *redis.Script
	luaPresenceDown *redis.Script
	luaPresenceList *redis.Script
}

func NewCoord(rdb redis.UniversalClient) *Coord {
	return &Coord{
		rdb:             rdb,
		luaLock:         redis.NewScript(luaAcquireOrRefresh),
		luaRelease:      redis.NewScript(luaRelease),
		luaPresenceUp:   redis.NewScript(luaPresenceUp),
		luaPresenceDown: redis.NewScript(luaPresenceDown),
		luaPresenceList: redis.NewScript(luaPresenceList),
	}
}

func (c *Coord) Client() redis.UniversalClient { return c.rdb }

func (c *Coord) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ===== key/value =====

// Get returns ok=false when the key does not exist.
func (c *Coord) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return val, true, nil
}

// Set stores value with a ttl; ttl <= 0 means no expiry.
func (c *Coord) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrapf(c.rdb.Set(ctx, key, value, ttl).Err(), "set %s", key)
}

// Expire reports whether the key existed.
func (c *Coord) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.PExpire(ctx, key, ttl).Result()
	return ok, errors.Wrapf(err, "expire %s", key)
}

func (c *Coord) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.PTTL(ctx, key).Result()
	return d, errors.Wrapf(err, "pttl %s", key)
}

func (c *Coord) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.rdb.Del(ctx, keys...).Err(), "del")
}

// ScanValues walks every key matching pattern with SCAN (never KEYS) and
// returns key -> value for those still present when read.
func (c *Coord) ScanValues(ctx context.Context, pattern string, batch int64) (map[string]string, error) {
	if batch <= 0 {
		batch = 200
	}
	out := make(map[string]string)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, batch).Result()
		if err != nil {
			return out, errors.Wrapf(err, "scan %s", pattern)
		}
		if len(keys) > 0 {
			vals, err := c.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return out, errors.Wrapf(err, "mget %s", pattern)
			}
			for i, v := range vals {
				// expired between SCAN and MGET
				if s, ok := v.(string); ok {
					out[keys[i]] = s
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// ===== pub/sub =====

func (c *Coord) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.Wrapf(c.rdb.Publish(ctx, channel, payload).Err(), "publish %s", channel)
}

// Subscribe opens one connection subscribed to the given patterns and channels.
// The caller owns the returned PubSub and must Close it.
func (c *Coord) Subscribe(ctx context.Context, patterns, channels []string) (*redis.PubSub, error) {
	ps := c.rdb.Subscribe(ctx)
	if len(patterns) > 0 {
		if err := ps.PSubscribe(ctx, patterns...); err != nil {
			_ = ps.Close()
			return nil, errors.Wrap(err, "psubscribe")
		}
	}
	if len(channels) > 0 {
		if err := ps.Subscribe(ctx, channels...); err != nil {
			_ = ps.Close()
			return nil, errors.Wrap(err, "subscribe")
		}
	}
	return ps, nil
}
