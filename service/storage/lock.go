package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// 抢占或续期（单写者锁）
// KEYS[1] = lock key
// ARGV[1] = owner
// ARGV[2] = ttl ms
// 返回：{state, holder, pttl}
// state 1 = newly acquired, 2 = refreshed by the same owner, 0 = held by someone else
const luaAcquireOrRefresh = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return {1, ARGV[1], tonumber(ARGV[2])}
end
if cur == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {2, cur, tonumber(ARGV[2])}
end
return {0, cur, redis.call("PTTL", KEYS[1])}
`

// 仅持有者可释放
// KEYS[1] = lock key
// ARGV[1] = owner
// 返回：1 = released, 0 = not held by owner
const luaRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type LockState int

const (
	LockHeldByOther LockState = iota
	LockAcquired
	LockRefreshed
)

func (s LockState) String() string {
	switch s {
	case LockAcquired:
		return "acquired"
	case LockRefreshed:
		return "refreshed"
	default:
		return "held_by_other"
	}
}

type LockResult struct {
	State  LockState
	Holder string
	TTL    time.Duration
}

func (r LockResult) Owned() bool { return r.State == LockAcquired || r.State == LockRefreshed }

// AcquireOrRefresh is an advisory set-if-absent-with-ttl lock that the current
// owner may extend. Losers get the current holder back and never wait.
func (c *Coord) AcquireOrRefresh(ctx context.Context, key, owner string, ttl time.Duration) (LockResult, error) {
	if owner == "" {
		return LockResult{}, errors.New("lock owner empty")
	}
	if ttl <= 0 {
		return LockResult{}, errors.New("lock ttl must be positive")
	}
	res, err := c.luaLock.Run(ctx, c.rdb, []string{key}, owner, ttl.Milliseconds()).Slice()
	if err != nil {
		return LockResult{}, errors.Wrapf(err, "lock %s", key)
	}
	if len(res) != 3 {
		return LockResult{}, fmt.Errorf("lock %s: unexpected reply %v", key, res)
	}
	state, err := toInt64(res[0])
	if err != nil {
		return LockResult{}, err
	}
	pttl, err := toInt64(res[2])
	if err != nil {
		return LockResult{}, err
	}
	holder, _ := res[1].(string)
	return LockResult{
		State:  LockState(state),
		Holder: holder,
		TTL:    time.Duration(pttl) * time.Millisecond,
	}, nil
}

// ReleaseLock drops the lock only if owner still holds it.
func (c *Coord) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	n, err := c.luaRelease.Run(ctx, c.rdb, []string{key}, owner).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "release %s", key)
	}
	return n == 1, nil
}

// LockHolder returns the current holder, "" when unlocked.
func (c *Coord) LockHolder(ctx context.Context, key string) (string, time.Duration, error) {
	holder, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return "", 0, err
	}
	ttl, err := c.TTL(ctx, key)
	return holder, ttl, err
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected lua number %T", v)
	}
}
