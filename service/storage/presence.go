package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Presence is one sorted set per subject: member = one live connection,
// score = its expiry in unix ms. Expired members are swept on every call,
// so a crashed instance's connections disappear after one TTL.

// 上线 / 续期
// KEYS[1] = presence index
// ARGV[1] = member, ARGV[2] = now ms, ARGV[3] = expireAt ms, ARGV[4] = index ttl ms
// 返回：{新增(1/0), 有效数量}
const luaPresenceUp = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local added = redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {added, redis.call("ZCARD", KEYS[1])}
`

// 单连接下线（幂等）
// KEYS[1] = presence index
// ARGV[1] = member, ARGV[2] = now ms
// 返回：{删除(1/0), 剩余有效数量}
const luaPresenceDown = `
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local n = redis.call("ZCARD", KEYS[1])
if n == 0 then
  redis.call("DEL", KEYS[1])
end
return {removed, n}
`

// 清理过期并返回全部有效成员
// KEYS[1] = presence index
// ARGV[1] = now ms
const luaPresenceList = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
return redis.call("ZRANGE", KEYS[1], 0, -1)
`

// PresenceChange reports what one up/down call did to the index.
type PresenceChange struct {
	Changed bool  // member was added (up) or removed (down)
	Active  int64 // live members afterwards
}

// CameOnline is true for the first live connection of a subject.
func (p PresenceChange) CameOnline() bool { return p.Changed && p.Active == 1 }

// WentOffline is true when the last live connection left.
func (p PresenceChange) WentOffline() bool { return p.Changed && p.Active == 0 }

// PresenceUp adds or refreshes member until now+ttl.
func (c *Coord) PresenceUp(ctx context.Context, key, member string, now time.Time, ttl time.Duration) (PresenceChange, error) {
	if ttl <= 0 {
		return PresenceChange{}, errors.New("presence ttl must be positive")
	}
	res, err := c.luaPresenceUp.Run(ctx, c.rdb, []string{key},
		member, now.UnixMilli(), now.Add(ttl).UnixMilli(), (2 * ttl).Milliseconds()).Slice()
	if err != nil {
		return PresenceChange{}, errors.Wrapf(err, "presence up %s", key)
	}
	return presenceChange(key, res)
}

// PresenceDown removes member. Removing an unknown member is not an error.
func (c *Coord) PresenceDown(ctx context.Context, key, member string, now time.Time) (PresenceChange, error) {
	res, err := c.luaPresenceDown.Run(ctx, c.rdb, []string{key}, member, now.UnixMilli()).Slice()
	if err != nil {
		return PresenceChange{}, errors.Wrapf(err, "presence down %s", key)
	}
	return presenceChange(key, res)
}

// PresenceMembers returns the live members at now.
func (c *Coord) PresenceMembers(ctx context.Context, key string, now time.Time) ([]string, error) {
	out, err := c.luaPresenceList.Run(ctx, c.rdb, []string{key}, now.UnixMilli()).StringSlice()
	if err != nil {
		return nil, errors.Wrapf(err, "presence list %s", key)
	}
	return out, nil
}

func presenceChange(key string, res []any) (PresenceChange, error) {
	if len(res) != 2 {
		return PresenceChange{}, fmt.Errorf("presence %s: unexpected reply %v", key, res)
	}
	changed, err := toInt64(res[0])
	if err != nil {
		return PresenceChange{}, err
	}
	active, err := toInt64(res[1])
	if err != nil {
		return PresenceChange{}, err
	}
	return PresenceChange{Changed: changed == 1, Active: active}, nil
}
