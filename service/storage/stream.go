package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// StreamRecord is one entry of an append-only per-identity stream.
type StreamRecord struct {
	ID     string
	Values map[string]string
}

// Append adds a record. Trimming is someone else's job: we never cap here.
func (c *Coord) Append(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: fields}).Result()
	return id, errors.Wrapf(err, "xadd %s", stream)
}

// StreamIDAt is the smallest auto-generated id a record appended at t can
// carry. Reading after it yields everything appended from t on.
func StreamIDAt(t time.Time) string {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10) + "-0"
}

// BlockRead waits up to block for records after lastID. A timeout is not an
// error: it returns (nil, nil).
func (c *Coord) BlockRead(ctx context.Context, stream, lastID string, block time.Duration, count int64) ([]StreamRecord, error) {
	if count <= 0 {
		count = 16
	}
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "xread %s", stream)
	}

	var out []StreamRecord
	for _, s := range res {
		for _, m := range s.Messages {
			rec := StreamRecord{ID: m.ID, Values: make(map[string]string, len(m.Values))}
			for k, v := range m.Values {
				if sv, ok := v.(string); ok {
					rec.Values[k] = sv
				}
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
