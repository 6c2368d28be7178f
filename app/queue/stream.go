package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream is the subset of Redis Streams the worker relies on.
type Stream interface {
	GroupCreate(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, stream, group, consumer, id string, count int64) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Pending(ctx context.Context, stream, group, start string, count int64) ([]redis.XPendingExt, error)
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error)
	Add(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

type RedisStream struct {
	client redis.Cmdable
}

// NewRedisStream constructs a Stream over a go-redis client.
func NewRedisStream(client redis.Cmdable) *RedisStream {
	return &RedisStream{client: client}
}

// GroupCreate creates the group and the stream if missing. An existing group is not an error.
func (s *RedisStream) GroupCreate(ctx context.Context, stream, group, start string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup reads without blocking. id "0" returns the consumer's own pending
// entries, ">" returns entries never delivered to the group.
func (s *RedisStream) ReadGroup(ctx context.Context, stream, group, consumer, id string, count int64) ([]redis.XMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s %s: %w", stream, id, err)
	}

	var messages []redis.XMessage
	for _, st := range streams {
		messages = append(messages, st.Messages...)
	}
	return messages, nil
}

// Ack removes entries from the group's pending set.
func (s *RedisStream) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := s.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// Pending lists up to count pending entries of the group from start onwards,
// with their owner and idle time.
func (s *RedisStream) Pending(ctx context.Context, stream, group, start string, count int64) ([]redis.XPendingExt, error) {
	entries, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	return entries, nil
}

// Claim transfers the given pending entries to consumer if they have been idle
// for at least minIdle. Entries deleted from the stream are not returned.
func (s *RedisStream) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error) {
	messages, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	return messages, nil
}

// nextStreamID returns the smallest entry ID greater than id.
func nextStreamID(id string) string {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "(" + id
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil || n == math.MaxUint64 {
		return "(" + id
	}
	return ms + "-" + strconv.FormatUint(n+1, 10)
}

// Add appends an entry and returns its ID.
func (s *RedisStream) Add(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to %s: %w", stream, err)
	}
	return id, nil
}

// Range returns up to count entries starting at start.
func (s *RedisStream) Range(ctx context.Context, stream, start string, count int64) ([]redis.XMessage, error) {
	messages, err := s.client.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	return messages, nil
}

// Get returns a single entry by ID.
func (s *RedisStream) Get(ctx context.Context, stream, id string) (redis.XMessage, bool, error) {
	messages, err := s.client.XRangeN(ctx, stream, id, id, 1).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("xrange %s %s: %w", stream, id, err)
	}
	if len(messages) == 0 {
		return redis.XMessage{}, false, nil
	}
	return messages[0], true, nil
}

// Delete removes entries from the stream.
func (s *RedisStream) Delete(ctx context.Context, stream string, ids ...string) error {
	if err := s.client.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("xdel %s: %w", stream, err)
	}
	return nil
}

// PendingCount returns the number of delivered but unacknowledged entries.
func (s *RedisStream) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	pending, err := s.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", stream, err)
	}
	return pending.Count, nil
}

// Length returns the number of entries in stream.
func (s *RedisStream) Length(ctx context.Context, stream string) (int64, error) {
	n, err := s.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", stream, err)
	}
	return n, nil
}
