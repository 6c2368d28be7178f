package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
)

func addDeadLetter(t *testing.T, client *redis.Client, letter DeadLetter) string {
	t.Helper()

	data, err := letter.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	id, err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: testDLQ,
		Values: map[string]interface{}{DeadLetterField: data},
	}).Result()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}
	return id
}

func TestDeadLetterQueueListAndReplay(t *testing.T) {
	t.Parallel()

	_, client, stream := newTestStream(t)
	log, _ := test.NewNullLogger()
	dlq := NewDeadLetterQueue(stream, lock.NewRedisLocker(client), testDLQ, testStream, log)
	ctx := context.Background()

	job := entity.NewEmailJob("welcome", "a@x.com", "A", nil)
	job.RetryCount = 3
	jobEntry := addDeadLetter(t, client, NewJobDeadLetter(job, errors.New("smtp down"), time.Now()))
	poisonEntry := addDeadLetter(t, client, NewPoisonDeadLetter("1-0", "not-json", errors.New("bad"), time.Now()))

	letters, err := dlq.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(letters) != 2 || letters[0].EntryID != jobEntry || letters[1].EntryID != poisonEntry {
		t.Fatalf("unexpected listing: %+v", letters)
	}
	if letters[0].IsPoison() || !letters[1].IsPoison() {
		t.Fatalf("unexpected record kinds: %+v", letters)
	}

	result, err := dlq.Replay(ctx, []string{jobEntry, poisonEntry, "9999-0"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if _, ok := result.Replayed[jobEntry]; !ok || len(result.Replayed) != 1 {
		t.Fatalf("expected job entry replayed, got %+v", result)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != poisonEntry {
		t.Fatalf("expected poison entry skipped, got %+v", result.Skipped)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "9999-0" {
		t.Fatalf("expected missing entry reported, got %+v", result.Missing)
	}

	messages, err := client.XRange(ctx, testStream, "-", "+").Result()
	if err != nil || len(messages) != 1 {
		t.Fatalf("expected 1 replayed job: %v (%d)", err, len(messages))
	}
	payload, _ := jobPayload(messages[0].Values)
	replayed, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if replayed.ID != job.ID || replayed.RetryCount != 0 {
		t.Fatalf("expected same id with fresh retry budget, got %+v", replayed)
	}

	if n := client.XLen(ctx, testDLQ).Val(); n != 1 {
		t.Fatalf("expected only poison entry left in DLQ, got %d", n)
	}
}

func TestDeadLetterQueueReplayRequiresLock(t *testing.T) {
	t.Parallel()

	_, client, stream := newTestStream(t)
	log, _ := test.NewNullLogger()
	dlq := NewDeadLetterQueue(stream, lock.NewRedisLocker(client), testDLQ, testStream, log)
	ctx := context.Background()

	holder := lock.NewRedisLocker(client)
	if err := holder.Acquire(ctx, ReplayLockKey, time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	entry := addDeadLetter(t, client, NewJobDeadLetter(entity.NewEmailJob("welcome", "a@x.com", "A", nil), errors.New("x"), time.Now()))
	if _, err := dlq.Replay(ctx, []string{entry}); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if n := client.XLen(ctx, testDLQ).Val(); n != 1 {
		t.Fatalf("expected DLQ untouched, got %d", n)
	}
}

func TestDeadLetterQueueListUndecodable(t *testing.T) {
	t.Parallel()

	_, client, stream := newTestStream(t)
	log, _ := test.NewNullLogger()
	dlq := NewDeadLetterQueue(stream, lock.NewRedisLocker(client), testDLQ, testStream, log)

	if err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: testDLQ,
		Values: map[string]interface{}{"other": "x"},
	}).Err(); err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	letters, err := dlq.List(context.Background(), "-", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(letters) != 1 || letters[0].EntryID == "" || letters[0].Error == "" {
		t.Fatalf("expected undecodable entry surfaced with error, got %+v", letters)
	}
}
