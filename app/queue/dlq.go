package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
)

const (
	ReplayLockKey = "notifications:email:dlq-replay"
	replayLockTTL = time.Minute
)

// ReplayResult reports what happened to each requested DLQ entry.
type ReplayResult struct {
	// Replayed maps DLQ entry IDs to the new jobs stream entry IDs.
	Replayed map[string]string
	Skipped  []string
	Missing  []string
}

type DeadLetterQueue struct {
	stream     *RedisStream
	locker     lock.Locker
	dlqName    string
	streamName string
	log        logrus.FieldLogger
}

// NewDeadLetterQueue constructs the DLQ inspector for dlqName, replaying into streamName.
func NewDeadLetterQueue(stream *RedisStream, locker lock.Locker, dlqName, streamName string, log logrus.FieldLogger) *DeadLetterQueue {
	return &DeadLetterQueue{
		stream:     stream,
		locker:     locker,
		dlqName:    dlqName,
		streamName: streamName,
		log:        log.WithField("dlq", dlqName),
	}
}

// List returns up to count records starting at entry ID start ("-" for the oldest).
// Entries whose data cannot be decoded are returned with only EntryID and Error set.
func (q *DeadLetterQueue) List(ctx context.Context, start string, count int64) ([]DeadLetter, error) {
	if start == "" {
		start = "-"
	}
	messages, err := q.stream.Range(ctx, q.dlqName, start, count)
	if err != nil {
		return nil, err
	}

	letters := make([]DeadLetter, 0, len(messages))
	for _, msg := range messages {
		letter, err := decodeDeadLetterEntry(msg.Values)
		if err != nil {
			letter = DeadLetter{Error: err.Error()}
		}
		letter.EntryID = msg.ID
		letters = append(letters, letter)
	}
	return letters, nil
}

// Replay re-enqueues the jobs held by the given DLQ entries with a fresh retry
// budget and removes them from the DLQ. Poison records are skipped.
func (q *DeadLetterQueue) Replay(ctx context.Context, ids []string) (ReplayResult, error) {
	result := ReplayResult{Replayed: make(map[string]string)}

	err := lock.WithLock(ctx, q.locker, ReplayLockKey, replayLockTTL, func(ctx context.Context) error {
		for _, id := range ids {
			msg, found, err := q.stream.Get(ctx, q.dlqName, id)
			if err != nil {
				return err
			}
			if !found {
				result.Missing = append(result.Missing, id)
				continue
			}

			letter, err := decodeDeadLetterEntry(msg.Values)
			if err != nil || letter.IsPoison() {
				q.log.WithField("entry_id", id).Warn("Skipping DLQ entry without a replayable job")
				result.Skipped = append(result.Skipped, id)
				continue
			}

			job := *letter.Job
			job.RetryCount = 0
			payload, err := EncodeJob(job)
			if err != nil {
				return err
			}
			newID, err := q.stream.Add(ctx, q.streamName, map[string]interface{}{JobField: payload})
			if err != nil {
				return err
			}
			if err := q.stream.Delete(ctx, q.dlqName, id); err != nil {
				return err
			}

			result.Replayed[id] = newID
			q.log.WithFields(logrus.Fields{
				"entry_id":     id,
				"job_id":       job.ID,
				"new_entry_id": newID,
			}).Info("Replayed DLQ entry")
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("dlq replay: %w", err)
	}
	return result, nil
}

func decodeDeadLetterEntry(values map[string]interface{}) (DeadLetter, error) {
	switch v := values[DeadLetterField].(type) {
	case string:
		return DecodeDeadLetter([]byte(v))
	case []byte:
		return DecodeDeadLetter(v)
	default:
		return DeadLetter{}, errors.New("dlq entry has no data field")
	}
}
