package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
)

const (
	drainPageSize = 100
	claimPageSize = 10

	ReasonMalformed        = "malformed"
	ReasonTemplate         = "template"
	ReasonRetriesExhausted = "retries_exhausted"
)

// Sender delivers one job. Errors for which service.IsPermanent holds are never retried.
type Sender interface {
	Send(ctx context.Context, job entity.EmailJob) (*provider.SentEmail, error)
}

// Observer receives disposition events, typically for metrics.
type Observer interface {
	Sent(emailType string, elapsed time.Duration)
	Retried(emailType string)
	DeadLettered(reason string)
	BrokerError()
	Claimed(n int)
}

// HistoryRecorder persists terminal dispositions. Failures are logged only.
type HistoryRecorder interface {
	Record(ctx context.Context, record entity.DeliveryRecord) error
}

type ConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerID    string
	BatchSize     int
	PollInterval  time.Duration
	MaxRetries    int
	DLQStreamName string
	ClaimIdleTime time.Duration
	ReadTimeout   time.Duration
	SendTimeout   time.Duration
}

// DefaultConsumerConfig returns the stock worker settings with a random consumer ID.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		StreamName:    DefaultStreamName,
		ConsumerGroup: DefaultConsumerGroup,
		ConsumerID:    NewConsumerID(),
		BatchSize:     10,
		PollInterval:  500 * time.Millisecond,
		MaxRetries:    3,
		DLQStreamName: DefaultDLQStreamName,
		ClaimIdleTime: 5 * time.Second,
		ReadTimeout:   5 * time.Second,
		SendTimeout:   30 * time.Second,
	}
}

// NewConsumerID returns a process-unique consumer name.
func NewConsumerID() string {
	return "worker-" + uuid.NewString()[:8]
}

// Validate rejects settings the worker cannot start with.
func (c ConsumerConfig) Validate() error {
	switch {
	case c.StreamName == "":
		return fmt.Errorf("%w: stream name is empty", ErrInvalidConfig)
	case c.ConsumerGroup == "":
		return fmt.Errorf("%w: consumer group is empty", ErrInvalidConfig)
	case c.ConsumerID == "":
		return fmt.Errorf("%w: consumer id is empty", ErrInvalidConfig)
	case c.DLQStreamName == "":
		return fmt.Errorf("%w: dlq stream name is empty", ErrInvalidConfig)
	case c.DLQStreamName == c.StreamName:
		return fmt.Errorf("%w: dlq stream must differ from %s", ErrInvalidConfig, c.StreamName)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidConfig, c.MaxRetries)
	case c.PollInterval <= 0, c.ClaimIdleTime <= 0, c.ReadTimeout <= 0, c.SendTimeout <= 0:
		return fmt.Errorf("%w: intervals and timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats are running totals since the consumer was built.
type Stats struct {
	Processed    int64
	Retried      int64
	DeadLettered int64
	Claimed      int64
}

type Option func(*EmailConsumer)

// WithObserver attaches a disposition observer.
func WithObserver(observer Observer) Option {
	return func(c *EmailConsumer) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithHistory attaches a delivery history recorder.
func WithHistory(history HistoryRecorder) Option {
	return func(c *EmailConsumer) {
		c.history = history
	}
}

type EmailConsumer struct {
	stream   Stream
	sender   Sender
	cfg      ConsumerConfig
	log      logrus.FieldLogger
	observer Observer
	history  HistoryRecorder

	now          func() time.Time
	backoff      *brokerBackoff
	lastClaim    time.Time
	processed    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	claimed      atomic.Int64
}

// NewEmailConsumer constructs a consumer group worker. An empty ConsumerID is replaced by a random one.
func NewEmailConsumer(stream Stream, sender Sender, cfg ConsumerConfig, log logrus.FieldLogger, opts ...Option) (*EmailConsumer, error) {
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = NewConsumerID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &EmailConsumer{
		stream:   stream,
		sender:   sender,
		cfg:      cfg,
		observer: nopObserver{},
		now:      time.Now,
		backoff:  newBrokerBackoff(backoffBase, backoffMax),
	}
	c.log = log.WithFields(logrus.Fields{
		"consumer": cfg.ConsumerID,
		"stream":   cfg.StreamName,
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConsumerID returns the name this worker uses in the group.
func (c *EmailConsumer) ConsumerID() string {
	return c.cfg.ConsumerID
}

// Stats returns running totals. Safe for concurrent use.
func (c *EmailConsumer) Stats() Stats {
	return Stats{
		Processed:    c.processed.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
		Claimed:      c.claimed.Load(),
	}
}

// Run bootstraps the group, drains stale pending entries and polls until ctx is cancelled.
// Bootstrap failures are logged and left to the poll loop to recover from.
// An entry already being processed is finished before Run returns.
func (c *EmailConsumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		c.log.WithError(err).Warn("Consumer group bootstrap failed, continuing")
	}
	c.drainPending(ctx)
	c.lastClaim = c.now()

	c.log.WithFields(logrus.Fields{
		"group":       c.cfg.ConsumerGroup,
		"batch_size":  c.cfg.BatchSize,
		"max_retries": c.cfg.MaxRetries,
	}).Info("Consumer started")

	for {
		if ctx.Err() != nil {
			c.logShutdown()
			return nil
		}

		c.maybeClaim(ctx)

		wait := c.cfg.PollInterval
		committed, err := c.poll(ctx)
		switch {
		case ctx.Err() != nil:
			c.logShutdown()
			return nil
		case err != nil && IsConnectionError(err):
			c.observer.BrokerError()
			wait = c.backoff.Fail()
			c.log.WithError(err).WithFields(logrus.Fields{
				"consecutive_errors": c.backoff.Failures(),
				"backoff":            wait.String(),
			}).Warn("Broker unavailable, backing off")
		case err != nil:
			c.log.WithError(err).Error("Poll cycle failed, skipping")
		default:
			if failures := c.backoff.Reset(); failures > 0 {
				c.log.WithField("consecutive_errors", failures).Info("Broker connection recovered")
			}
			if committed > 0 {
				continue
			}
		}

		if !sleepContext(ctx, wait) {
			c.logShutdown()
			return nil
		}
	}
}

// poll runs one cycle: own pending entries first, then new ones.
// It returns how many entries reached a terminal disposition.
func (c *EmailConsumer) poll(ctx context.Context) (int, error) {
	pending, err := c.readBatch(ctx, "0")
	if err != nil {
		return 0, err
	}
	committed := c.processBatch(ctx, pending)
	if ctx.Err() != nil {
		return committed, nil
	}

	fresh, err := c.readBatch(ctx, ">")
	if err != nil {
		return committed, err
	}
	return committed + c.processBatch(ctx, fresh), nil
}

func (c *EmailConsumer) processBatch(ctx context.Context, messages []redis.XMessage) int {
	committed := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if c.processEntry(ctx, msg) {
			committed++
		}
	}
	return committed
}

// readBatch reads with a bounded timeout. A timeout counts as an empty read and a
// missing group is recreated before one more attempt.
func (c *EmailConsumer) readBatch(ctx context.Context, id string) ([]redis.XMessage, error) {
	messages, err := c.read(ctx, id)
	if err == nil || ctx.Err() != nil {
		return messages, nil
	}
	if !IsNoGroup(err) {
		return nil, err
	}

	c.log.WithError(err).Warn("Consumer group missing, recreating")
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	messages, err = c.read(ctx, id)
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	return messages, nil
}

func (c *EmailConsumer) read(ctx context.Context, id string) ([]redis.XMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	messages, err := c.stream.ReadGroup(readCtx, c.cfg.StreamName, c.cfg.ConsumerGroup, c.cfg.ConsumerID, id, int64(c.cfg.BatchSize))
	if err != nil && isReadTimeout(err) {
		c.log.WithField("id", id).Debug("Read timed out, no work this cycle")
		return nil, nil
	}
	return messages, err
}

// processEntry moves one entry to a terminal disposition and reports whether it
// was acknowledged. Entries whose DLQ or requeue append fails stay pending.
func (c *EmailConsumer) processEntry(ctx context.Context, msg redis.XMessage) (committed bool) {
	ctx = context.WithoutCancel(ctx)
	log := c.log.WithField("entry_id", msg.ID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Recovered panic while processing entry, acknowledging")
			committed = c.ack(ctx, msg.ID, log)
		}
	}()

	payload, err := jobPayload(msg.Values)
	var job entity.EmailJob
	if err == nil {
		job, err = DecodeJob(payload)
	}
	if err != nil {
		log.WithError(err).Warn("Malformed job entry, routing to DLQ")
		letter := NewPoisonDeadLetter(msg.ID, rawMessage(msg.Values), err, c.now())
		return c.deadLetter(ctx, msg.ID, letter, ReasonMalformed, nil, log)
	}

	log = log.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"email_type":  job.EmailType,
		"retry_count": job.RetryCount,
	})

	if job.RetryCount > c.cfg.MaxRetries {
		err := fmt.Errorf("retry_count %d exceeds max_retries %d", job.RetryCount, c.cfg.MaxRetries)
		log.Warn("Job over retry limit, routing to DLQ without sending")
		return c.deadLetter(ctx, msg.ID, NewJobDeadLetter(job, err, c.now()), ReasonRetriesExhausted, &job, log)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	start := time.Now()
	sent, err := c.sender.Send(sendCtx, job)
	elapsed := time.Since(start)
	cancel()

	if err == nil {
		if !c.ack(ctx, msg.ID, log) {
			return false
		}
		messageID := ""
		if sent != nil {
			messageID = sent.MessageID
		}
		c.processed.Add(1)
		c.observer.Sent(job.EmailType, elapsed)
		c.record(ctx, msg.ID, job, entity.DeliveryStatusSent, messageID, nil, log)
		log.WithFields(c.totals()).WithField("message_id", messageID).Info("Email sent")
		return true
	}

	if service.IsPermanent(err) {
		log.WithError(err).Warn("Job cannot be rendered, routing to DLQ")
		return c.deadLetter(ctx, msg.ID, NewJobDeadLetter(job, err, c.now()), ReasonTemplate, &job, log)
	}
	if job.ExceededMaxRetries(c.cfg.MaxRetries) {
		log.WithError(err).Warn("Send failed and retries are exhausted, routing to DLQ")
		return c.deadLetter(ctx, msg.ID, NewJobDeadLetter(job, err, c.now()), ReasonRetriesExhausted, &job, log)
	}
	return c.requeue(ctx, msg.ID, job, err, log)
}

func (c *EmailConsumer) requeue(ctx context.Context, entryID string, job entity.EmailJob, cause error, log logrus.FieldLogger) bool {
	next := job.WithRetry()
	payload, err := EncodeJob(next)
	if err != nil {
		log.WithError(err).Error("Cannot encode retry envelope, entry stays pending")
		return false
	}
	newID, err := c.stream.Add(ctx, c.cfg.StreamName, map[string]interface{}{JobField: payload})
	if err != nil {
		log.WithError(err).Error("Requeue append failed, entry stays pending")
		return false
	}
	if !c.ack(ctx, entryID, log) {
		return false
	}

	c.retried.Add(1)
	c.observer.Retried(job.EmailType)
	c.record(ctx, entryID, job, entity.DeliveryStatusRetried, "", cause, log)
	log.WithError(cause).WithFields(c.totals()).WithFields(logrus.Fields{
		"new_entry_id":     newID,
		"next_retry_count": next.RetryCount,
		"advisory_backoff": retryDelay(job.RetryCount).String(),
	}).Warn("Send failed, job requeued")
	return true
}

func (c *EmailConsumer) deadLetter(ctx context.Context, entryID string, letter DeadLetter, reason string, job *entity.EmailJob, log logrus.FieldLogger) bool {
	data, err := letter.Encode()
	if err != nil {
		log.WithError(err).Error("Cannot encode dead letter, entry stays pending")
		return false
	}
	dlqID, err := c.stream.Add(ctx, c.cfg.DLQStreamName, map[string]interface{}{DeadLetterField: data})
	if err != nil {
		log.WithError(err).Error("DLQ append failed, entry stays pending")
		return false
	}
	if !c.ack(ctx, entryID, log) {
		return false
	}

	c.deadLettered.Add(1)
	c.observer.DeadLettered(reason)
	if job != nil {
		c.record(ctx, entryID, *job, entity.DeliveryStatusDeadLettered, "", errors.New(letter.Error), log)
	}
	log.WithFields(c.totals()).WithFields(logrus.Fields{
		"dlq_entry_id": dlqID,
		"reason":       reason,
		"error":        letter.Error,
	}).Warn("Entry moved to DLQ")
	return true
}

func (c *EmailConsumer) ack(ctx context.Context, entryID string, log logrus.FieldLogger) bool {
	if err := c.stream.Ack(ctx, c.cfg.StreamName, c.cfg.ConsumerGroup, entryID); err != nil {
		log.WithError(err).Error("Ack failed, entry stays pending")
		return false
	}
	return true
}

func (c *EmailConsumer) record(ctx context.Context, entryID string, job entity.EmailJob, status int16, messageID string, cause error, log logrus.FieldLogger) {
	if c.history == nil {
		return
	}
	record := entity.DeliveryRecord{
		JobID:      job.ID,
		EntryID:    entryID,
		EmailType:  job.EmailType,
		Recipient:  job.ToEmail,
		Status:     status,
		RetryCount: job.RetryCount,
		MessageID:  messageID,
	}
	if cause != nil {
		record.Error = cause.Error()
	}

	recordCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	if err := c.history.Record(recordCtx, record); err != nil {
		log.WithError(err).Warn("Failed to record delivery history")
	}
}

// drainPending takes over every pending entry other consumers own, whatever its idle time.
// Claimed entries are processed by the next pending-path read.
func (c *EmailConsumer) drainPending(ctx context.Context) int {
	total, err := c.claimForeign(ctx, 0, drainPageSize, 0)
	if err != nil {
		c.log.WithError(err).Warn("Startup drain failed, continuing")
	}
	if total > 0 {
		c.claimed.Add(int64(total))
		c.observer.Claimed(total)
		c.log.WithField("claimed", total).Info("Claimed pending entries on startup")
	}
	return total
}

func (c *EmailConsumer) maybeClaim(ctx context.Context) {
	if c.now().Sub(c.lastClaim) < 2*c.cfg.ClaimIdleTime {
		return
	}
	c.lastClaim = c.now()
	c.claimAbandoned(ctx)
}

// claimAbandoned takes over entries other consumers left idle for ClaimIdleTime.
func (c *EmailConsumer) claimAbandoned(ctx context.Context) int {
	n, err := c.claimForeign(ctx, c.cfg.ClaimIdleTime, drainPageSize, claimPageSize)
	if err != nil {
		c.log.WithError(err).Debug("Abandoned entry claim failed")
	}
	if n > 0 {
		c.claimed.Add(int64(n))
		c.observer.Claimed(n)
		c.log.WithField("claimed", n).Info("Claimed abandoned entries")
	}
	return n
}

// claimForeign walks the group's pending set and claims entries owned by other
// consumers that have been idle for at least minIdle. Entries this worker already
// owns are left alone. A limit of 0 means no limit.
func (c *EmailConsumer) claimForeign(ctx context.Context, minIdle time.Duration, pageSize int64, limit int) (int, error) {
	start := "-"
	total := 0
	for ctx.Err() == nil {
		entries, err := c.stream.Pending(ctx, c.cfg.StreamName, c.cfg.ConsumerGroup, start, pageSize)
		if err != nil {
			return total, err
		}

		var ids []string
		for _, entry := range entries {
			if entry.Consumer == c.cfg.ConsumerID || entry.Idle < minIdle {
				continue
			}
			if limit > 0 && total+len(ids) >= limit {
				break
			}
			ids = append(ids, entry.ID)
		}
		if len(ids) > 0 {
			messages, err := c.stream.Claim(ctx, c.cfg.StreamName, c.cfg.ConsumerGroup, c.cfg.ConsumerID, minIdle, ids...)
			if err != nil {
				return total, err
			}
			total += len(messages)
		}

		if int64(len(entries)) < pageSize || (limit > 0 && total >= limit) {
			break
		}
		start = nextStreamID(entries[len(entries)-1].ID)
	}
	return total, nil
}

func (c *EmailConsumer) ensureGroup(ctx context.Context) error {
	if err := c.stream.GroupCreate(ctx, c.cfg.StreamName, c.cfg.ConsumerGroup, "0"); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	return nil
}

func (c *EmailConsumer) totals() logrus.Fields {
	return logrus.Fields{
		"total_processed":     c.processed.Load(),
		"total_retried":       c.retried.Load(),
		"total_dead_lettered": c.deadLettered.Load(),
	}
}

func (c *EmailConsumer) logShutdown() {
	stats := c.Stats()
	c.log.WithFields(logrus.Fields{
		"processed":     stats.Processed,
		"retried":       stats.Retried,
		"dead_lettered": stats.DeadLettered,
	}).Info("Consumer shutting down")
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type nopObserver struct{}

func (nopObserver) Sent(string, time.Duration) {}
func (nopObserver) Retried(string)             {}
func (nopObserver) DeadLettered(string)        {}
func (nopObserver) BrokerError()               {}
func (nopObserver) Claimed(int)                {}
