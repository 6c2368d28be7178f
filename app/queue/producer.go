package queue

import (
	"context"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

const (
	EmailTypeWelcome       = "welcome"
	EmailTypeVerification  = "verification"
	EmailTypePasswordReset = "password_reset"
)

type EmailProducer struct {
	stream     Stream
	streamName string
}

// NewEmailProducer constructs a producer appending to streamName.
func NewEmailProducer(stream Stream, streamName string) *EmailProducer {
	if streamName == "" {
		streamName = DefaultStreamName
	}
	return &EmailProducer{stream: stream, streamName: streamName}
}

// Enqueue appends the job to the jobs stream and returns the new entry ID.
// No deduplication is performed.
func (p *EmailProducer) Enqueue(ctx context.Context, job entity.EmailJob) (string, error) {
	payload, err := EncodeJob(job)
	if err != nil {
		return "", err
	}
	return p.stream.Add(ctx, p.streamName, map[string]interface{}{JobField: payload})
}

// QueueWelcomeEmail enqueues a welcome email.
func (p *EmailProducer) QueueWelcomeEmail(ctx context.Context, toEmail, toName string, vars map[string]any) (entity.EmailJob, string, error) {
	job := entity.NewEmailJob(EmailTypeWelcome, toEmail, toName, vars)
	entryID, err := p.Enqueue(ctx, job)
	return job, entryID, err
}

// QueueVerificationEmail enqueues an address verification email.
func (p *EmailProducer) QueueVerificationEmail(ctx context.Context, toEmail, toName, verificationURL string) (entity.EmailJob, string, error) {
	job := entity.NewEmailJob(EmailTypeVerification, toEmail, toName, map[string]any{
		"verification_url": verificationURL,
	})
	entryID, err := p.Enqueue(ctx, job)
	return job, entryID, err
}

// QueuePasswordResetEmail enqueues a password reset email.
func (p *EmailProducer) QueuePasswordResetEmail(ctx context.Context, toEmail, toName, resetURL string) (entity.EmailJob, string, error) {
	job := entity.NewEmailJob(EmailTypePasswordReset, toEmail, toName, map[string]any{
		"reset_url": resetURL,
	})
	entryID, err := p.Enqueue(ctx, job)
	return job, entryID, err
}
