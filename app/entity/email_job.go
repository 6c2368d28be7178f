package entity

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// EmailJob is the unit of work carried on the jobs stream.
// ID is stable across retries; every requeue produces a new envelope.
type EmailJob struct {
	ID           string         `json:"id"`
	EmailType    string         `json:"email_type"`
	ToEmail      string         `json:"to_email"`
	ToName       string         `json:"to_name"`
	Subject      *string        `json:"subject"`
	TemplateVars map[string]any `json:"template_vars"`
	RetryCount   int            `json:"retry_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewEmailJob builds a first-attempt job with a fresh ID.
func NewEmailJob(emailType, toEmail, toName string, vars map[string]any) EmailJob {
	if vars == nil {
		vars = map[string]any{}
	}
	return EmailJob{
		ID:           uuid.NewString(),
		EmailType:    emailType,
		ToEmail:      toEmail,
		ToName:       toName,
		TemplateVars: vars,
		CreatedAt:    time.Now().UTC(),
	}
}

// WithSubject returns a copy carrying an explicit subject override.
func (j EmailJob) WithSubject(subject string) EmailJob {
	j.Subject = &subject
	return j
}

// WithRetry returns a copy with RetryCount incremented by one.
func (j EmailJob) WithRetry() EmailJob {
	next := j
	next.TemplateVars = maps.Clone(j.TemplateVars)
	if j.Subject != nil {
		subject := *j.Subject
		next.Subject = &subject
	}
	next.RetryCount = j.RetryCount + 1
	return next
}

// ExceededMaxRetries reports whether no further requeue is allowed.
func (j EmailJob) ExceededMaxRetries(maxRetries int) bool {
	return j.RetryCount >= maxRetries
}

// SubjectOverride returns the producer supplied subject, if any.
func (j EmailJob) SubjectOverride() (string, bool) {
	if j.Subject == nil || *j.Subject == "" {
		return "", false
	}
	return *j.Subject, true
}
