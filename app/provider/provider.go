package provider

import (
	"context"
	"fmt"
)

// EmailContent is a fully rendered message ready for a transport.
type EmailContent struct {
	ToEmail  string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
	Cc       []string
	Bcc      []string
	ReplyTo  string
}

// SentEmail is the transport receipt. Accepted is true once the transport
// has taken ownership of the message.
type SentEmail struct {
	MessageID string
	Accepted  bool
}

type EmailProvider interface {
	Name() string
	Send(ctx context.Context, content EmailContent) (*SentEmail, error)
	HealthCheck(ctx context.Context) bool
}

// Error wraps any failure raised by a provider. Provider errors are retryable.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(provider string, format string, args ...any) *Error {
	return &Error{Provider: provider, Err: fmt.Errorf(format, args...)}
}
