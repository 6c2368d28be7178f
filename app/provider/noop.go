package provider

import (
	"context"

	"github.com/google/uuid"
)

// NoopProvider is a stubbed provider that pretends to send emails.
type NoopProvider struct{}

// NewNoopProvider constructs a no-op email provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

func (p *NoopProvider) Name() string {
	return "noop"
}

// Send accepts the message without delivering it.
func (p *NoopProvider) Send(_ context.Context, content EmailContent) (*SentEmail, error) {
	if content.ToEmail == "" {
		return nil, newError(p.Name(), "recipient is required")
	}
	return &SentEmail{MessageID: "noop-" + uuid.NewString(), Accepted: true}, nil
}

func (p *NoopProvider) HealthCheck(_ context.Context) bool {
	return true
}

var _ EmailProvider = (*NoopProvider)(nil)
