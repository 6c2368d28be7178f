package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
	"github.com/vibast-solutions/ms-go-mailer/app/preparer"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
	"github.com/vibast-solutions/ms-go-mailer/app/templates"
	"golang.org/x/time/rate"
)

type EmailService struct {
	preparer preparer.EmailPreparer
	provider provider.EmailProvider
	limiter  *rate.Limiter
	log      logrus.FieldLogger
}

// NewEmailService builds the email service with dependencies. A nil limiter
// disables send throttling.
func NewEmailService(preparer preparer.EmailPreparer, provider provider.EmailProvider, limiter *rate.Limiter, log logrus.FieldLogger) *EmailService {
	return &EmailService{preparer: preparer, provider: provider, limiter: limiter, log: log}
}

// NewRateLimiter returns a limiter allowing perSecond sends, or nil when perSecond <= 0.
func NewRateLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

// Send renders the job and hands it to the provider.
func (s *EmailService) Send(ctx context.Context, job entity.EmailJob) (*provider.SentEmail, error) {
	if _, ok := JobIDFromContext(ctx); !ok {
		ctx = WithJobID(ctx, job.ID)
	}

	content, err := s.preparer.Prepare(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("prepare email content: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &provider.Error{Provider: s.provider.Name(), Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	start := time.Now()
	sent, err := s.provider.Send(ctx, content)
	if err != nil {
		return nil, err
	}
	if sent == nil || !sent.Accepted {
		return nil, &provider.Error{Provider: s.provider.Name(), Err: errors.New("message not accepted by transport")}
	}

	s.log.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"provider":   s.provider.Name(),
		"message_id": sent.MessageID,
		"latency":    time.Since(start).String(),
	}).Debug("Email handed to provider")

	return sent, nil
}

// ProviderName returns the configured provider's name.
func (s *EmailService) ProviderName() string {
	return s.provider.Name()
}

// HealthCheck probes the provider transport.
func (s *EmailService) HealthCheck(ctx context.Context) bool {
	return s.provider.HealthCheck(ctx)
}

// IsPermanent reports whether err will fail the same way on every retry.
func IsPermanent(err error) bool {
	return templates.IsTemplateError(err) || errors.Is(err, preparer.ErrInvalidMessage)
}
