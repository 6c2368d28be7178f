package preparer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
)

// ErrInvalidMessage marks content that cannot become sendable by retrying.
var ErrInvalidMessage = errors.New("invalid email message")

type EmailPreparer interface {
	Prepare(ctx context.Context, job entity.EmailJob) (provider.EmailContent, error)
}

// Message is the working state passed through the chain.
type Message struct {
	Job     entity.EmailJob
	Vars    map[string]any
	Content provider.EmailContent
}

type Step interface {
	Prepare(ctx context.Context, msg *Message) error
}

type Chain struct {
	steps []Step
}

// NewChain builds an email preparer chain from steps.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Prepare runs all preparer steps and returns content ready for a provider.
func (c *Chain) Prepare(ctx context.Context, job entity.EmailJob) (provider.EmailContent, error) {
	vars := maps.Clone(job.TemplateVars)
	if vars == nil {
		vars = map[string]any{}
	}
	if _, ok := vars["to_name"]; !ok {
		vars["to_name"] = job.ToName
	}
	if _, ok := vars["to_email"]; !ok {
		vars["to_email"] = job.ToEmail
	}

	msg := &Message{
		Job:  job,
		Vars: vars,
		Content: provider.EmailContent{
			ToEmail: job.ToEmail,
			ToName:  job.ToName,
		},
	}

	for _, step := range c.steps {
		if err := step.Prepare(ctx, msg); err != nil {
			return provider.EmailContent{}, err
		}
	}

	if strings.TrimSpace(msg.Content.ToEmail) == "" {
		return provider.EmailContent{}, fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if msg.Content.HTMLBody == "" && msg.Content.TextBody == "" {
		return provider.EmailContent{}, fmt.Errorf("%w: prepared body is empty", ErrInvalidMessage)
	}

	return msg.Content, nil
}
