package preparer

import (
	"context"
	"fmt"
	"strings"

	"github.com/vibast-solutions/ms-go-mailer/app/templates"
)

type Renderer interface {
	RenderByType(emailType string, vars map[string]any) (templates.Rendered, error)
}

// TemplateStep renders bodies and subject for the job's email type.
// A subject carried by the job wins over the rendered one.
type TemplateStep struct {
	renderer Renderer
}

func NewTemplateStep(renderer Renderer) *TemplateStep {
	return &TemplateStep{renderer: renderer}
}

func (s *TemplateStep) Prepare(_ context.Context, msg *Message) error {
	rendered, err := s.renderer.RenderByType(msg.Job.EmailType, msg.Vars)
	if err != nil {
		return err
	}

	msg.Content.HTMLBody = rendered.HTML
	msg.Content.TextBody = rendered.Text
	msg.Content.Subject = rendered.Subject
	if subject, ok := msg.Job.SubjectOverride(); ok {
		msg.Content.Subject = subject
	}
	return nil
}

// SubjectStep normalises the subject and rejects header injection.
type SubjectStep struct{}

func NewSubjectStep() *SubjectStep {
	return &SubjectStep{}
}

func (s *SubjectStep) Prepare(_ context.Context, msg *Message) error {
	subject := strings.TrimSpace(msg.Content.Subject)
	if subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: subject contains invalid characters", ErrInvalidMessage)
	}
	msg.Content.Subject = subject
	return nil
}

// AddressingStep applies cc, bcc and reply_to template variables, falling
// back to the configured default Reply-To.
type AddressingStep struct {
	defaultReplyTo string
}

func NewAddressingStep(defaultReplyTo string) *AddressingStep {
	return &AddressingStep{defaultReplyTo: defaultReplyTo}
}

func (s *AddressingStep) Prepare(_ context.Context, msg *Message) error {
	cc, err := addressList(msg.Vars["cc"])
	if err != nil {
		return fmt.Errorf("%w: cc: %v", ErrInvalidMessage, err)
	}
	bcc, err := addressList(msg.Vars["bcc"])
	if err != nil {
		return fmt.Errorf("%w: bcc: %v", ErrInvalidMessage, err)
	}
	msg.Content.Cc = cc
	msg.Content.Bcc = bcc

	msg.Content.ReplyTo = s.defaultReplyTo
	if replyTo, ok := msg.Vars["reply_to"].(string); ok && replyTo != "" {
		msg.Content.ReplyTo = replyTo
	}
	return nil
}

func addressList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected address type %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected address list type %T", v)
	}
}
