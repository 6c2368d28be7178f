package dto

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

var (
	ErrMissingFields    = errors.New("email_type and to_email are required")
	ErrInvalidRecipient = errors.New("to_email must be a valid email address")
	ErrUnknownEmailType = errors.New("email_type is not supported")
	ErrInvalidSubject   = errors.New("subject must not contain line breaks")
)

type QueueEmailRequest struct {
	EmailType    string         `json:"email_type"`
	ToEmail      string         `json:"to_email"`
	ToName       string         `json:"to_name"`
	Subject      *string        `json:"subject,omitempty"`
	TemplateVars map[string]any `json:"template_vars"`
}

type QueueEmailResponse struct {
	ID      string `json:"id"`
	EntryID string `json:"entry_id"`
}

// FromEchoContext binds and normalizes a request from Echo.
func FromEchoContext(ctx echo.Context) (QueueEmailRequest, error) {
	var req QueueEmailRequest
	if err := ctx.Bind(&req); err != nil {
		return QueueEmailRequest{}, err
	}
	req.normalize()
	return req, nil
}

// Validate checks required fields. supports reports whether an email type has a template.
func (r *QueueEmailRequest) Validate(supports func(emailType string) bool) error {
	if r.EmailType == "" || r.ToEmail == "" {
		return ErrMissingFields
	}
	if _, err := mail.ParseAddress(r.ToEmail); err != nil {
		return ErrInvalidRecipient
	}
	if supports != nil && !supports(r.EmailType) {
		return ErrUnknownEmailType
	}
	if r.Subject != nil && strings.ContainsAny(*r.Subject, "\r\n") {
		return ErrInvalidSubject
	}
	return nil
}

// ToJob builds a first-attempt job from the request.
func (r *QueueEmailRequest) ToJob() entity.EmailJob {
	job := entity.NewEmailJob(r.EmailType, r.ToEmail, r.ToName, r.TemplateVars)
	if r.Subject != nil && *r.Subject != "" {
		job = job.WithSubject(*r.Subject)
	}
	return job
}

func (r *QueueEmailRequest) normalize() {
	r.EmailType = strings.TrimSpace(r.EmailType)
	r.ToEmail = strings.TrimSpace(r.ToEmail)
	r.ToName = strings.TrimSpace(r.ToName)
	if r.Subject != nil {
		subject := strings.TrimSpace(*r.Subject)
		r.Subject = &subject
	}
}
