package provider

import (
	"context"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLS       bool
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

type SMTPProvider struct {
	cfg SMTPConfig
}

// NewSMTPProvider builds a provider that submits mail to an SMTP relay.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Name() string {
	return "smtp"
}

// Send builds a multipart/alternative message and submits it over a fresh connection.
func (p *SMTPProvider) Send(ctx context.Context, content EmailContent) (*SentEmail, error) {
	msg, err := p.buildMessage(content)
	if err != nil {
		return nil, err
	}

	client, err := p.newClient()
	if err != nil {
		return nil, err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, &Error{Provider: p.Name(), Err: err}
	}

	sent := &SentEmail{Accepted: true}
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		sent.MessageID = strings.Trim(ids[0], "<>")
	}
	return sent, nil
}

// HealthCheck opens and closes a transport connection without sending mail.
func (p *SMTPProvider) HealthCheck(ctx context.Context) bool {
	client, err := p.newClient()
	if err != nil {
		return false
	}
	if err := client.DialWithContext(ctx); err != nil {
		return false
	}
	_ = client.Close()
	return true
}

func (p *SMTPProvider) buildMessage(content EmailContent) (*mail.Msg, error) {
	if content.HTMLBody == "" && content.TextBody == "" {
		return nil, newError(p.Name(), "body is required")
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(p.cfg.FromName, p.cfg.FromEmail); err != nil {
		return nil, newError(p.Name(), "from address: %w", err)
	}
	if err := msg.AddToFormat(content.ToName, content.ToEmail); err != nil {
		return nil, newError(p.Name(), "to address: %w", err)
	}
	if len(content.Cc) > 0 {
		if err := msg.Cc(content.Cc...); err != nil {
			return nil, newError(p.Name(), "cc address: %w", err)
		}
	}
	if len(content.Bcc) > 0 {
		if err := msg.Bcc(content.Bcc...); err != nil {
			return nil, newError(p.Name(), "bcc address: %w", err)
		}
	}
	if content.ReplyTo != "" {
		if err := msg.ReplyTo(content.ReplyTo); err != nil {
			return nil, newError(p.Name(), "reply-to address: %w", err)
		}
	}

	msg.Subject(content.Subject)
	msg.SetMessageID()
	msg.SetDate()

	switch {
	case content.TextBody != "" && content.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextPlain, content.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, content.HTMLBody)
	case content.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextHTML, content.HTMLBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, content.TextBody)
	}

	return msg, nil
}

func (p *SMTPProvider) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(p.cfg.Port),
		mail.WithTimeout(p.cfg.Timeout),
	}
	switch {
	case p.cfg.TLS && p.cfg.Port == 465:
		opts = append(opts, mail.WithSSL())
	case p.cfg.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if p.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.cfg.Username),
			mail.WithPassword(p.cfg.Password),
		)
	}

	client, err := mail.NewClient(p.cfg.Host, opts...)
	if err != nil {
		return nil, newError(p.Name(), "client setup: %w", err)
	}
	return client, nil
}

var _ EmailProvider = (*SMTPProvider)(nil)
