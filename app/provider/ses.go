package provider

import (
	"context"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type SESProvider struct {
	client *sesv2.Client
	source string
}

// NewSESProvider builds a provider that sends email via AWS SES.
func NewSESProvider(cfg aws.Config, fromEmail, fromName string, optFns ...func(*sesv2.Options)) *SESProvider {
	source := (&mail.Address{Name: fromName, Address: fromEmail}).String()
	return &SESProvider{
		client: sesv2.NewFromConfig(cfg, optFns...),
		source: source,
	}
}

func (p *SESProvider) Name() string {
	return "ses"
}

// Send submits a simple (html + text) message via SES.
func (p *SESProvider) Send(ctx context.Context, content EmailContent) (*SentEmail, error) {
	if content.ToEmail == "" {
		return nil, newError(p.Name(), "recipient is required")
	}
	if content.HTMLBody == "" && content.TextBody == "" {
		return nil, newError(p.Name(), "body is required")
	}

	to := (&mail.Address{Name: content.ToName, Address: content.ToEmail}).String()
	body := &types.Body{}
	if content.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(content.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if content.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(content.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.source),
		Destination: &types.Destination{
			ToAddresses:  []string{to},
			CcAddresses:  content.Cc,
			BccAddresses: content.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(content.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if content.ReplyTo != "" {
		input.ReplyToAddresses = []string{content.ReplyTo}
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Err: err}
	}

	return &SentEmail{MessageID: aws.ToString(out.MessageId), Accepted: true}, nil
}

// HealthCheck reports whether the SES account is reachable and allowed to send.
func (p *SESProvider) HealthCheck(ctx context.Context) bool {
	out, err := p.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return false
	}
	return out.SendingEnabled
}

var _ EmailProvider = (*SESProvider)(nil)
