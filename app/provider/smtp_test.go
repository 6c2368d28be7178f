package provider

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSMTPProvider(port int) *SMTPProvider {
	return NewSMTPProvider(SMTPConfig{
		Host:      "127.0.0.1",
		Port:      port,
		FromEmail: "no-reply@example.com",
		FromName:  "Example",
		Timeout:   time.Second,
	})
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	_ = lis.Close()
	return port
}

func TestSMTPProviderBuildMessageMultipart(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(2525)
	msg, err := p.buildMessage(EmailContent{
		ToEmail:  "ada@example.com",
		ToName:   "Ada",
		Subject:  "Hello",
		TextBody: "plain part",
		HTMLBody: "<p>html part</p>",
		Cc:       []string{"cc@example.com"},
		ReplyTo:  "support@example.com",
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()
	lower := strings.ToLower(raw)

	for _, want := range []string{"multipart/alternative", "text/plain", "text/html", "reply-to", "message-id"} {
		if !strings.Contains(lower, want) {
			t.Fatalf("expected %q in message:\n%s", want, raw)
		}
	}
	for _, want := range []string{"ada@example.com", "cc@example.com", "support@example.com", "Hello"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected %q in message:\n%s", want, raw)
		}
	}
}

func TestSMTPProviderBuildMessageHTMLOnly(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(2525)
	msg, err := p.buildMessage(EmailContent{ToEmail: "ada@example.com", Subject: "s", HTMLBody: "<p>x</p>"})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if strings.Contains(strings.ToLower(buf.String()), "multipart/alternative") {
		t.Fatalf("expected single part message")
	}
}

func TestSMTPProviderBuildMessageInvalidAddress(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(2525)
	_, err := p.buildMessage(EmailContent{ToEmail: "not an address", Subject: "s", TextBody: "x"})

	var pErr *Error
	if !errors.As(err, &pErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pErr.Provider != "smtp" {
		t.Fatalf("expected smtp provider name, got %s", pErr.Provider)
	}
}

func TestSMTPProviderBuildMessageEmptyBody(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(2525)
	if _, err := p.buildMessage(EmailContent{ToEmail: "ada@example.com", Subject: "s"}); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestSMTPProviderSendUnreachable(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(closedPort(t))
	_, err := p.Send(context.Background(), EmailContent{ToEmail: "ada@example.com", Subject: "s", TextBody: "x"})

	var pErr *Error
	if !errors.As(err, &pErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSMTPProviderHealthCheckUnreachable(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(closedPort(t))
	if p.HealthCheck(context.Background()) {
		t.Fatalf("expected health check to fail with nothing listening")
	}
}

// fakeRelay is a minimal plaintext SMTP server that accepts every message.
type fakeRelay struct {
	mu         sync.Mutex
	from       []string
	recipients []string
	messages   []string
	sessions   int
}

func startFakeRelay(t *testing.T) (*fakeRelay, int) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { _ = lis.Close() })

	relay := &fakeRelay{}
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go relay.serve(conn)
		}
	}()
	return relay, lis.Addr().(*net.TCPAddr).Port
}

func (r *fakeRelay) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	r.mu.Lock()
	r.sessions++
	r.mu.Unlock()

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 relay.test ESMTP ready")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(verb, "EHLO"):
			_ = tp.PrintfLine("250-relay.test")
			_ = tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(verb, "MAIL FROM:"):
			r.mu.Lock()
			r.from = append(r.from, line[len("MAIL FROM:"):])
			r.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(verb, "RCPT TO:"):
			r.mu.Lock()
			r.recipients = append(r.recipients, line[len("RCPT TO:"):])
			r.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case verb == "DATA":
			_ = tp.PrintfLine("354 End data with <CR><LF>.<CR><LF>")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.messages = append(r.messages, string(body))
			r.mu.Unlock()
			_ = tp.PrintfLine("250 OK queued")
		case verb == "QUIT":
			_ = tp.PrintfLine("221 Bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func (r *fakeRelay) snapshot() (recipients, messages []string, sessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recipients...), append([]string(nil), r.messages...), r.sessions
}

func TestSMTPProviderSendDelivers(t *testing.T) {
	t.Parallel()

	relay, port := startFakeRelay(t)
	p := newTestSMTPProvider(port)

	sent, err := p.Send(context.Background(), EmailContent{
		ToEmail:  "ada@example.com",
		ToName:   "Ada",
		Subject:  "Welcome aboard",
		TextBody: "plain part",
		HTMLBody: "<p>html part</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !sent.Accepted {
		t.Fatalf("expected message accepted")
	}
	if sent.MessageID == "" || strings.ContainsAny(sent.MessageID, "<>") {
		t.Fatalf("expected bare message id, got %q", sent.MessageID)
	}

	recipients, messages, _ := relay.snapshot()
	if len(recipients) != 1 || !strings.Contains(recipients[0], "ada@example.com") {
		t.Fatalf("unexpected recipients: %v", recipients)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if !strings.Contains(messages[0], "Welcome aboard") || !strings.Contains(messages[0], sent.MessageID) {
		t.Fatalf("unexpected message data:\n%s", messages[0])
	}
}

func TestSMTPProviderHealthCheckReachable(t *testing.T) {
	t.Parallel()

	relay, port := startFakeRelay(t)
	p := newTestSMTPProvider(port)

	if !p.HealthCheck(context.Background()) {
		t.Fatalf("expected health check to pass against a listening relay")
	}
	if _, messages, sessions := relay.snapshot(); sessions != 1 || len(messages) != 0 {
		t.Fatalf("expected one session and no mail, got %d sessions and %d messages", sessions, len(messages))
	}
}
