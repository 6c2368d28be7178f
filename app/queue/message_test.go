package queue

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

func TestEncodeDecodeJob(t *testing.T) {
	t.Parallel()

	job := entity.NewEmailJob("welcome", "a@x.com", "A", map[string]any{"app_name": "Acme"}).WithSubject("Hi")
	payload, err := EncodeJob(job)
	if err != nil {
		t.Fatalf("EncodeJob: %v", err)
	}

	decoded, err := DecodeJob([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if decoded.ID != job.ID || decoded.EmailType != job.EmailType || decoded.ToEmail != job.ToEmail {
		t.Fatalf("identity fields changed: %+v", decoded)
	}
	if subject, ok := decoded.SubjectOverride(); !ok || subject != "Hi" {
		t.Fatalf("expected subject Hi, got %q", subject)
	}
	if decoded.TemplateVars["app_name"] != "Acme" {
		t.Fatalf("expected template var, got %v", decoded.TemplateVars)
	}
	if !decoded.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("expected created_at %s, got %s", job.CreatedAt, decoded.CreatedAt)
	}
}

func TestDecodeJobLenientCreatedAt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		createdAt string
		want      time.Time
	}{
		{name: "rfc3339", createdAt: `"2024-01-01T10:00:00Z"`, want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{name: "naive datetime", createdAt: `"2024-01-01 10:00:00"`, want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{name: "unix seconds", createdAt: `1704103200`, want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{name: "unix millis", createdAt: `1704103200000`, want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{name: "unparseable", createdAt: `"yesterday"`, want: time.Time{}},
		{name: "wrong type", createdAt: `{"at":1}`, want: time.Time{}},
		{name: "null", createdAt: `null`, want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"id":"J1","email_type":"welcome","to_email":"a@x.com","to_name":"A","subject":null,"template_vars":{},"retry_count":0,"created_at":` + tt.createdAt + `}`
			job, err := DecodeJob([]byte(raw))
			if err != nil {
				t.Fatalf("DecodeJob: %v", err)
			}
			if !job.CreatedAt.Equal(tt.want) {
				t.Fatalf("expected created_at %s, got %s", tt.want, job.CreatedAt)
			}
		})
	}
}

func TestDecodeJobToleratesUnknownKeys(t *testing.T) {
	t.Parallel()

	raw := `{"id":"J1","email_type":"welcome","to_email":"a@x.com","to_name":"A","subject":null,"template_vars":{},"retry_count":2,"priority":"high"}`
	job, err := DecodeJob([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if job.RetryCount != 2 {
		t.Fatalf("expected retry_count 2, got %d", job.RetryCount)
	}
	if _, ok := job.SubjectOverride(); ok {
		t.Fatalf("expected no subject override")
	}
}

func TestDecodeJobRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":         "not-json",
		"missing subject":  `{"id":"J1","email_type":"welcome","to_email":"a@x.com","to_name":"A","template_vars":{},"retry_count":0}`,
		"missing vars":     `{"id":"J1","email_type":"welcome","to_email":"a@x.com","to_name":"A","subject":null,"retry_count":0}`,
		"wrong type":       `{"id":"J1","email_type":"welcome","to_email":"a@x.com","to_name":"A","subject":null,"template_vars":{},"retry_count":"zero"}`,
		"negative retries": `{"id":"J1","email_type":"welcome","to_email":"a@x.com","to_name":"A","subject":null,"template_vars":{},"retry_count":-1}`,
		"empty id":         `{"id":"","email_type":"welcome","to_email":"a@x.com","to_name":"A","subject":null,"template_vars":{},"retry_count":0}`,
		"array":            `[1,2,3]`,
	}
	for name, raw := range cases {
		if _, err := DecodeJob([]byte(raw)); !errors.Is(err, ErrMalformedJob) {
			t.Fatalf("%s: expected ErrMalformedJob, got %v", name, err)
		}
	}
}

func TestJobPayloadAcceptsStringAndBytes(t *testing.T) {
	t.Parallel()

	if got, err := jobPayload(map[string]interface{}{JobField: "abc"}); err != nil || string(got) != "abc" {
		t.Fatalf("string payload: got %q, %v", got, err)
	}
	if got, err := jobPayload(map[string]interface{}{JobField: []byte("abc")}); err != nil || string(got) != "abc" {
		t.Fatalf("bytes payload: got %q, %v", got, err)
	}
	if _, err := jobPayload(map[string]interface{}{"other": "abc"}); !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob for missing field, got %v", err)
	}
	if _, err := jobPayload(map[string]interface{}{JobField: 42}); !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob for numeric field, got %v", err)
	}
}

func TestDeadLetterShapes(t *testing.T) {
	t.Parallel()

	failedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	poison, err := NewPoisonDeadLetter("1-0", "not-json", errors.New("bad"), failedAt).Encode()
	if err != nil {
		t.Fatalf("Encode poison: %v", err)
	}
	for _, key := range []string{`"raw_message":"not-json"`, `"original_id":"1-0"`, `"error":"bad"`, `"failed_at":"2024-05-01T12:00:00Z"`} {
		if !strings.Contains(poison, key) {
			t.Fatalf("poison record %s missing %s", poison, key)
		}
	}
	if strings.Contains(poison, `"job"`) {
		t.Fatalf("poison record must not carry job: %s", poison)
	}

	job := entity.NewEmailJob("welcome", "a@x.com", "A", nil)
	exhausted, err := NewJobDeadLetter(job, errors.New("smtp down"), failedAt).Encode()
	if err != nil {
		t.Fatalf("Encode job letter: %v", err)
	}
	if strings.Contains(exhausted, "raw_message") || strings.Contains(exhausted, "original_id") {
		t.Fatalf("job record must not carry poison keys: %s", exhausted)
	}

	decoded, err := DecodeDeadLetter([]byte(exhausted))
	if err != nil {
		t.Fatalf("DecodeDeadLetter: %v", err)
	}
	if decoded.IsPoison() || decoded.Job.ID != job.ID || decoded.Error != "smtp down" {
		t.Fatalf("unexpected decoded letter: %+v", decoded)
	}

	if _, err := DecodeDeadLetter([]byte(`{"error":"x"}`)); err == nil {
		t.Fatalf("expected error for record without job or raw_message")
	}
}
