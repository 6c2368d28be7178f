package entity

import "testing"

func TestEmailJobWithRetry(t *testing.T) {
	t.Parallel()

	job := NewEmailJob("welcome", "a@x.com", "A", map[string]any{"k": "v"}).WithSubject("Hi")

	next := job.WithRetry()
	if next.RetryCount != job.RetryCount+1 {
		t.Fatalf("expected retry count %d, got %d", job.RetryCount+1, next.RetryCount)
	}
	if next.ID != job.ID || next.EmailType != job.EmailType || next.ToEmail != job.ToEmail || next.ToName != job.ToName {
		t.Fatalf("expected identity fields to survive retry: %+v vs %+v", job, next)
	}
	if !next.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("expected created_at preserved")
	}
	if got, _ := next.SubjectOverride(); got != "Hi" {
		t.Fatalf("expected subject Hi, got %q", got)
	}
	if job.RetryCount != 0 {
		t.Fatalf("expected original job untouched, got retry count %d", job.RetryCount)
	}

	next.TemplateVars["k"] = "changed"
	if job.TemplateVars["k"] != "v" {
		t.Fatalf("expected template vars to be copied")
	}
}

func TestEmailJobWithRetryRepeated(t *testing.T) {
	t.Parallel()

	job := NewEmailJob("welcome", "a@x.com", "A", nil)
	for i := 0; i < 5; i++ {
		job = job.WithRetry()
	}
	if job.RetryCount != 5 {
		t.Fatalf("expected retry count 5, got %d", job.RetryCount)
	}
}

func TestEmailJobExceededMaxRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retryCount int
		maxRetries int
		want       bool
	}{
		{0, 0, true},
		{0, 3, false},
		{2, 3, false},
		{3, 3, true},
		{4, 3, true},
	}

	for _, tc := range tests {
		job := EmailJob{RetryCount: tc.retryCount}
		if got := job.ExceededMaxRetries(tc.maxRetries); got != tc.want {
			t.Fatalf("retry_count=%d max=%d: expected %v, got %v", tc.retryCount, tc.maxRetries, tc.want, got)
		}
	}
}

func TestEmailJobSubjectOverride(t *testing.T) {
	t.Parallel()

	job := NewEmailJob("welcome", "a@x.com", "A", nil)
	if _, ok := job.SubjectOverride(); ok {
		t.Fatalf("expected no subject override")
	}
	if _, ok := job.WithSubject("").SubjectOverride(); ok {
		t.Fatalf("expected empty subject to be ignored")
	}
}
