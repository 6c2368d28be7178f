package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

const (
	DefaultStreamName    = "notifications:email:jobs"
	DefaultConsumerGroup = "email-workers"
	DefaultDLQStreamName = "notifications:email:dlq"

	// JobField holds the JSON envelope on main stream entries.
	JobField = "job"
	// DeadLetterField holds the JSON record on DLQ entries.
	DeadLetterField = "data"
)

var ErrMalformedJob = errors.New("malformed job envelope")

var requiredJobKeys = []string{"id", "email_type", "to_email", "to_name", "subject", "template_vars", "retry_count"}

// EncodeJob serialises a job into its stream field value.
func EncodeJob(job entity.EmailJob) (string, error) {
	if job.TemplateVars == nil {
		job.TemplateVars = map[string]any{}
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return string(data), nil
}

// DecodeJob parses a job envelope. Unknown keys are ignored.
func DecodeJob(raw []byte) (entity.EmailJob, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return entity.EmailJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	for _, key := range requiredJobKeys {
		if _, ok := fields[key]; !ok {
			return entity.EmailJob{}, fmt.Errorf("%w: missing %q", ErrMalformedJob, key)
		}
	}

	var wire wireJob
	if err := json.Unmarshal(raw, &wire); err != nil {
		return entity.EmailJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	job := wire.EmailJob
	job.CreatedAt = parseCreatedAt(wire.CreatedAt)
	if job.ID == "" {
		return entity.EmailJob{}, fmt.Errorf("%w: empty id", ErrMalformedJob)
	}
	if job.RetryCount < 0 {
		return entity.EmailJob{}, fmt.Errorf("%w: negative retry_count %d", ErrMalformedJob, job.RetryCount)
	}
	if job.TemplateVars == nil {
		job.TemplateVars = map[string]any{}
	}
	return job, nil
}

// wireJob shadows created_at so an unexpected timestamp format never makes a job poison.
type wireJob struct {
	entity.EmailJob
	CreatedAt json.RawMessage `json:"created_at"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
}

// parseCreatedAt accepts RFC3339, naive UTC datetimes and unix seconds or
// milliseconds. Anything else yields the zero time.
func parseCreatedAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		for _, layout := range createdAtLayouts {
			if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	}

	var unix float64
	if err := json.Unmarshal(raw, &unix); err == nil && unix > 0 {
		if unix >= 1e12 {
			return time.UnixMilli(int64(unix)).UTC()
		}
		sec := int64(unix)
		return time.Unix(sec, int64((unix-float64(sec))*1e9)).UTC()
	}
	return time.Time{}
}

// jobPayload extracts the raw envelope; brokers hand it back as a string or as bytes.
func jobPayload(values map[string]interface{}) ([]byte, error) {
	value, ok := values[JobField]
	if !ok {
		return nil, fmt.Errorf("%w: entry has no %q field", ErrMalformedJob, JobField)
	}
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q field has type %T", ErrMalformedJob, JobField, value)
	}
}

// rawMessage renders an entry for a poison record.
func rawMessage(values map[string]interface{}) string {
	if payload, err := jobPayload(values); err == nil {
		return string(payload)
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Sprintf("%v", values)
	}
	return string(data)
}

// DeadLetter is the record stored on the DLQ stream. Poison entries carry
// RawMessage and OriginalID; exhausted or unrenderable jobs carry Job.
type DeadLetter struct {
	EntryID    string           `json:"-"`
	Job        *entity.EmailJob `json:"job,omitempty"`
	RawMessage *string          `json:"raw_message,omitempty"`
	OriginalID string           `json:"original_id,omitempty"`
	Error      string           `json:"error"`
	FailedAt   string           `json:"failed_at"`
}

// NewJobDeadLetter builds a DLQ record for a parseable job.
func NewJobDeadLetter(job entity.EmailJob, cause error, failedAt time.Time) DeadLetter {
	return DeadLetter{
		Job:      &job,
		Error:    errorText(cause),
		FailedAt: failedAt.UTC().Format(time.RFC3339),
	}
}

// NewPoisonDeadLetter builds a DLQ record for an entry that could not be parsed.
func NewPoisonDeadLetter(entryID, raw string, cause error, failedAt time.Time) DeadLetter {
	return DeadLetter{
		RawMessage: &raw,
		OriginalID: entryID,
		Error:      errorText(cause),
		FailedAt:   failedAt.UTC().Format(time.RFC3339),
	}
}

// IsPoison reports whether the record holds an unparseable entry.
func (d DeadLetter) IsPoison() bool {
	return d.Job == nil
}

// Encode serialises the record into its DLQ field value.
func (d DeadLetter) Encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode dead letter: %w", err)
	}
	return string(data), nil
}

// DecodeDeadLetter parses a DLQ field value.
func DecodeDeadLetter(raw []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(raw, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if letter.Job == nil && letter.RawMessage == nil {
		return DeadLetter{}, errors.New("decode dead letter: neither job nor raw_message present")
	}
	return letter, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
