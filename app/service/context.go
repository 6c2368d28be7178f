package service

import "context"

type jobIDKey struct{}

// WithJobID stores the job ID in the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext extracts the job ID from the context.
func JobIDFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(jobIDKey{})
	if value == nil {
		return "", false
	}
	jobID, ok := value.(string)
	return jobID, ok
}
