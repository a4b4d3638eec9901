// Package wisdom defines the "prior fixes" collaborator: a corpus of past
// AutoFix attempts and their outcomes, queried so the AI client can avoid
// repeating a fix that failed before (§4.8).
package wisdom

import "context"

// PriorAttempt is one previously recorded AutoFix attempt for a project.
type PriorAttempt struct {
	ErrorSignature string
	FocusFile      string
	Suggestion     string
	Verified       bool
}

// Client records and retrieves prior AutoFix attempts.
type Client interface {
	Record(ctx context.Context, projectID int64, attempt PriorAttempt) error
	Recall(ctx context.Context, projectID int64, errorSignature string) ([]PriorAttempt, error)
}

// NoopClient is the zero-configuration default: nothing is recorded or
// recalled. AutoFix still functions, just without memory across attempts.
type NoopClient struct{}

func (NoopClient) Record(ctx context.Context, projectID int64, attempt PriorAttempt) error {
	return nil
}

func (NoopClient) Recall(ctx context.Context, projectID int64, errorSignature string) ([]PriorAttempt, error) {
	return nil, nil
}
