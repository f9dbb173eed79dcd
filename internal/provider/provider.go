// Package provider defines the outbound contract with the remote
// transcription service: upload the payload, submit a job, poll until a
// terminal status. The wire protocol lives in the HTTP implementation;
// everything above it depends only on the Client interface.
package provider

import "context"

// Status is the remote job status as reported by the provider.
type Status string

const (
	// StatusPending covers every non-terminal state (queued, processing).
	StatusPending Status = "pending"
	// StatusCompleted means the job finished and the payload is ready.
	StatusCompleted Status = "completed"
	// StatusError means the job itself failed; this is terminal and not a
	// transport failure.
	StatusError Status = "error"
)

// Utterance is one speaker-attributed span of the terminal payload.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// PollResult is one poll observation of a remote job.
type PollResult struct {
	Status     Status
	Utterances []Utterance
	Text       string
	// Message carries the provider-reported failure reason when Status is
	// StatusError.
	Message string
}

// Client is the three-call shape of the remote transcription provider.
// Implementations classify their errors with faults.Tag so retry, breaker,
// and rotation logic can act on them.
type Client interface {
	// Upload sends the payload bytes and returns an opaque upload reference.
	Upload(ctx context.Context, payload []byte, secret string) (string, error)
	// SubmitJob starts a transcription job over a previous upload.
	SubmitJob(ctx context.Context, uploadRef, secret string) (string, error)
	// PollStatus reports the job's current status.
	PollStatus(ctx context.Context, jobID, secret string) (PollResult, error)
}
