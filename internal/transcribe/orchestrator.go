// Package transcribe drives the multi-step remote transcription job:
// result-cache probe, admission control, upload, submit, poll until
// terminal, parse, cache. Each outbound call is routed through the retry
// policy wrapping the provider's circuit breaker, and every failure mode
// surfaces as a distinguishable typed error.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/echoscribe/echoscribe/internal/breaker"
	"github.com/echoscribe/echoscribe/internal/cache"
	"github.com/echoscribe/echoscribe/internal/credentials"
	"github.com/echoscribe/echoscribe/internal/faults"
	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/metrics"
	"github.com/echoscribe/echoscribe/internal/provider"
	"github.com/echoscribe/echoscribe/internal/ratelimit"
	"github.com/echoscribe/echoscribe/internal/retry"
)

var (
	// ErrJobFailed means the remote job itself reported a terminal error.
	// It already went through upload retries, so it is not retried here.
	ErrJobFailed = errors.New("provider reported job failure")
	// ErrPollDeadline means the job did not reach a terminal status within
	// the polling budget.
	ErrPollDeadline = errors.New("polling deadline exceeded")
)

// Segment is one speaker-attributed span of the transcription result.
type Segment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ProgressFunc receives coarse progress in [0,1] plus an optional milestone
// note. Values are monotonically non-decreasing within one Run. The callback
// must not block; it runs on the job's goroutine.
type ProgressFunc func(progress float64, note string)

// Config holds orchestrator tuning.
type Config struct {
	// PollInterval is the fixed wait between status polls.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// PollBudget is the wall-clock ceiling for the whole polling phase.
	PollBudget time.Duration `yaml:"poll_budget" env:"POLL_BUDGET"`
	// Retry applies to each outbound phase (upload, submit, each poll).
	Retry retry.Config `yaml:"retry"`
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PollBudget <= 0 {
		c.PollBudget = 10 * time.Minute
	}
}

// Orchestrator composes the resilience primitives around the provider
// client. One instance serves all concurrent jobs; the primitives it holds
// are the process-wide shared state.
type Orchestrator struct {
	provider provider.Client
	cache    *cache.ResultCache
	limiter  *ratelimit.Limiter
	creds    *credentials.Rotator
	breaker  *breaker.Breaker
	cfg      Config
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator wires the pipeline. The breaker must be the process-wide
// instance for the transcription provider so failures accumulate across
// jobs.
func NewOrchestrator(
	pc provider.Client,
	rc *cache.ResultCache,
	rl *ratelimit.Limiter,
	cr *credentials.Rotator,
	br *breaker.Breaker,
	cfg Config,
	log logger.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		provider: pc,
		cache:    rc,
		limiter:  rl,
		creds:    cr,
		breaker:  br,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// Run executes one transcription job for the owner. Phases run strictly in
// sequence; onProgress may be nil.
func (o *Orchestrator) Run(ctx context.Context, ownerID int64, input []byte, onProgress ProgressFunc) ([]Segment, error) {
	prog := newProgress(onProgress)
	fp := cache.Fingerprint(input)
	log := o.log.With(
		logger.String("job_id", uuid.NewString()),
		logger.Int64("owner_id", ownerID),
		logger.String("fingerprint", fp[:12]),
	)

	var segments []Segment
	if o.cache.Get(ctx, ownerID, fp, &segments) {
		log.Info("serving transcription from cache")
		o.metrics.CacheHit()
		o.metrics.JobOutcome("cached")
		prog.emit(1.0, "done")
		return segments, nil
	}
	o.metrics.CacheMiss()

	if !o.limiter.Admit(ctx, ownerID) {
		o.metrics.RateLimited()
		o.metrics.JobOutcome("rate_limited")
		return nil, fmt.Errorf("owner %d: %w", ownerID, ratelimit.ErrRateLimited)
	}

	prog.emit(0.01, "uploading")
	var uploadRef string
	err := o.callProvider(ctx, func(secret string) error {
		ref, uploadErr := o.provider.Upload(ctx, input, secret)
		if uploadErr != nil {
			return uploadErr
		}
		uploadRef = ref
		return nil
	})
	if err != nil {
		o.metrics.JobOutcome("failed")
		return nil, fmt.Errorf("upload phase: %w", err)
	}
	log.Info("payload uploaded", logger.Int("bytes", len(input)))
	prog.emit(0.30, "starting transcription")

	var remoteID string
	err = o.callProvider(ctx, func(secret string) error {
		id, submitErr := o.provider.SubmitJob(ctx, uploadRef, secret)
		if submitErr != nil {
			return submitErr
		}
		remoteID = id
		return nil
	})
	if err != nil {
		o.metrics.JobOutcome("failed")
		return nil, fmt.Errorf("submit phase: %w", err)
	}
	log.Info("job submitted", logger.String("remote_id", remoteID))

	result, err := o.poll(ctx, remoteID, prog)
	if err != nil {
		o.metrics.JobOutcome("failed")
		return nil, err
	}

	segments = parseSegments(result)
	prog.emit(0.90, "formatting results")
	o.cache.Set(ctx, ownerID, fp, segments)
	o.metrics.JobOutcome("completed")
	prog.emit(1.0, "done")
	log.Info("transcription completed", logger.Int("segments", len(segments)))
	return segments, nil
}

// poll watches the remote job until a terminal status, advancing progress
// through the 0.30–0.90 band. Transient poll failures go through the same
// retry+breaker composition as the upload.
func (o *Orchestrator) poll(ctx context.Context, remoteID string, prog *progress) (provider.PollResult, error) {
	deadline := time.Now().Add(o.cfg.PollBudget)
	current := 0.30

	for {
		o.metrics.PollObserved()

		var result provider.PollResult
		err := o.callProvider(ctx, func(secret string) error {
			r, pollErr := o.provider.PollStatus(ctx, remoteID, secret)
			if pollErr != nil {
				return pollErr
			}
			result = r
			return nil
		})
		if err != nil {
			return provider.PollResult{}, fmt.Errorf("poll phase: %w", err)
		}

		switch result.Status {
		case provider.StatusCompleted:
			return result, nil
		case provider.StatusError:
			return provider.PollResult{}, fmt.Errorf("%w: %s", ErrJobFailed, result.Message)
		}

		// Asymptotic advance toward the top of the polling band: visible
		// movement on every poll without ever reaching 0.90 early.
		current += (0.90 - current) * 0.15
		prog.emit(current, "transcribing")

		if time.Now().After(deadline) {
			return provider.PollResult{}, fmt.Errorf("%w: job %s still pending after %v", ErrPollDeadline, remoteID, o.cfg.PollBudget)
		}

		select {
		case <-ctx.Done():
			return provider.PollResult{}, ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// callProvider runs one provider call with the current credential under
// retry+breaker. Quota and auth rejections rotate the pool before the next
// attempt; a circuit-open rejection aborts the remaining schedule.
func (o *Orchestrator) callProvider(ctx context.Context, call func(secret string) error) error {
	return retry.Do(ctx, o.cfg.Retry, func() error {
		return o.breaker.Execute(ctx, func() error {
			cred, err := o.creds.Current()
			if err != nil {
				return err
			}

			if err := call(cred.Secret()); err != nil {
				if faults.NeedsRotation(err) {
					o.creds.RotateOnFailure(faults.ClassOf(err).String())
					o.metrics.CredentialRotated()
				}
				return err
			}

			o.creds.MarkUsed(cred)
			return nil
		})
	})
}

// parseSegments extracts speaker-attributed segments from the terminal
// payload, falling back to a single unattributed segment when the provider
// returned only flat text.
func parseSegments(result provider.PollResult) []Segment {
	if len(result.Utterances) > 0 {
		segments := make([]Segment, 0, len(result.Utterances))
		for _, u := range result.Utterances {
			speaker := u.Speaker
			if speaker == "" {
				speaker = "?"
			}
			segments = append(segments, Segment{Speaker: speaker, Text: trim(u.Text)})
		}
		return segments
	}

	if result.Text != "" {
		return []Segment{{Speaker: "?", Text: trim(result.Text)}}
	}
	return []Segment{}
}
