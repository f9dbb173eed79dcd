// Package summary generates meeting-style summaries and timecode outlines
// from transcription segments using an LLM, rotating API keys on quota or
// auth rejections. When every key is exhausted it degrades to a
// deterministic local rendering instead of failing the caller.
package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/echoscribe/echoscribe/internal/breaker"
	"github.com/echoscribe/echoscribe/internal/credentials"
	"github.com/echoscribe/echoscribe/internal/faults"
	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/retry"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Completer produces one completion for a prompt using the given API key.
// It exists so tests can script quota and auth failures without the SDK.
type Completer interface {
	Complete(ctx context.Context, secret, prompt string) (string, error)
}

// Config holds summarizer tuning.
type Config struct {
	// Model is the LLM model identifier.
	Model string `yaml:"model" env:"SUMMARY_MODEL"`
	// MaxTokens bounds the completion length.
	MaxTokens int64 `yaml:"max_tokens" env:"SUMMARY_MAX_TOKENS"`
	// SegmentSeconds is the nominal audio length of one segment, used to
	// derive timecodes from segment ordinals.
	SegmentSeconds int `yaml:"segment_seconds" env:"SUMMARY_SEGMENT_SECONDS"`
	// Retry applies to each completion call.
	Retry retry.Config `yaml:"retry"`
}

func (c *Config) setDefaults() {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 60
	}
}

// Service is the summarization entry point.
type Service struct {
	completer Completer
	creds     *credentials.Rotator
	breaker   *breaker.Breaker
	cfg       Config
	log       logger.Logger
}

// NewService creates a summarizer backed by the Anthropic API.
func NewService(creds *credentials.Rotator, br *breaker.Breaker, cfg Config, log logger.Logger) *Service {
	cfg.setDefaults()
	svc := NewServiceWith(&anthropicCompleter{
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, creds, br, cfg, log)
	return svc
}

// NewServiceWith injects the completer; tests use this with a fake.
func NewServiceWith(cp Completer, creds *credentials.Rotator, br *breaker.Breaker, cfg Config, log logger.Logger) *Service {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		completer: cp,
		creds:     creds,
		breaker:   br,
		cfg:       cfg,
		log:       log,
	}
}

// Summarize produces a structured meeting-style summary of the segments.
// LLM failures degrade to a local fallback rendering.
func (s *Service) Summarize(ctx context.Context, segments []transcribe.Segment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := s.complete(ctx, summaryPrompt(segments))
	if err != nil {
		s.log.Warn("summary generation failed, using fallback", logger.Error(err))
		return fallbackSummary(segments), nil
	}
	return scrub(text), nil
}

// Timecodes produces a chronological topic outline with MM:SS markers.
// LLM failures degrade to a local fallback rendering.
func (s *Service) Timecodes(ctx context.Context, segments []transcribe.Segment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := s.complete(ctx, timecodesPrompt(segments, s.cfg.SegmentSeconds))
	if err != nil {
		s.log.Warn("timecode generation failed, using fallback", logger.Error(err))
		return fallbackTimecodes(segments, s.cfg.SegmentSeconds), nil
	}
	return scrub(text), nil
}

// complete runs one completion under retry+breaker with the current key,
// rotating on quota or auth rejections.
func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		return s.breaker.Execute(ctx, func() error {
			cred, err := s.creds.Current()
			if err != nil {
				return err
			}

			text, err := s.completer.Complete(ctx, cred.Secret(), prompt)
			if err != nil {
				if faults.NeedsRotation(err) {
					s.creds.RotateOnFailure(faults.ClassOf(err).String())
				}
				return err
			}

			s.creds.MarkUsed(cred)
			out = text
			return nil
		})
	})
	return out, err
}

// anthropicCompleter is the production Completer. A fresh SDK client is
// constructed per call so the rotator, not the SDK, owns key selection.
type anthropicCompleter struct {
	model     anthropic.Model
	maxTokens int64
}

func (a *anthropicCompleter) Complete(ctx context.Context, secret, prompt string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(secret))

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// classify maps SDK errors to fault classes.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return faults.Tag(err, faults.Quota)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return faults.Tag(err, faults.Unauthorized)
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return faults.Tag(err, faults.Transient)
		default:
			return faults.Tag(err, faults.Permanent)
		}
	}
	// Transport-level failure.
	return faults.Tag(err, faults.Transient)
}

// scrub removes markdown emphasis the prompt asks the model to avoid anyway.
func scrub(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "*", ""))
}

func summaryPrompt(segments []transcribe.Segment) string {
	return fmt.Sprintf(`Analyze the full audio transcript below and produce a structured
meeting-style summary.

Transcript:
%s

Instructions:
1. Identify the main topic of the conversation.
2. Break the content into titled sections with a short description each.
3. Use plain text without formatting characters.
4. Finish with a "CONCLUSION" section holding the key takeaways.
5. Be precise and do not invent information.`, transcribe.FormatPlain(segments))
}

func timecodesPrompt(segments []transcribe.Segment, segmentSeconds int) string {
	var sb strings.Builder
	for i, seg := range segments {
		sb.WriteString(fmt.Sprintf("[%s] %s\n\n", timecode(i, segmentSeconds), seg.Text))
	}

	return fmt.Sprintf(`Analyze the timestamped transcript below and produce a structured
chronological outline.

Transcript with timecodes:
%s
Instructions:
1. Identify the main thematic blocks.
2. Group consecutive segments into logical blocks.
3. Give each block its starting time as MM:SS and a concise description.
4. Keep chronological order and use plain text.`, sb.String())
}

// fallbackSummary is the deterministic rendering used when the LLM is
// unavailable.
func fallbackSummary(segments []transcribe.Segment) string {
	full := transcribe.FormatPlain(segments)
	if len(full) > 200 {
		full = full[:200] + "..."
	}

	var sb strings.Builder
	sb.WriteString("Summary\n\n1. Main topic\n\n")
	sb.WriteString(full)
	sb.WriteString("\n\nCONCLUSION\n\nKey points are covered in the transcript above.")
	return sb.String()
}

// fallbackTimecodes lists each segment with its derived start time.
func fallbackTimecodes(segments []transcribe.Segment, segmentSeconds int) string {
	var sb strings.Builder
	sb.WriteString("Timecodes\n\n")
	for i, seg := range segments {
		text := seg.Text
		if len(text) > 50 {
			text = text[:50] + "..."
		}
		sb.WriteString(fmt.Sprintf("%s - %s\n", timecode(i, segmentSeconds), text))
	}
	return strings.TrimSpace(sb.String())
}

func timecode(ordinal, segmentSeconds int) string {
	start := ordinal * segmentSeconds
	return fmt.Sprintf("%02d:%02d", start/60, start%60)
}
