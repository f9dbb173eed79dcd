package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/echoscribe/echoscribe/internal/faults"
	"github.com/echoscribe/echoscribe/internal/httpx"
	"github.com/echoscribe/echoscribe/internal/logger"
)

// HTTPConfig configures the HTTP provider client.
type HTTPConfig struct {
	// BaseURL is the provider API root, e.g. https://api.example.com/v2.
	BaseURL string `yaml:"base_url" env:"PROVIDER_BASE_URL"`
	// Timeout bounds each individual HTTP call.
	Timeout time.Duration `yaml:"timeout" env:"PROVIDER_TIMEOUT"`
}

// HTTPClient talks to a transcription provider with an upload → submit →
// poll API shape.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a provider client for the given API root.
func NewHTTPClient(cfg HTTPConfig, log logger.Logger) *HTTPClient {
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    httpx.NewClient(cfg.Timeout),
		log:     log,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

// Upload sends the raw payload and returns the provider's upload reference.
func (c *HTTPClient) Upload(ctx context.Context, payload []byte, secret string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if out.UploadURL == "" {
		return "", faults.Tagf(faults.Transient, "upload: provider returned no upload_url")
	}
	return out.UploadURL, nil
}

type submitRequest struct {
	AudioURL          string `json:"audio_url"`
	SpeakerLabels     bool   `json:"speaker_labels"`
	Punctuate         bool   `json:"punctuate"`
	FormatText        bool   `json:"format_text"`
	LanguageDetection bool   `json:"language_detection"`
}

type transcriptResponse struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Utterances []Utterance `json:"utterances"`
	Text       string      `json:"text"`
	Error      string      `json:"error"`
}

// SubmitJob starts a transcription job over a previous upload.
func (c *HTTPClient) SubmitJob(ctx context.Context, uploadRef, secret string) (string, error) {
	body, err := json.Marshal(submitRequest{
		AudioURL:          uploadRef,
		SpeakerLabels:     true,
		Punctuate:         true,
		FormatText:        true,
		LanguageDetection: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/json")

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if out.ID == "" {
		return "", faults.Tagf(faults.Transient, "submit job: provider returned no job id")
	}
	return out.ID, nil
}

// PollStatus reports the job's current status. Non-terminal provider states
// (queued, processing) all map to StatusPending.
func (c *HTTPClient) PollStatus(ctx context.Context, jobID, secret string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcript/"+jobID, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return PollResult{}, fmt.Errorf("poll status: %w", err)
	}

	result := PollResult{
		Utterances: out.Utterances,
		Text:       out.Text,
		Message:    out.Error,
	}
	switch out.Status {
	case "completed":
		result.Status = StatusCompleted
	case "error":
		result.Status = StatusError
	default:
		result.Status = StatusPending
	}
	return result, nil
}

// do executes the request and decodes a 2xx JSON body into out. Every
// failure is tagged with a fault class so callers can route it through
// retry, breaker, and rotation logic.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Tag(err, faults.Transient)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return faults.Tagf(classifyStatus(resp.StatusCode),
			"provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Tagf(faults.Transient, "decode provider response: %v", err)
	}
	return nil
}

// classifyStatus maps an HTTP status code to a fault class.
func classifyStatus(code int) faults.Class {
	switch {
	case code == http.StatusTooManyRequests:
		return faults.Quota
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return faults.Unauthorized
	case code >= http.StatusInternalServerError:
		return faults.Transient
	default:
		return faults.Permanent
	}
}
