package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoscribe/echoscribe/internal/breaker"
	"github.com/echoscribe/echoscribe/internal/cache"
	"github.com/echoscribe/echoscribe/internal/credentials"
	"github.com/echoscribe/echoscribe/internal/index"
	"github.com/echoscribe/echoscribe/internal/jobs"
	"github.com/echoscribe/echoscribe/internal/provider"
	"github.com/echoscribe/echoscribe/internal/ratelimit"
	"github.com/echoscribe/echoscribe/internal/retry"
	"github.com/echoscribe/echoscribe/internal/store"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// instantProvider completes every job on the first poll.
type instantProvider struct{}

func (instantProvider) Upload(ctx context.Context, payload []byte, secret string) (string, error) {
	return "upload-ref", nil
}

func (instantProvider) SubmitJob(ctx context.Context, uploadRef, secret string) (string, error) {
	return "remote-1", nil
}

func (instantProvider) PollStatus(ctx context.Context, jobID, secret string) (provider.PollResult, error) {
	return provider.PollResult{
		Status:     provider.StatusCompleted,
		Utterances: []provider.Utterance{{Speaker: "A", Text: "hello"}},
	}, nil
}

type echoCompleter struct{}

func (echoCompleter) Complete(ctx context.Context, secret, prompt string) (string, error) {
	return "Summary\n\nCONCLUSION\n\nDone.", nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *jobs.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	rc := cache.New(st, cache.Config{}, nil)
	rl := ratelimit.NewLimiter(st, ratelimit.Config{Burst: 100, PerMinute: 100, PerHour: 100}, nil)
	providerCred := credentials.NewRotator([]string{"prov-key-12345678"}, credentials.Config{}, nil)
	summaryCred := credentials.NewRotator([]string{"summ-key-12345678"}, credentials.Config{}, nil)
	providerBr := breaker.New("transcription-provider", breaker.Config{}, nil)
	summaryBr := breaker.New("summary-llm", breaker.Config{}, nil)

	orch := transcribe.NewOrchestrator(instantProvider{}, rc, rl, providerCred, providerBr, transcribe.Config{
		PollInterval: time.Millisecond,
		PollBudget:   time.Second,
		Retry:        retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil, nil)

	sum := summary.NewServiceWith(echoCompleter{}, summaryCred, summaryBr, summary.Config{
		Retry: retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)

	idx, err := index.NewWriter(index.Config{}, nil)
	require.NoError(t, err)

	registry := jobs.NewRegistry()
	handlers := NewHandlers(orch, sum, registry, idx, st, providerCred, summaryCred,
		[]*breaker.Breaker{providerBr, summaryBr}, nil)

	router := gin.New()
	handlers.Register(router)
	return router, registry
}

func multipartBody(t *testing.T, ownerID string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("owner_id", ownerID))
	fw, err := w.CreateFormFile("file", "audio.ogg")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestSubmitTranscription_CompletesJob(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartBody(t, "42", []byte("audio bytes"))
	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)

	// The job runs on a background goroutine; poll the status endpoint.
	deadline := time.After(2 * time.Second)
	for {
		statusReq := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/"+accepted.JobID, nil)
		statusRec := httptest.NewRecorder()
		router.ServeHTTP(statusRec, statusReq)
		require.Equal(t, http.StatusOK, statusRec.Code)

		var job jobs.Job
		require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &job))
		if job.Terminal() {
			assert.Equal(t, jobs.PhaseCompleted, job.Phase)
			assert.Equal(t, 1.0, job.Progress)
			require.Len(t, job.Segments, 1)
			assert.Equal(t, "hello", job.Segments[0].Text)
			return
		}

		select {
		case <-deadline:
			t.Fatalf("job never completed, last snapshot: %+v", job)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitTranscription_Validation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name    string
		ownerID string
		file    bool
	}{
		{"missing owner", "", true},
		{"non-numeric owner", "abc", true},
		{"negative owner", "-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.ownerID, []byte("audio"))
			req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetTranscription_Unknown(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/no-such-job", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSummary(t *testing.T) {
	router, _ := newTestRouter(t)

	payload, err := json.Marshal(map[string]any{
		"segments": []transcribe.Segment{{Speaker: "A", Text: "hello world"}},
		"kind":     "summary",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/summaries", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "summary", out.Kind)
	assert.Contains(t, out.Text, "CONCLUSION")
}

func TestCreateSummary_Validation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"empty segments", `{"segments": []}`},
		{"unknown kind", `{"segments": [{"speaker":"A","text":"hi"}], "kind": "haiku"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/summaries", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Status   string            `json:"status"`
		Store    string            `json:"store"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "ok", out.Store)
	assert.Equal(t, "closed", out.Breakers["transcription-provider"])
	assert.Equal(t, "closed", out.Breakers["summary-llm"])
}

func TestFailureKind(t *testing.T) {
	exhausted := fmt.Errorf("upload phase: %w after 3 attempts: %w",
		retry.ErrRetriesExhausted, errors.New("boom"))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", fmt.Errorf("owner 1: %w", ratelimit.ErrRateLimited), kindRateLimited},
		{"circuit open", fmt.Errorf("upload phase: %w", breaker.ErrCircuitOpen), kindCircuitOpen},
		{"no credentials", fmt.Errorf("upload phase: %w", credentials.ErrNoCredentials), kindNoCredentials},
		{"job failed", fmt.Errorf("%w: bad audio", transcribe.ErrJobFailed), kindJobFailed},
		{"poll deadline", fmt.Errorf("%w: still pending", transcribe.ErrPollDeadline), kindTimeout},
		{"context deadline", context.DeadlineExceeded, kindTimeout},
		{"retries exhausted", exhausted, kindRetriesExhausted},
		{"anything else", errors.New("boom"), kindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureKind(tt.err))
		})
	}
}
