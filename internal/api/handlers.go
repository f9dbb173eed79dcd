package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echoscribe/echoscribe/internal/breaker"
	"github.com/echoscribe/echoscribe/internal/cache"
	"github.com/echoscribe/echoscribe/internal/credentials"
	"github.com/echoscribe/echoscribe/internal/index"
	"github.com/echoscribe/echoscribe/internal/jobs"
	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/ratelimit"
	"github.com/echoscribe/echoscribe/internal/retry"
	"github.com/echoscribe/echoscribe/internal/store"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// maxUploadBytes bounds accepted audio payloads (100 MiB).
const maxUploadBytes = 100 << 20

// jobTimeout bounds one background transcription job end to end.
const jobTimeout = 30 * time.Minute

// Failure kinds stored on jobs and returned to API consumers.
const (
	kindRateLimited      = "rate_limited"
	kindCircuitOpen      = "circuit_open"
	kindRetriesExhausted = "retries_exhausted"
	kindNoCredentials    = "no_credentials"
	kindJobFailed        = "job_failed"
	kindTimeout          = "timeout"
	kindInternal         = "internal"
)

// Handlers wires the pipeline components into HTTP endpoints.
type Handlers struct {
	orchestrator *transcribe.Orchestrator
	summarizer   *summary.Service
	registry     *jobs.Registry
	indexer      *index.Writer
	store        store.Store
	providerCred *credentials.Rotator
	summaryCred  *credentials.Rotator
	breakers     []*breaker.Breaker
	log          logger.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	orch *transcribe.Orchestrator,
	sum *summary.Service,
	reg *jobs.Registry,
	idx *index.Writer,
	st store.Store,
	providerCred, summaryCred *credentials.Rotator,
	breakers []*breaker.Breaker,
	log logger.Logger,
) *Handlers {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handlers{
		orchestrator: orch,
		summarizer:   sum,
		registry:     reg,
		indexer:      idx,
		store:        st,
		providerCred: providerCred,
		summaryCred:  summaryCred,
		breakers:     breakers,
		log:          log,
	}
}

// Register installs all routes on the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/transcriptions", h.submitTranscription)
		v1.GET("/transcriptions/:id", h.getTranscription)
		v1.GET("/transcriptions/:id/events", h.streamTranscription)
		v1.POST("/summaries", h.createSummary)
	}
}

// submitTranscription accepts a multipart upload and starts the job in the
// background. The response carries the job ID for status polling or SSE.
func (h *Handlers) submitTranscription(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.PostForm("owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id must be a positive integer"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open uploaded file"})
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read uploaded file"})
		return
	}
	if len(payload) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	jobID := h.registry.Create(ownerID)
	go h.runJob(jobID, ownerID, payload)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": "accepted",
	})
}

// runJob executes the transcription on its own goroutine and records the
// outcome in the registry. The request context is gone by the time this
// runs, so the job gets its own deadline.
func (h *Handlers) runJob(jobID string, ownerID int64, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	segments, err := h.orchestrator.Run(ctx, ownerID, payload, func(progress float64, note string) {
		h.registry.Progress(jobID, progress, note)
	})
	if err != nil {
		kind := failureKind(err)
		h.log.Warn("transcription job failed",
			logger.String("job_id", jobID),
			logger.Int64("owner_id", ownerID),
			logger.String("kind", kind),
			logger.Error(err),
		)
		h.registry.Fail(jobID, kind, err)
		return
	}

	h.registry.Complete(jobID, segments)

	if h.indexer != nil && h.indexer.Enabled() {
		fp := cache.Fingerprint(payload)
		if err := h.indexer.IndexTranscript(ctx, ownerID, fp, segments); err != nil {
			h.log.Warn("transcript indexing failed",
				logger.String("job_id", jobID),
				logger.Error(err),
			)
		}
	}
}

// getTranscription returns the current snapshot of a job.
func (h *Handlers) getTranscription(c *gin.Context) {
	job, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// streamTranscription streams job updates as server-sent events until the
// job terminates or the client disconnects. A job that is already terminal
// yields exactly one event.
func (h *Handlers) streamTranscription(c *gin.Context) {
	id := c.Param("id")
	job, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if job.Terminal() {
		c.SSEvent("update", jobs.Update{
			Progress: job.Progress,
			Phase:    job.Phase,
			Note:     job.Note,
			Error:    job.Error,
			Done:     true,
		})
		c.Writer.Flush()
		return
	}

	updates, cancel := h.registry.Subscribe(id)
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case update, open := <-updates:
			if !open {
				return false
			}
			c.SSEvent("update", update)
			return !update.Done
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type summaryRequest struct {
	Segments []transcribe.Segment `json:"segments" binding:"required"`
	Kind     string               `json:"kind"`
}

// createSummary generates a summary or timecode outline for the given
// segments. The summarizer degrades to a local rendering when the LLM is
// unavailable, so this endpoint only fails on bad input or cancellation.
func (h *Handlers) createSummary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "segments are required"})
		return
	}
	if len(req.Segments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "segments must not be empty"})
		return
	}

	var (
		text string
		err  error
	)
	switch req.Kind {
	case "", "summary":
		text, err = h.summarizer.Summarize(c.Request.Context(), req.Segments)
	case "timecodes":
		text, err = h.summarizer.Timecodes(c.Request.Context(), req.Segments)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be summary or timecodes"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind": orDefault(req.Kind, "summary"),
		"text": text,
	})
}

// health reports the store, credential pools, and breaker states. A failing
// store degrades the report but does not fail the endpoint: the service
// keeps working on the in-memory fallback.
func (h *Handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		storeStatus = "unavailable"
	}

	breakerStates := make(map[string]string, len(h.breakers))
	for _, br := range h.breakers {
		breakerStates[br.Name()] = br.State().String()
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"store":  storeStatus,
		"credentials": gin.H{
			"provider": h.providerCred.Health(),
			"summary":  h.summaryCred.Health(),
		},
		"breakers": breakerStates,
	})
}

// failureKind maps pipeline errors to the machine-readable categories the
// bot layer translates into user-facing messages.
func failureKind(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return kindRateLimited
	case errors.Is(err, breaker.ErrCircuitOpen):
		return kindCircuitOpen
	case errors.Is(err, credentials.ErrNoCredentials):
		return kindNoCredentials
	case errors.Is(err, transcribe.ErrJobFailed):
		return kindJobFailed
	case errors.Is(err, transcribe.ErrPollDeadline),
		errors.Is(err, context.DeadlineExceeded):
		return kindTimeout
	case errors.Is(err, retry.ErrRetriesExhausted):
		return kindRetriesExhausted
	default:
		return kindInternal
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
