// Package index provides an optional fire-and-forget transcript index in
// Elasticsearch so completed transcriptions can be searched later. When no
// URL is configured every method is a no-op, allowing deployments to opt in.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Config holds Elasticsearch connection settings.
type Config struct {
	URL      string `yaml:"url" env:"ELASTICSEARCH_URL"`
	Index    string `yaml:"index" env:"ELASTICSEARCH_INDEX"`
	APIKey   string `yaml:"api_key" env:"ELASTICSEARCH_API_KEY"`
	Username string `yaml:"username" env:"ELASTICSEARCH_USERNAME"`
	Password string `yaml:"password" env:"ELASTICSEARCH_PASSWORD"`
}

// Writer indexes completed transcripts. Errors are returned but callers
// should log them as warnings, not treat them as fatal: indexing never
// blocks the job result.
type Writer struct {
	client *es.Client
	index  string
	log    logger.Logger
}

// NewWriter creates a transcript index writer. An empty URL yields a
// disabled writer whose methods are no-ops.
func NewWriter(cfg Config, log logger.Logger) (*Writer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.URL == "" {
		return &Writer{log: log}, nil
	}
	if cfg.Index == "" {
		cfg.Index = "transcripts"
	}

	clientCfg := es.Config{
		Addresses: []string{normalizeURL(cfg.URL)},
	}
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
	} else if cfg.Username != "" && cfg.Password != "" {
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	client, err := es.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Writer{client: client, index: cfg.Index, log: log}, nil
}

// Enabled reports whether indexing is configured.
func (w *Writer) Enabled() bool {
	return w.client != nil
}

type transcriptDoc struct {
	OwnerID      int64     `json:"owner_id"`
	Fingerprint  string    `json:"fingerprint"`
	Text         string    `json:"text"`
	SegmentCount int       `json:"segment_count"`
	IndexedAt    time.Time `json:"indexed_at"`
}

// IndexTranscript stores the transcript under a document ID derived from
// (owner, fingerprint), so re-running the same input overwrites rather than
// duplicates.
func (w *Writer) IndexTranscript(ctx context.Context, ownerID int64, fingerprint string, segments []transcribe.Segment) error {
	if !w.Enabled() {
		return nil
	}

	doc, err := json.Marshal(transcriptDoc{
		OwnerID:      ownerID,
		Fingerprint:  fingerprint,
		Text:         transcribe.FormatPlain(segments),
		SegmentCount: len(segments),
		IndexedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal transcript doc: %w", err)
	}

	docID := fmt.Sprintf("%d-%s", ownerID, fingerprint)
	res, err := w.client.Index(w.index, bytes.NewReader(doc),
		w.client.Index.WithDocumentID(docID),
		w.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index transcript %s: %w", docID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index transcript %s: %s", docID, res.String())
	}

	w.log.Debug("transcript indexed",
		logger.Int64("owner_id", ownerID),
		logger.String("doc_id", docID),
	)
	return nil
}

func normalizeURL(url string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "http://" + url
	}
	return url
}
