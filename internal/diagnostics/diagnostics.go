// Package diagnostics persists a JSON snapshot of an extraction run so failed
// pages can be inspected after the fact.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxExcerptChars caps the HTML kept in an artifact.
const MaxExcerptChars = 1000

const contentType = "application/json"

// BlobStore persists artifact bytes and returns a URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Artifact is the stored snapshot of one extraction.
type Artifact struct {
	RequestID   string          `json:"request_id"`
	URL         string          `json:"url"`
	Outcome     string          `json:"outcome"`
	Stage       string          `json:"stage,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Message     string          `json:"message,omitempty"`
	HTMLExcerpt string          `json:"html_excerpt,omitempty"`
	LLMRaw      json.RawMessage `json:"llm_raw,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Recorder writes artifacts on a best-effort basis. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	store          BlobStore
	prefix         string
	captureSuccess bool
	logger         *zap.Logger
	now            func() time.Time
}

// Options configure a Recorder.
type Options struct {
	Prefix         string
	CaptureSuccess bool
}

// NewRecorder returns a Recorder backed by store.
func NewRecorder(store BlobStore, opts Options, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Prefix == "" {
		opts.Prefix = "diagnostics"
	}
	return &Recorder{
		store:          store,
		prefix:         opts.Prefix,
		captureSuccess: opts.CaptureSuccess,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Wants reports whether an artifact for the given outcome would be written.
func (r *Recorder) Wants(succeeded bool) bool {
	if r == nil || r.store == nil {
		return false
	}
	return !succeeded || r.captureSuccess
}

// Record stores a. Failures are logged and swallowed; the returned URI is
// empty when nothing was written.
func (r *Recorder) Record(ctx context.Context, a Artifact) string {
	if !r.Wants(a.Outcome == "succeeded") {
		return ""
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.HTMLExcerpt = Excerpt(a.HTMLExcerpt)
	if len(a.LLMRaw) > 0 && !json.Valid(a.LLMRaw) {
		quoted, _ := json.Marshal(string(a.LLMRaw))
		a.LLMRaw = quoted
	}

	body, err := json.Marshal(a)
	if err != nil {
		r.logger.Warn("diagnostics marshal failed", zap.String("request_id", a.RequestID), zap.Error(err))
		return ""
	}

	path := ObjectPath(r.prefix, a)
	uri, err := r.store.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("diagnostics write failed",
			zap.String("request_id", a.RequestID),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	r.logger.Debug("diagnostics written", zap.String("request_id", a.RequestID), zap.String("uri", uri))
	return uri
}

// ObjectPath lays artifacts out as prefix/YYYY/MM/DD/outcome/request_id.json.
func ObjectPath(prefix string, a Artifact) string {
	outcome := a.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	return fmt.Sprintf("%s/%s/%s/%s.json", prefix, a.CreatedAt.UTC().Format("2006/01/02"), outcome, a.RequestID)
}

// Excerpt returns at most the first MaxExcerptChars characters of html.
func Excerpt(html string) string {
	if utf8.RuneCountInString(html) <= MaxExcerptChars {
		return html
	}
	n := 0
	for i := range html {
		if n == MaxExcerptChars {
			return html[:i]
		}
		n++
	}
	return html
}
