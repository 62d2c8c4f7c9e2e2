// Package pipeline sequences the extraction stages for a single job-posting
// URL and classifies the first failure.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobinfo-extractor/internal/decode"
	"github.com/JakeFAU/jobinfo-extractor/internal/diagnostics"
	"github.com/JakeFAU/jobinfo-extractor/internal/environment"
	"github.com/JakeFAU/jobinfo-extractor/internal/llm"
	"github.com/JakeFAU/jobinfo-extractor/internal/metrics"
	"github.com/JakeFAU/jobinfo-extractor/internal/reducer"
	"github.com/JakeFAU/jobinfo-extractor/internal/render"
	"github.com/JakeFAU/jobinfo-extractor/internal/render/cdpdriver"
)

const (
	diagnosticsTimeout = 5 * time.Second
	tracerName         = "github.com/JakeFAU/jobinfo-extractor/internal/pipeline"
)

// Renderer produces the markup of a page.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (render.Page, error)
}

// Prompter sends reduced text to the model.
type Prompter interface {
	Generate(ctx context.Context, text string) (llm.Response, error)
}

// Request is one extraction job.
type Request struct {
	URL string
	// ID correlates logs and diagnostics; one is generated when empty.
	ID string
}

// Options is the process configuration the pipeline needs.
type Options struct {
	APIKey string

	ExecutionContext   environment.ExecutionContext
	LocalBrowserPath   string
	BrowserDownloadDir string
	ViewportWidth      int
	ViewportHeight     int
	UserAgent          string
	NavigationTimeout  time.Duration
	SettleMin          time.Duration
	SettleMax          time.Duration

	LLMEndpoint   string
	LLMModel      string
	MaxInputChars int
	LLMTimeout    time.Duration

	// TrackedSites get their own jobextract_sites_total label; all other
	// hosts share "other".
	TrackedSites []string
}

// Components overrides the collaborators New would otherwise build from Options.
type Components struct {
	Renderer Renderer
	Prompter Prompter
	Recorder *diagnostics.Recorder
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Orchestrator runs the stages of one extraction in order.
type Orchestrator struct {
	apiKey   string
	renderer Renderer
	prompter Prompter
	recorder *diagnostics.Recorder
	sites    metrics.SiteSet
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New wires an Orchestrator. Nil components are built from opts.
func New(opts Options, c Components, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Renderer == nil {
		var fetcher environment.BinaryFetcher
		if opts.ExecutionContext == environment.Hosted {
			fetcher = environment.NewRodFetcher(opts.BrowserDownloadDir, logger.Named("environment"))
		}
		resolver := environment.NewResolver(environment.Config{
			ExecutionContext: opts.ExecutionContext,
			LocalBrowserPath: opts.LocalBrowserPath,
			ViewportWidth:    opts.ViewportWidth,
			ViewportHeight:   opts.ViewportHeight,
			UserAgent:        opts.UserAgent,
		}, fetcher, logger.Named("environment"))
		c.Renderer = render.NewManager(resolver, cdpdriver.New(logger.Named("chromedp")), render.Config{
			NavigationTimeout: opts.NavigationTimeout,
			SettleMin:         opts.SettleMin,
			SettleMax:         opts.SettleMax,
		}, logger.Named("render"))
	}
	if c.Prompter == nil {
		c.Prompter = llm.NewClient(llm.Config{
			APIKey:        opts.APIKey,
			Endpoint:      opts.LLMEndpoint,
			Model:         opts.LLMModel,
			MaxInputChars: opts.MaxInputChars,
			Timeout:       opts.LLMTimeout,
		}, nil, logger.Named("llm"))
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	return &Orchestrator{
		apiKey:   opts.APIKey,
		renderer: c.Renderer,
		prompter: c.Prompter,
		recorder: c.Recorder,
		sites:    metrics.NewSiteSet(opts.TrackedSites),
		tracer:   c.TracerProvider.Tracer(tracerName),
		logger:   logger,
	}
}

// run holds the intermediate products of one extraction for diagnostics.
type run struct {
	id     string
	url    string
	stage  Stage
	html   string
	llmRaw json.RawMessage
	logger *zap.Logger
	tracer trace.Tracer
}

// Extract runs Validating, Rendering, Reducing, Prompting and Decoding in
// order. The first failure ends the run and is returned as *Error.
func (o *Orchestrator) Extract(ctx context.Context, req Request) (decode.Record, error) {
	r := &run{id: req.ID, url: strings.TrimSpace(req.URL), tracer: o.tracer}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.logger = o.logger.With(zap.String("request_id", r.id), zap.String("url", r.url))

	ctx, span := o.tracer.Start(ctx, "extract", trace.WithAttributes(
		attribute.String("request.id", r.id),
		attribute.String("url.full", r.url),
	))
	defer span.End()

	start := time.Now()
	rec, err := o.execute(ctx, r)
	outcome := "succeeded"
	var pErr *Error
	if err != nil {
		outcome = "failed"
		errors.As(err, &pErr)
	}
	metrics.ObserveExtraction(outcome, string(r.stage))
	// Rejected input never reaches the per-site counter.
	if pErr == nil || pErr.Stage != StageValidating {
		metrics.ObserveSite(o.sites.Label(r.url), outcome)
	}
	span.SetAttributes(attribute.String("extraction.outcome", outcome))
	if pErr != nil {
		span.SetAttributes(
			attribute.String("extraction.stage", string(pErr.Stage)),
			attribute.String("extraction.kind", string(pErr.Kind)),
		)
		span.RecordError(pErr)
		span.SetStatus(codes.Error, string(pErr.Kind))
	}

	if pErr != nil {
		r.logger.Warn("extraction failed",
			zap.String("stage", string(pErr.Stage)),
			zap.String("kind", string(pErr.Kind)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(pErr.Err),
		)
	} else {
		r.logger.Info("extraction succeeded", zap.Duration("duration", time.Since(start)))
	}
	o.recordDiagnostics(ctx, r, outcome, pErr)
	return rec, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (decode.Record, error) {
	_, done := r.enter(ctx, StageValidating)
	if err := validateURL(r.url); err != nil {
		done(err)
		return nil, err
	}
	if strings.TrimSpace(o.apiKey) == "" {
		e := newError(StageValidating, KindConfiguration, "llm credential is not configured", llm.ErrMissingAPIKey)
		done(e)
		return nil, e
	}
	done(nil)

	stageCtx, done := r.enter(ctx, StageRendering)
	page, err := o.renderer.Render(stageCtx, r.url)
	done(err)
	if err != nil {
		return nil, classifyRender(err)
	}
	r.html = page.HTML

	_, done = r.enter(ctx, StageReducing)
	text := reducer.Reduce(page.HTML)
	done(nil)
	r.logger.Debug("page reduced", zap.Int("html_bytes", len(page.HTML)), zap.Int("text_chars", len(text)))

	stageCtx, done = r.enter(ctx, StagePrompting)
	resp, err := o.prompter.Generate(stageCtx, text)
	done(err)
	if err != nil {
		e := classifyPrompt(err)
		if raw, ok := e.Detail.(string); ok {
			r.llmRaw = json.RawMessage(raw)
		}
		return nil, e
	}
	r.llmRaw = resp.Body

	_, done = r.enter(ctx, StageDecoding)
	rec, err := decode.Decode(resp.Body)
	done(err)
	if err != nil {
		return nil, classifyDecode(err)
	}
	return rec, nil
}

// enter marks the start of stage. The returned func ends the stage span and
// records its duration.
func (r *run) enter(ctx context.Context, stage Stage) (context.Context, func(error)) {
	r.stage = stage
	r.logger.Debug("stage started", zap.String("stage", string(stage)))
	ctx, span := r.tracer.Start(ctx, string(stage))
	start := time.Now()
	return ctx, func(err error) {
		metrics.ObserveStage(string(stage), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func validateURL(raw string) *Error {
	if raw == "" {
		return newError(StageValidating, KindValidation, "url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return newError(StageValidating, KindValidation, "url is malformed", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return newError(StageValidating, KindValidation, "url must be absolute", nil)
	}
	return nil
}

func (o *Orchestrator) recordDiagnostics(ctx context.Context, r *run, outcome string, pErr *Error) {
	if !o.recorder.Wants(pErr == nil) {
		return
	}
	a := diagnostics.Artifact{
		RequestID:   r.id,
		URL:         r.url,
		Outcome:     outcome,
		HTMLExcerpt: r.html,
		LLMRaw:      r.llmRaw,
	}
	if pErr != nil {
		a.Stage = string(pErr.Stage)
		a.Kind = string(pErr.Kind)
		a.Message = pErr.Error()
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
	defer cancel()
	o.recorder.Record(wctx, a)
}
