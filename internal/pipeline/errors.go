package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/jobinfo-extractor/internal/decode"
	"github.com/JakeFAU/jobinfo-extractor/internal/environment"
	"github.com/JakeFAU/jobinfo-extractor/internal/llm"
	"github.com/JakeFAU/jobinfo-extractor/internal/render"
)

// Stage names a step of the extraction pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageValidating Stage = "validating"
	StageRendering  Stage = "rendering"
	StageReducing   Stage = "reducing"
	StagePrompting  Stage = "prompting"
	StageDecoding   Stage = "decoding"
)

// Kind classifies a pipeline failure.
type Kind string

// Failure kinds.
const (
	KindValidation       Kind = "ValidationError"
	KindConfiguration    Kind = "ConfigurationError"
	KindBrowserLaunch    Kind = "BrowserLaunchError"
	KindNavigation       Kind = "NavigationError"
	KindMarkupExtraction Kind = "MarkupExtractionError"
	KindLLMCall          Kind = "LlmCallError"
	KindDecode           Kind = "DecodeError"
)

// Error is the single failure type returned by Orchestrator.Extract.
type Error struct {
	Stage   Stage
	Kind    Kind
	Message string
	// Detail is the raw provider payload when one is available.
	Detail  any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s during %s: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s during %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Details renders the underlying cause for clients, or "" when there is none.
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Timeout reports whether the failure was caused by a deadline.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func newError(stage Stage, kind Kind, message string, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Message: message, Err: err}
}

func classifyRender(err error) *Error {
	switch {
	case errors.Is(err, environment.ErrUnresolvable):
		return newError(StageRendering, KindConfiguration, "no browser available for this environment", err)
	case errors.Is(err, render.ErrNavigation):
		return newError(StageRendering, KindNavigation, "failed to load the page", err)
	case errors.Is(err, render.ErrMarkup):
		return newError(StageRendering, KindMarkupExtraction, "failed to read the page markup", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(StageRendering, KindNavigation, "rendering was interrupted", err)
	default:
		return newError(StageRendering, KindBrowserLaunch, "failed to start the browser", err)
	}
}

func classifyPrompt(err error) *Error {
	if errors.Is(err, llm.ErrMissingAPIKey) {
		return newError(StagePrompting, KindConfiguration, "llm credential is not configured", err)
	}
	e := newError(StagePrompting, KindLLMCall, "failed to get a response from the model", err)
	var callErr *llm.CallError
	if errors.As(err, &callErr) && len(callErr.Body) > 0 {
		e.Detail = string(callErr.Body)
	}
	return e
}

func classifyDecode(err error) *Error {
	e := newError(StageDecoding, KindDecode, "failed to parse the model response", err)
	var decErr *decode.Error
	if errors.As(err, &decErr) {
		e.Detail = decErr.Raw
	}
	return e
}
