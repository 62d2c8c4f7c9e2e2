// Package render owns the lifecycle of one headless browser per request:
// launch, navigate, settle, extract markup, and guaranteed teardown.
package render

import (
	"context"
	"errors"

	"github.com/JakeFAU/jobinfo-extractor/internal/environment"
)

// Failure classes reported by Manager.Render. Returned errors wrap exactly one.
var (
	ErrLaunch     = errors.New("browser launch failed")
	ErrNavigation = errors.New("navigation failed")
	ErrMarkup     = errors.New("markup extraction failed")
)

// Page is the rendered markup of one navigation.
type Page struct {
	URL  string
	HTML string
}

// Driver starts browser processes.
type Driver interface {
	Launch(ctx context.Context, spec environment.LaunchSpec) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	// Close terminates the process. It must be safe to call once per Browser.
	Close() error
}

// Tab is a single page within a Browser.
type Tab interface {
	SetViewport(ctx context.Context, width, height int) error
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until document.readyState is complete or ctx ends.
	WaitReady(ctx context.Context) error
	OuterHTML(ctx context.Context) (string, error)
}

// SpecResolver supplies launch parameters; *environment.Resolver satisfies it.
type SpecResolver interface {
	Resolve(ctx context.Context) (environment.LaunchSpec, error)
}
