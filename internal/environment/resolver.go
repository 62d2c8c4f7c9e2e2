// Package environment decides which browser binary and launch flags a render
// session uses, based on where the service is running.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ExecutionContext distinguishes a developer machine from a constrained host.
type ExecutionContext string

// Supported execution contexts.
const (
	Local  ExecutionContext = "local"
	Hosted ExecutionContext = "hosted"
)

// ErrUnresolvable indicates no browser binary is available for the context.
var ErrUnresolvable = errors.New("no browser binary for execution context")

// Config captures the inputs to browser resolution.
type Config struct {
	ExecutionContext ExecutionContext
	LocalBrowserPath string
	ViewportWidth    int
	ViewportHeight   int
	UserAgent        string
}

// Flag is a single Chrome command-line switch.
type Flag struct {
	Name  string
	Value any
}

// LaunchSpec is everything a driver needs to start one browser process.
type LaunchSpec struct {
	ExecPath       string
	Headless       bool
	Flags          []Flag
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

// BinaryFetcher acquires a browser executable when none is preinstalled.
type BinaryFetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Resolver maps an execution context to a LaunchSpec.
type Resolver struct {
	cfg     Config
	fetcher BinaryFetcher
	logger  *zap.Logger
	stat    func(string) (os.FileInfo, error)
}

// NewResolver builds a Resolver. fetcher is only consulted in hosted contexts.
func NewResolver(cfg Config, fetcher BinaryFetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1366
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 900
	}
	return &Resolver{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		stat:    os.Stat,
	}
}

// ParseExecutionContext normalizes a configured context name.
func ParseExecutionContext(raw string) (ExecutionContext, error) {
	switch ExecutionContext(strings.ToLower(strings.TrimSpace(raw))) {
	case Local:
		return Local, nil
	case Hosted:
		return Hosted, nil
	default:
		return "", fmt.Errorf("unknown execution context %q", raw)
	}
}

// Resolve returns the executable path and launch flags for the configured
// context. Failures wrap ErrUnresolvable.
func (r *Resolver) Resolve(ctx context.Context) (LaunchSpec, error) {
	spec := LaunchSpec{
		Headless:       true,
		ViewportWidth:  r.cfg.ViewportWidth,
		ViewportHeight: r.cfg.ViewportHeight,
		UserAgent:      r.cfg.UserAgent,
		Flags: []Flag{
			{Name: "disable-gpu", Value: true},
			{Name: "hide-scrollbars", Value: true},
			{Name: "enable-automation", Value: false},
		},
	}

	switch r.cfg.ExecutionContext {
	case Local:
		path, err := r.localPath()
		if err != nil {
			return LaunchSpec{}, err
		}
		spec.ExecPath = path
	case Hosted:
		path, err := r.hostedPath(ctx)
		if err != nil {
			return LaunchSpec{}, err
		}
		spec.ExecPath = path
		// Containers lack the namespaces the sandbox needs and ship a tiny /dev/shm.
		spec.Flags = append(spec.Flags,
			Flag{Name: "no-sandbox", Value: true},
			Flag{Name: "disable-setuid-sandbox", Value: true},
			Flag{Name: "disable-dev-shm-usage", Value: true},
			Flag{Name: "no-zygote", Value: true},
		)
	default:
		return LaunchSpec{}, fmt.Errorf("%w: unknown execution context %q", ErrUnresolvable, r.cfg.ExecutionContext)
	}

	r.logger.Debug("browser resolved",
		zap.String("context", string(r.cfg.ExecutionContext)),
		zap.String("exec_path", spec.ExecPath),
		zap.Int("flags", len(spec.Flags)),
	)
	return spec, nil
}

func (r *Resolver) localPath() (string, error) {
	path := strings.TrimSpace(r.cfg.LocalBrowserPath)
	if path == "" {
		return "", fmt.Errorf("%w: browser.local_path is required in the local context", ErrUnresolvable)
	}
	info, err := r.stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", ErrUnresolvable, path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrUnresolvable, path)
	}
	return path, nil
}

func (r *Resolver) hostedPath(ctx context.Context) (string, error) {
	if r.fetcher == nil {
		return "", fmt.Errorf("%w: no browser fetcher configured for the hosted context", ErrUnresolvable)
	}
	path, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: acquire hosted browser: %w", ErrUnresolvable, err)
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: hosted browser fetcher returned an empty path", ErrUnresolvable)
	}
	return path, nil
}
