package environment

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// RodFetcher downloads a pinned Chromium revision using go-rod's launcher.
// The binary is cached under Dir, so only the first call on a host downloads.
type RodFetcher struct {
	Dir    string
	logger *zap.Logger
}

// NewRodFetcher returns a fetcher caching browsers under dir.
// An empty dir uses rod's default cache location.
func NewRodFetcher(dir string, logger *zap.Logger) *RodFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodFetcher{Dir: dir, logger: logger}
}

// Fetch returns the path of a usable Chromium binary, downloading it if needed.
func (f *RodFetcher) Fetch(ctx context.Context) (string, error) {
	b := launcher.NewBrowser()
	b.Context = ctx
	b.Logger = zap.NewStdLog(f.logger)
	if f.Dir != "" {
		b.RootDir = f.Dir
	}
	path, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("download chromium revision %d: %w", b.Revision, err)
	}
	f.logger.Debug("chromium available", zap.String("path", path), zap.Int("revision", b.Revision))
	return path, nil
}
