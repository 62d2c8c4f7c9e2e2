package environment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	path  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context) (string, error) {
	f.calls++
	return f.path, f.err
}

func hasFlag(spec LaunchSpec, name string) bool {
	for _, f := range spec.Flags {
		if f.Name == name {
			return true
		}
	}
	return false
}

func TestResolve_LocalUsesConfiguredPath(t *testing.T) {
	t.Parallel()

	bin := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o700))
	fetcher := &fakeFetcher{}

	r := NewResolver(Config{ExecutionContext: Local, LocalBrowserPath: bin}, fetcher, zap.NewNop())
	spec, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, bin, spec.ExecPath)
	assert.True(t, spec.Headless)
	assert.Equal(t, 1366, spec.ViewportWidth)
	assert.Equal(t, 900, spec.ViewportHeight)
	assert.False(t, hasFlag(spec, "no-sandbox"))
	assert.Zero(t, fetcher.calls, "local context must not download a browser")
}

func TestResolve_LocalMissingPath(t *testing.T) {
	t.Parallel()

	r := NewResolver(Config{ExecutionContext: Local}, nil, nil)
	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvable))
}

func TestResolve_LocalPathDoesNotExist(t *testing.T) {
	t.Parallel()

	r := NewResolver(Config{
		ExecutionContext: Local,
		LocalBrowserPath: filepath.Join(t.TempDir(), "missing"),
	}, nil, nil)
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolve_LocalPathIsDirectory(t *testing.T) {
	t.Parallel()

	r := NewResolver(Config{ExecutionContext: Local, LocalBrowserPath: t.TempDir()}, nil, nil)
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolve_HostedDownloadsAndDisablesSandbox(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{path: "/opt/chromium/chrome"}
	r := NewResolver(Config{
		ExecutionContext: Hosted,
		ViewportWidth:    1280,
		ViewportHeight:   800,
		UserAgent:        "jobextract-test",
	}, fetcher, zap.NewNop())

	spec, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/opt/chromium/chrome", spec.ExecPath)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1280, spec.ViewportWidth)
	assert.Equal(t, "jobextract-test", spec.UserAgent)
	assert.True(t, hasFlag(spec, "no-sandbox"))
	assert.True(t, hasFlag(spec, "disable-dev-shm-usage"))
}

func TestResolve_HostedFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("network unreachable")}
	r := NewResolver(Config{ExecutionContext: Hosted}, fetcher, nil)
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnresolvable)
	assert.Contains(t, err.Error(), "network unreachable")
}

func TestResolve_HostedWithoutFetcher(t *testing.T) {
	t.Parallel()

	r := NewResolver(Config{ExecutionContext: Hosted}, nil, nil)
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolve_UnknownContext(t *testing.T) {
	t.Parallel()

	r := NewResolver(Config{ExecutionContext: "lambda"}, nil, nil)
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrUnresolvable)
}

func TestParseExecutionContext(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in      string
		want    ExecutionContext
		wantErr bool
	}{
		{"local", Local, false},
		{" Hosted ", Hosted, false},
		{"", "", true},
		{"vercel", "", true},
	}
	for _, tc := range testCases {
		got, err := ParseExecutionContext(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}
