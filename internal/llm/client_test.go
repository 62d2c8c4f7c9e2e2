package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path   string
	apiKey string
	body   generateRequest
}

func newGeminiServer(t *testing.T, status int, reply string, calls *atomic.Int32, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if captured != nil {
			captured.path = r.URL.Path
			captured.apiKey = r.Header.Get("x-goog-api-key")
			require.NoError(t, json.Unmarshal(raw, &captured.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateSendsPromptAndReturnsBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var captured capturedRequest
	reply := `{"candidates":[{"content":{"parts":[{"text":"{}"}]}}]}`
	srv := newGeminiServer(t, http.StatusOK, reply, &calls, &captured)

	client := NewClient(Config{APIKey: "secret", Endpoint: srv.URL, Model: "gemini-test"}, nil, nil)
	resp, err := client.Generate(context.Background(), "Acme is hiring a Staff Engineer in Lisbon")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, reply, string(resp.Body))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "/models/gemini-test:generateContent", captured.path)
	assert.Equal(t, "secret", captured.apiKey)

	require.Len(t, captured.body.Contents, 1)
	require.Len(t, captured.body.Contents[0].Parts, 1)
	prompt := captured.body.Contents[0].Parts[0].Text
	for _, key := range []string{`"company"`, `"jobTitle"`, `"location"`, "Staff Engineer in Lisbon"} {
		assert.Contains(t, prompt, key)
	}
}

func TestGenerateMissingKeyMakesNoCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newGeminiServer(t, http.StatusOK, `{}`, &calls, nil)

	client := NewClient(Config{APIKey: "  ", Endpoint: srv.URL}, nil, nil)
	_, err := client.Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Zero(t, calls.Load())
}

func TestGenerateNon2xxCarriesBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	reply := `{"error":{"code":403,"message":"API key not valid"}}`
	srv := newGeminiServer(t, http.StatusForbidden, reply, &calls, nil)

	client := NewClient(Config{APIKey: "bad", Endpoint: srv.URL}, nil, nil)
	_, err := client.Generate(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCall)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusForbidden, callErr.StatusCode)
	assert.JSONEq(t, reply, string(callErr.Body))
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGenerateTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: endpoint}, nil, nil)
	_, err := client.Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrCall)
}

func TestGenerateHonorsTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	start := time.Now()
	_, err := client.Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrCall)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateTruncatesInput(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var captured capturedRequest
	srv := newGeminiServer(t, http.StatusOK, `{}`, &calls, &captured)

	long := strings.Repeat("x", 50) + "TAIL"
	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL, MaxInputChars: 50}, nil, nil)
	_, err := client.Generate(context.Background(), long)
	require.NoError(t, err)

	prompt := captured.body.Contents[0].Parts[0].Text
	assert.NotContains(t, prompt, "TAIL")
	assert.True(t, strings.HasSuffix(prompt, strings.Repeat("x", 50)))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcd", 4, "abcd"},
		{"ascii", "abcdef", 3, "abc"},
		{"multibyte", "Zürich München", 6, "Zürich"},
		{"emoji", "🚀🚀🚀", 2, "🚀🚀"},
		{"no limit", "abc", 0, "abc"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Truncate(tc.text, tc.limit))
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, nil, nil)
	assert.Equal(t, DefaultEndpoint, c.cfg.Endpoint)
	assert.Equal(t, DefaultModel, c.cfg.Model)
	assert.Equal(t, DefaultMaxInputChars, c.cfg.MaxInputChars)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}
