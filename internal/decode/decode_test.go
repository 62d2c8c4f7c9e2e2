package decode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(t *testing.T, text string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestDecodeFencedJSON(t *testing.T) {
	t.Parallel()

	text := "Here you go:\n```json\n{\"company\":\"Acme\",\"jobTitle\":\"Staff Engineer\",\"location\":\"Berlin\"}\n```\n"
	rec, err := Decode(reply(t, text))
	require.NoError(t, err)
	assert.Equal(t, ExtractionResult{Company: "Acme", JobTitle: "Staff Engineer", Location: "Berlin"}, rec.Extraction())
}

func TestDecodeUntaggedFence(t *testing.T) {
	t.Parallel()

	rec, err := Decode(reply(t, "```\n{\"company\":\"Initech\"}\n```"))
	require.NoError(t, err)
	assert.Equal(t, "Initech", rec["company"])
}

func TestDecodeFenceInfoStrings(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"```JSON\n{\"company\":\"Acme\"}\n```",
		"```Json\n{\"company\":\"Acme\"}\n```",
		"```jsonc\n{\"company\":\"Acme\"}\n```",
		"```json {\"company\":\"Acme\"}```",
		"```{\"company\":\"Acme\"}```",
	} {
		t.Run(text, func(t *testing.T) {
			t.Parallel()
			rec, err := Decode(reply(t, text))
			require.NoError(t, err)
			assert.Equal(t, "Acme", rec["company"])
		})
	}
}

func TestDecodePlainJSON(t *testing.T) {
	t.Parallel()

	rec, err := Decode(reply(t, ` {"company":"Globex","jobTitle":"SRE","location":"Remote"} `))
	require.NoError(t, err)
	assert.Equal(t, Record{"company": "Globex", "jobTitle": "SRE", "location": "Remote"}, rec)
}

func TestDecodeKeepsAbsentKeysAbsent(t *testing.T) {
	t.Parallel()

	rec, err := Decode(reply(t, `{"company":"Globex"}`))
	require.NoError(t, err)
	_, has := rec["location"]
	assert.False(t, has)
	assert.Equal(t, ExtractionResult{Company: "Globex"}, rec.Extraction())
}

func TestDecodePassthroughWithoutCandidates(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"promptFeedback":{"blockReason":"SAFETY"}}`)
	rec, err := Decode(raw)
	require.NoError(t, err)

	got, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(got))
}

func TestDecodePassthroughEmptyText(t *testing.T) {
	t.Parallel()

	rec, err := Decode(reply(t, "   "))
	require.NoError(t, err)
	assert.Contains(t, rec, "candidates")
}

func TestDecodeUnparseableText(t *testing.T) {
	t.Parallel()

	body := reply(t, "I could not find a job posting on this page.")
	_, err := Decode(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)

	var decErr *Error
	require.ErrorAs(t, err, &decErr)
	raw, err := json.Marshal(decErr.Raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(raw))
}

func TestDecodeNonObjectText(t *testing.T) {
	t.Parallel()

	_, err := Decode(reply(t, `["Acme","SRE","Oslo"]`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeBodyNotJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode(json.RawMessage(`<html>bad gateway</html>`))
	require.Error(t, err)

	var decErr *Error
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "<html>bad gateway</html>", decErr.Raw)
}

func TestDecodeBodyNotObject(t *testing.T) {
	t.Parallel()

	_, err := Decode(json.RawMessage(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestExtractionIgnoresNonStrings(t *testing.T) {
	t.Parallel()

	rec := Record{"company": 42, "jobTitle": nil, "location": "Paris"}
	assert.Equal(t, ExtractionResult{Location: "Paris"}, rec.Extraction())
}
