// Package decode recovers the extraction record from a generateContent reply,
// tolerating markdown fences, bare JSON and replies that carry no text.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/jobinfo-extractor/internal/decode/safenav"
)

// ErrDecode marks a reply whose text could not be turned into a JSON object.
var ErrDecode = errors.New("decode llm response")

// fenced skips any info string after the opening fence (json, JSON, jsonc).
var fenced = regexp.MustCompile("```(?:[A-Za-z][\\w+-]*)?\\s*([\\s\\S]*?)```")

var textPath = []any{"candidates", 0, "content", "parts", 0, "text"}

// Record is the decoded JSON object. Keys the model omitted stay absent.
type Record map[string]any

// ExtractionResult is the typed view of a Record.
type ExtractionResult struct {
	Company  string `json:"company"`
	JobTitle string `json:"jobTitle"`
	Location string `json:"location"`
}

// Extraction reads the three known fields, defaulting missing or non-string
// values to the empty string.
func (r Record) Extraction() ExtractionResult {
	get := func(key string) string {
		s, _ := r[key].(string)
		return s
	}
	return ExtractionResult{
		Company:  get("company"),
		JobTitle: get("jobTitle"),
		Location: get("location"),
	}
}

// Error reports a decode failure together with the reply that caused it.
type Error struct {
	// Raw is the parsed reply, or the reply as a string when it was not JSON.
	Raw    any
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

// Decode extracts the record from body. The first candidate's text is parsed
// from a fenced code block when one is present, otherwise as bare JSON. A
// reply with no candidate text is returned unchanged as the record.
func Decode(body json.RawMessage) (Record, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Raw: string(body), Reason: "reply is not JSON", Err: err}
	}

	text, ok := safenav.String(payload, textPath...)
	if !ok || strings.TrimSpace(text) == "" {
		obj, isObj := payload.(map[string]any)
		if !isObj {
			return nil, &Error{Raw: payload, Reason: "reply is not a JSON object"}
		}
		return Record(obj), nil
	}

	candidate := strings.TrimSpace(text)
	if m := fenced.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var parsed any
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, &Error{Raw: payload, Reason: "model text is not valid JSON", Err: err}
	}
	obj, isObj := parsed.(map[string]any)
	if !isObj {
		return nil, &Error{Raw: payload, Reason: fmt.Sprintf("model text decoded to %T, want object", parsed)}
	}
	return Record(obj), nil
}
