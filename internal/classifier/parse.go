package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/xaenox/opinion-topics/internal/models"
)

// Response is the structured answer the completion service is asked for.
// Either list may be used; both may be present.
type Response struct {
	Assignments []ResponseAssignment `json:"assignments,omitempty" jsonschema:"description=One entry per opinion"`
	Topics      []ResponseTopic      `json:"topics,omitempty" jsonschema:"description=Alternative form: topics listing the opinions they contain"`
}

type ResponseAssignment struct {
	Opinion    models.Reference `json:"opinion" jsonschema:"description=Opinion number from the listing"`
	Topic      models.Reference `json:"topic,omitempty" jsonschema:"description=Existing topic number when the opinion fits one"`
	NewTopic   *ResponseNew     `json:"new_topic,omitempty" jsonschema:"description=Proposed topic when no existing topic fits"`
	Confidence float64          `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reason     string           `json:"reason,omitempty"`
}

type ResponseNew struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

type ResponseTopic struct {
	Name          string             `json:"name"`
	Category      string             `json:"category,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	Keywords      []string           `json:"keywords,omitempty"`
	ExistingTopic models.Reference   `json:"existing_topic,omitempty" jsonschema:"description=Existing topic number when this groups opinions into an existing topic"`
	Opinions      []models.Reference `json:"opinions" jsonschema:"description=Opinion numbers from the listing"`
	Confidence    float64            `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reason        string             `json:"reason,omitempty"`
}

func (r *Response) empty() bool {
	return len(r.Assignments) == 0 && len(r.Topics) == 0
}

// ParseResult is either Structured or Unstructured.
type ParseResult interface {
	parseResult()
}

// Structured is a response that decoded into Response.
type Structured struct {
	Response Response
	// Stage names the step of the parse chain that succeeded.
	Stage string
}

// Unstructured carries text nothing in the parse chain could decode.
type Unstructured struct {
	Raw string
	Err error
}

func (Structured) parseResult()   {}
func (Unstructured) parseResult() {}

const (
	StageDirect   = "direct"
	StageFence    = "fence"
	StageBrackets = "brackets"
)

var (
	errNoObject      = errors.New("no JSON object in response")
	errEmptyResponse = errors.New("response has no assignments or topics")
)

// Parse runs the parse chain over raw: the body as is, the body with code
// fences stripped, then the first balanced {...} span.
func Parse(raw string) ParseResult {
	body := strings.TrimSpace(raw)

	resp, err := decode(body)
	if err == nil {
		return Structured{Response: resp, Stage: StageDirect}
	}

	if stripped := stripFences(body); stripped != body {
		if resp, ferr := decode(stripped); ferr == nil {
			return Structured{Response: resp, Stage: StageFence}
		}
	}

	span, ok := firstObject(body)
	if !ok {
		return Unstructured{Raw: raw, Err: errNoObject}
	}
	resp, err = decode(span)
	if err != nil {
		return Unstructured{Raw: raw, Err: err}
	}
	return Structured{Response: resp, Stage: StageBrackets}
}

// decode accepts an object, or a bare array of assignments. A response that
// carries neither assignments nor topics is an error.
func decode(body string) (Response, error) {
	resp, err := decodeAny(body)
	if err != nil {
		return Response{}, err
	}
	if resp.empty() {
		return Response{}, errEmptyResponse
	}
	return resp, nil
}

func decodeAny(body string) (Response, error) {
	var resp Response
	if body == "" {
		return resp, errNoObject
	}
	switch body[0] {
	case '{':
		dec := json.NewDecoder(strings.NewReader(body))
		if err := dec.Decode(&resp); err != nil {
			return Response{}, err
		}
		if dec.More() {
			return Response{}, errors.New("trailing data after JSON object")
		}
		return resp, nil
	case '[':
		if err := json.Unmarshal([]byte(body), &resp.Assignments); err != nil {
			return Response{}, err
		}
		return resp, nil
	default:
		return resp, errNoObject
	}
}

func stripFences(body string) string {
	s := strings.TrimSpace(body)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// drop the language tag on the opening line
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
			s = strings.TrimPrefix(s, "JSON")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} span, ignoring braces inside
// JSON strings.
func firstObject(body string) (string, bool) {
	start := strings.IndexByte(body, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(body); i++ {
		ch := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return body[start : i+1], true
			}
		}
	}
	return "", false
}

// compactJSON is used for logging raw responses on one line.
func compactJSON(raw string, max int) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err == nil {
		raw = buf.String()
	}
	if len(raw) > max {
		return raw[:max] + "..."
	}
	return raw
}
