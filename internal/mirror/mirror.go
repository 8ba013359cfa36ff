// Package mirror holds the secondary, eventually consistent copy of analysis
// results. The store is a tree addressed by slash-separated paths; writing a
// value replaces the whole subtree at that path and writing nil deletes it.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid mirror path")

type Mirror interface {
	// Set writes value (JSON-encoded) at path. A nil value deletes the path
	// and everything below it.
	Set(ctx context.Context, path string, value any) error
	// Get decodes the value stored exactly at path into dst. It reports
	// false when nothing is stored there.
	Get(ctx context.Context, path string, dst any) (bool, error)
	Close() error
}

func AnalysisPath(projectID string) string {
	return "projects/" + projectID + "/analysis"
}

func SessionPath(sessionID string) string {
	return "analysis-sessions/" + sessionID
}

// LegacySessionPath is where older deployments kept run progress per project.
func LegacySessionPath(projectID string) string {
	return "projects/" + projectID + "/analysisSession"
}

// cleanPath trims surrounding slashes and rejects empty segments and
// characters that are not allowed in tree keys.
func cleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return "", fmt.Errorf("%w: %q contains a reserved character", ErrInvalidPath, path)
		}
	}
	return p, nil
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	if raw, ok := value.([]byte); ok {
		return raw == nil || string(raw) == "null"
	}
	return false
}
