// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/url"
	"strings"
)

// SplitPath splits an escaped request path into its non-empty, decoded segments.
// Validation rules:
// - Every segment must be valid percent-encoding
// - A decoded segment must not contain whitespace or control characters
func SplitPath(escapedPath string) ([]string, error) {
	raw := strings.Split(escapedPath, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}

		decoded, err := url.PathUnescape(s)
		if err != nil {
			return nil, fmt.Errorf("invalid URL encoding in segment %q", s)
		}

		if strings.TrimSpace(decoded) == "" {
			return nil, fmt.Errorf("path segment cannot be blank")
		}
		if strings.ContainsFunc(decoded, func(r rune) bool {
			return r <= ' ' || r == 0x7f
		}) {
			return nil, fmt.Errorf("path segment %q cannot contain whitespace", decoded)
		}

		segments = append(segments, decoded)
	}
	return segments, nil
}
