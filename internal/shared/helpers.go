// Package shared provides common utility functions used across multiple
// packages in the esm-federation codebase.
package shared

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// HTTPStatusError creates a formatted error for non-2xx HTTP responses.
func HTTPStatusError(status int, url string) error {
	return fmt.Errorf("status=%d url=%s", status, url)
}

// HTTPStatusErrorWithBody creates a formatted error that includes the
// response body for non-2xx HTTP responses.
func HTTPStatusErrorWithBody(status int, url string, body string) error {
	return fmt.Errorf("status=%d url=%s response=%s", status, url, body)
}

// EnsureTrailingSlash makes a public path usable as an import map scope
// prefix.
func EnsureTrailingSlash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasSuffix(value, "/") {
		return value
	}
	return value + "/"
}

// JoinURL appends a slash-separated relative path to a base URL or path.
func JoinURL(base string, rel string) string {
	rel = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(rel, "\\", "/")), "/")
	if strings.TrimSpace(base) == "" {
		return rel
	}
	parsed, err := url.Parse(EnsureTrailingSlash(base))
	if err != nil || parsed.Scheme == "" {
		return EnsureTrailingSlash(base) + rel
	}
	ref, err := url.Parse(rel)
	if err != nil {
		return EnsureTrailingSlash(base) + rel
	}
	return parsed.ResolveReference(ref).String()
}

// ResolveReference resolves ref against base, returning ref untouched when
// either side cannot be parsed.
func ResolveReference(base string, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// NormalizeExposedPath renders exposed paths in their "./Name" form.
func NormalizeExposedPath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || value == "." || strings.HasPrefix(value, "./") {
		return value
	}
	return "./" + strings.TrimPrefix(value, "/")
}
