package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// buildRequestContext assembles the request description handed to the
// planning pipeline and, through it, to the executing snippet as `ctx`.
// The body is capped at bodyLimit bytes; JSON bodies are parsed, anything
// else is passed through as raw text.
func buildRequestContext(r *http.Request, sessionID, requestID string, bodyLimit int64) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, bodyLimit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > bodyLimit {
		return nil, errBodyTooLarge
	}

	reqctx := map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"segments":   pathSegments(r.URL.Path),
		"query":      map[string][]string(r.URL.Query()),
		"headers":    flattenHeaders(r.Header),
		"client":     map[string]any{"ip": clientIP(r)},
		"session":    map[string]any{"id": sessionID},
		"request_id": requestID,
	}

	reqctx["body_json"] = nil
	reqctx["body_raw"] = ""
	if len(body) > 0 {
		var parsed any
		if json.Unmarshal(body, &parsed) == nil {
			reqctx["body_json"] = parsed
		} else {
			reqctx["body_raw"] = string(body)
		}
	}
	return reqctx, nil
}

// pathSegments splits a request path into its non-empty components.
func pathSegments(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// flattenHeaders keeps the first value per key under its canonical name.
// Credentials never reach the snippet.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if canonical == "Authorization" || canonical == "Cookie" {
			continue
		}
		out[canonical] = values[0]
	}
	return out
}
