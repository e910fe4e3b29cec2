package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/lars/internal/ratelimit"
	"github.com/jkaninda/lars/internal/runtime"
)

// handleDynamic serves every path that is not reserved. It is a plain
// net/http handler so the snippet's reply controls the status line,
// headers, and body bytes without framework interference.
func (g *Gateway) handleDynamic(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, ErrorBody{
			Error:  "missing or invalid bearer token",
			Reason: "unauthorized",
		})
		return
	}

	sessionID := resolveSession(r)
	requestID := newRequestID(r)
	w.Header().Set(requestIDHeader, requestID)

	if g.limiter != nil {
		if err := g.limiter.Allow(sessionID); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				w.Header().Set("Retry-After", retryAfterSeconds(g.limiter.RetryAfter(sessionID)))
				writeJSONError(w, http.StatusTooManyRequests, ErrorBody{
					Error:  "rate limit exceeded, slow down",
					Reason: "rate_limited",
				})
				return
			}
			writeJSONError(w, http.StatusInternalServerError, ErrorBody{
				Error:  "internal error",
				Reason: "internal",
			})
			return
		}
	}

	reqctx, err := buildRequestContext(r, sessionID, requestID, g.config.MaxRequestSize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, ErrorBody{
				Error:  "request body too large",
				Reason: "body_too_large",
			})
			return
		}
		g.logger.Warn("reading request body failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadRequest, ErrorBody{
			Error:  "could not read request body",
			Reason: "bad_request",
		})
		return
	}

	outcome := g.pipeline.Handle(r.Context(), sessionID, requestID, reqctx)
	g.writeOutcome(w, requestID, outcome)
}

func (g *Gateway) writeOutcome(w http.ResponseWriter, requestID string, outcome *runtime.Outcome) {
	for key, value := range outcome.Headers {
		w.Header().Set(key, value)
	}

	if outcome.Body == nil {
		w.WriteHeader(outcome.Status)
		return
	}

	if outcome.IsJSON {
		payload, err := json.Marshal(outcome.Body)
		if err != nil {
			g.logger.Error("marshaling response body failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, ErrorBody{
				Error:  "internal error",
				Reason: "internal",
			})
			return
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(outcome.Status)
		_, _ = w.Write(payload)
		return
	}

	// Non-JSON replies pass their body through as raw bytes.
	var raw []byte
	switch body := outcome.Body.(type) {
	case string:
		raw = []byte(body)
	case []byte:
		raw = body
	default:
		raw = []byte(stringify(body))
	}
	if w.Header().Get("Content-Type") == "" && len(raw) > 0 {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(outcome.Status)
	if len(raw) > 0 {
		_, _ = w.Write(raw)
	}
}

func writeJSONError(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func stringify(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(payload)
}
