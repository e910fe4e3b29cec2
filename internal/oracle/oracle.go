// Package oracle defines the provider-agnostic interface for planning calls.
//
// The oracle is consulted once per dynamic request: it receives a prompt
// describing the incoming request and the tenant's known collections, and
// returns a plan blob for the plan package to validate. The oracle never
// touches the store and never sees another tenant's data.
package oracle

import "context"

// Provider is the abstraction over any planning backend (OpenAI, Anthropic,
// or a deterministic stand-in for tests).
type Provider interface {
	// Complete sends a single planning prompt and returns the raw text
	// reply, fences and all.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func (f Func) Name() string { return "func" }

// UnavailableError reports a provider that could not produce a reply.
// The caller maps this to an upstream failure, never to a client error.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return "oracle provider " + e.Provider + " unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }
