// Package harness runs validated oracle snippets under strict bounds.
//
// A snippet sees exactly four names: store, ctx, plan, and make_response.
// There is no other authority to find: nothing is importable, and every
// stateful effect flows through the store capability. The harness enforces
// a wall-clock timeout, a step bound (so loops cannot spin forever), a cap
// on captured print output, and a cap on the serialized reply body.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"

	"github.com/jkaninda/lars/internal/plan"
	"github.com/jkaninda/lars/internal/safety"
	"github.com/jkaninda/lars/internal/store"
)

// replyVar is the global the snippet must bind before it finishes.
const replyVar = "REPLY"

// Config bounds a single snippet execution.
type Config struct {
	Timeout        time.Duration // wall-clock budget; 0 = 8s
	MaxSteps       uint64        // interpreter step bound; 0 = 5_000_000
	MaxResultBytes int           // serialized reply body cap; 0 = 32 KiB
	MaxOutputBytes int           // captured print output cap; 0 = 4 KiB
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 5_000_000
	}
	if c.MaxResultBytes <= 0 {
		c.MaxResultBytes = 32 << 10
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 4 << 10
	}
	return c
}

// Reply is the normalized HTTP outcome a snippet produces.
type Reply struct {
	Status  int
	Body    any
	Headers map[string]string
	IsJSON  bool
}

// Result carries the reply plus captured diagnostics.
type Result struct {
	Reply           *Reply
	Output          string // print output, truncated at MaxOutputBytes
	OutputTruncated bool
}

// Harness executes snippets. Safe for concurrent use; every invocation
// gets a fresh thread and fresh capability bindings.
type Harness struct {
	cfg Config
}

func New(cfg Config) *Harness {
	return &Harness{cfg: cfg.withDefaults()}
}

// Run executes a validated snippet against the tenant's collection.
// reqctx is the request context dict exposed to the snippet as `ctx`.
func (h *Harness) Run(ctx context.Context, p *plan.Plan, col *store.Collection, reqctx map[string]any) (*Result, error) {
	var storeErr error
	predeclared, err := h.predeclare(p, col, reqctx, &storeErr)
	if err != nil {
		return nil, fmt.Errorf("binding capabilities: %w", err)
	}

	output := newLimitedBuffer(h.cfg.MaxOutputBytes)
	thread := &starlark.Thread{
		Name:  "plan:" + p.Resource,
		Print: func(_ *starlark.Thread, msg string) { output.WriteLine(msg) },
	}
	thread.SetMaxExecutionSteps(h.cfg.MaxSteps)

	var timedOut atomic.Bool
	timer := time.AfterFunc(h.cfg.Timeout, func() {
		timedOut.Store(true)
		thread.Cancel("wall-clock timeout")
	})
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("request cancelled")
		case <-done:
		}
	}()

	globals, execErr := starlark.ExecFileOptions(safety.FileOptions, thread, "plan.star", p.Code, predeclared)

	result := &Result{Output: output.String(), OutputTruncated: output.Truncated()}

	if execErr != nil {
		switch {
		case timedOut.Load():
			return result, &TimeoutError{Timeout: h.cfg.Timeout}
		case ctx.Err() != nil:
			return result, ctx.Err()
		case storeErr != nil:
			return result, storeErr
		default:
			var evalErr *starlark.EvalError
			if errors.As(execErr, &evalErr) {
				return result, &ExecError{Msg: evalErr.Msg}
			}
			return result, &ExecError{Msg: execErr.Error()}
		}
	}

	reply, err := h.extractReply(globals)
	if err != nil {
		return result, err
	}
	result.Reply = reply
	return result, nil
}

// predeclare builds the four-name capability surface for one invocation.
func (h *Harness) predeclare(p *plan.Plan, col *store.Collection, reqctx map[string]any, storeErr *error) (starlark.StringDict, error) {
	ctxVal, err := toStarlark(reqctx)
	if err != nil {
		return nil, fmt.Errorf("ctx: %w", err)
	}
	planVal, err := toStarlark(map[string]any{
		"action":     string(p.Action),
		"resource":   p.Resource,
		"identifier": p.Identifier,
		"criteria":   p.Criteria,
		"payload":    p.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return starlark.StringDict{
		"store":         newStoreValue(col, storeErr),
		"ctx":           ctxVal,
		"plan":          planVal,
		"make_response": starlark.NewBuiltin("make_response", makeResponse),
	}, nil
}

// makeResponse is the reply constructor exposed to snippets:
// make_response(status, body=None, headers=None, is_json=True).
func makeResponse(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var status int
	var body starlark.Value = starlark.None
	var headers starlark.Value = starlark.None
	isJSON := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"status", &status, "body?", &body, "headers?", &headers, "is_json?", &isJSON); err != nil {
		return nil, err
	}
	if headers == starlark.None {
		headers = starlark.NewDict(0)
	}
	d := starlark.NewDict(4)
	for _, kv := range []struct {
		k string
		v starlark.Value
	}{
		{"status", starlark.MakeInt(status)},
		{"body", body},
		{"headers", headers},
		{"is_json", starlark.Bool(isJSON)},
	} {
		if err := d.SetKey(starlark.String(kv.k), kv.v); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// extractReply pulls REPLY out of the snippet globals and normalizes it,
// enforcing the serialized body size cap.
func (h *Harness) extractReply(globals starlark.StringDict) (*Reply, error) {
	val, ok := globals[replyVar]
	if !ok || val == nil {
		return nil, &MissingReplyError{Reason: "snippet did not bind " + replyVar}
	}
	raw, err := fromStarlark(val)
	if err != nil {
		return nil, &MissingReplyError{Reason: fmt.Sprintf("%s is not convertible: %v", replyVar, err)}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &MissingReplyError{Reason: fmt.Sprintf("%s is %T, want a response dict", replyVar, raw)}
	}

	status, ok := asInt(m["status"])
	if !ok || status < 100 || status > 599 {
		return nil, &MissingReplyError{Reason: "reply has no valid integer status"}
	}

	reply := &Reply{Status: status, Body: m["body"], IsJSON: true}
	if v, present := m["is_json"]; present {
		if b, isBool := v.(bool); isBool {
			reply.IsJSON = b
		}
	}
	reply.Headers = map[string]string{}
	if hs, present := m["headers"].(map[string]any); present {
		for k, v := range hs {
			if s, isStr := v.(string); isStr {
				reply.Headers[k] = s
			} else {
				reply.Headers[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	if reply.Body != nil {
		encoded, err := json.Marshal(reply.Body)
		if err != nil {
			return nil, &MissingReplyError{Reason: fmt.Sprintf("reply body is not serializable: %v", err)}
		}
		if len(encoded) > h.cfg.MaxResultBytes {
			return nil, &ResultTooLargeError{Size: len(encoded), Limit: h.cfg.MaxResultBytes}
		}
	}
	return reply, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
