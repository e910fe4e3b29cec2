// Package plan parses and validates the structured intent descriptor the
// oracle returns for each request. Validation here is purely structural:
// whether the embedded code is safe to run is the safety package's concern.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the oracle's classification of the request. It is descriptive
// metadata only: behavior always comes from the executed snippet, never from
// a per-action handler.
type Action string

const (
	ActionCreate  Action = "create"
	ActionGet     Action = "get"
	ActionList    Action = "list"
	ActionReplace Action = "replace"
	ActionPatch   Action = "patch"
	ActionDelete  Action = "delete"
	ActionSearch  Action = "search"
)

var validActions = map[Action]bool{
	ActionCreate:  true,
	ActionGet:     true,
	ActionList:    true,
	ActionReplace: true,
	ActionPatch:   true,
	ActionDelete:  true,
	ActionSearch:  true,
}

// Plan is the validated oracle output. It lives for one request: built,
// executed, discarded.
type Plan struct {
	Action     Action
	Resource   string
	Identifier any // nil when the request addresses no single record
	Criteria   map[string]any
	Payload    map[string]any
	Code       string // snippet source, fence markers stripped
}

// MalformedPlanError reports oracle output that fails the plan schema.
type MalformedPlanError struct {
	Reason string
}

func (e *MalformedPlanError) Error() string {
	return "malformed plan: " + e.Reason
}

// envelope mirrors the raw JSON the oracle emits.
type envelope struct {
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	Identifier any             `json:"identifier"`
	Criteria   map[string]any  `json:"criteria"`
	Payload    map[string]any  `json:"payload"`
	Code       json.RawMessage `json:"code"`
}

type codeBlock struct {
	Language string `json:"language"`
	Block    string `json:"block"`
}

// Parse validates raw oracle output and returns the normalized Plan.
// Known wrapping conventions (markdown fences around the whole blob and
// around the code block) are stripped; any further deviation is a
// MalformedPlanError.
func Parse(raw string) (*Plan, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, &MalformedPlanError{Reason: "empty oracle output"}
	}

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, &MalformedPlanError{Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	action := Action(env.Action)
	if !validActions[action] {
		return nil, &MalformedPlanError{Reason: fmt.Sprintf("unknown action %q", env.Action)}
	}
	if env.Resource == "" {
		return nil, &MalformedPlanError{Reason: "resource is empty or not a string"}
	}

	code, err := decodeCode(env.Code)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Action:     action,
		Resource:   env.Resource,
		Identifier: env.Identifier,
		Criteria:   env.Criteria,
		Payload:    env.Payload,
		Code:       code,
	}
	if p.Criteria == nil {
		p.Criteria = map[string]any{}
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	return p, nil
}

// decodeCode accepts either the canonical {"language": ..., "block": ...}
// object or a bare string of source text.
func decodeCode(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", &MalformedPlanError{Reason: "code block is missing"}
	}
	var block string
	var obj codeBlock
	switch {
	case json.Unmarshal(raw, &obj) == nil && obj.Block != "":
		block = obj.Block
	case json.Unmarshal(raw, &block) == nil && block != "":
		// bare string form
	default:
		return "", &MalformedPlanError{Reason: "code block is not a single string of source text"}
	}
	block = StripFences(block)
	if strings.TrimSpace(block) == "" {
		return "", &MalformedPlanError{Reason: "code block is empty"}
	}
	return block, nil
}

// StripFences removes a markdown code fence wrapping the whole text, with or
// without a language tag. Text without fences passes through unchanged.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line ("```" or "```json" etc.).
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return ""
	}
	s = s[i+1:]
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
