package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `{
  "action": "create",
  "resource": "members",
  "identifier": null,
  "criteria": {},
  "payload": {"name": "Alice"},
  "code": {"language": "starlark", "block": "REPLY = make_response(201, {})"}
}`

func TestParseValidPlan(t *testing.T) {
	p, err := Parse(validPlan)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, p.Action)
	assert.Equal(t, "members", p.Resource)
	assert.Nil(t, p.Identifier)
	assert.Equal(t, "Alice", p.Payload["name"])
	assert.Equal(t, "REPLY = make_response(201, {})", p.Code)
}

func TestParseStripsOuterFences(t *testing.T) {
	wrapped := "```json\n" + validPlan + "\n```"
	p, err := Parse(wrapped)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, p.Action)
}

func TestParseStripsCodeFences(t *testing.T) {
	raw := `{
	  "action": "get",
	  "resource": "members",
	  "code": {"language": "starlark", "block": "` + "```starlark\\nREPLY = make_response(200, {})\\n```" + `"}
	}`
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "REPLY = make_response(200, {})", p.Code)
}

func TestParseAcceptsBareStringCode(t *testing.T) {
	raw := `{"action": "list", "resource": "members", "code": "REPLY = make_response(200, [])"}`
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "REPLY = make_response(200, [])", p.Code)
}

func TestParseDefaultsOptionalFields(t *testing.T) {
	raw := `{"action": "list", "resource": "members", "code": "x = 1"}`
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, p.Identifier)
	assert.NotNil(t, p.Criteria)
	assert.NotNil(t, p.Payload)
	assert.Empty(t, p.Criteria)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty input", ""},
		{"not json", "the oracle rambled instead of planning"},
		{"unknown action", `{"action": "explode", "resource": "members", "code": "x = 1"}`},
		{"missing resource", `{"action": "get", "code": "x = 1"}`},
		{"resource not a string", `{"action": "get", "resource": 7, "code": "x = 1"}`},
		{"missing code", `{"action": "get", "resource": "members"}`},
		{"code not a string", `{"action": "get", "resource": "members", "code": 42}`},
		{"empty code block", `{"action": "get", "resource": "members", "code": {"block": "` + "```\\n```" + `"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.raw)
			require.Error(t, err)
			var merr *MalformedPlanError
			assert.ErrorAs(t, err, &merr)
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"```\nbody\n```", "body"},
		{"```python\nbody\n```", "body"},
		{"  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"```", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StripFences(tc.in), "input %q", tc.in)
	}
}
