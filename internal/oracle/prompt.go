package oracle

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/lars/internal/store"
)

// systemInstructions is the fixed preamble of every planning prompt. It
// teaches the provider the plan schema and the snippet environment the
// generated code will run in.
const systemInstructions = `You are the planning engine of a dynamic REST service.
For each incoming HTTP request you output ONE JSON object and nothing else:

{
  "action": "create" | "get" | "list" | "replace" | "patch" | "delete" | "search",
  "resource": "<collection name, singular path segment>",
  "identifier": <record id or null>,
  "criteria": {<filter fields, may be empty>},
  "payload": {<record fields for writes, may be empty>},
  "response_hints": {<optional hints, ignored by the executor>},
  "code": {"language": "starlark", "block": "<snippet>"}
}

The code block is a Starlark snippet. It runs in a sealed environment with
exactly four names and no function definitions, no imports, no attribute
access beyond the listed methods:

  store  - the tenant collection named by "resource":
           store.insert(record) -> record with "id"
           store.get(id) -> record or None
           store.replace(id, record) -> record or None
           store.update(id, delta) -> record or None
           store.delete(id) -> True/False
           store.list(limit=None, offset=0, sort=None) -> (items, total)
           store.search(criteria) -> items
  ctx    - the request context shown below
  plan   - this plan's action/resource/identifier/criteria/payload
  make_response(status, body=None, headers=None, is_json=True)

The snippet MUST assign the result of make_response to a global named REPLY.

Response conventions:
  create       -> 201 with the record and a Location header
  get missing  -> 404 with {"error": "not found"}
  list         -> 200 with {"items": [...], "page": {"limit", "offset", "total"}}
  delete       -> 204 with no body (is_json=False)
  search       -> 200 with {"items": [...]}
  filter suffixes on criteria keys: __contains, __icontains,
  __startswith, __endswith

Allowed builtins: len range enumerate zip sorted reversed min max abs any
all bool int float str list dict set tuple type repr print fail.
Do not use def, lambda, or load; the snippet is statically checked and
rejected if it uses anything outside this list.`

// BuildPrompt assembles the planning prompt for one request: the fixed
// instructions, the tenant's known collection shapes, and the serialized
// request context between the markers the mock planner in the test suite
// also relies on.
func BuildPrompt(reqctx map[string]any, schemas map[string]*store.Snapshot) (string, error) {
	ctxJSON, err := json.MarshalIndent(reqctx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing request context: %w", err)
	}

	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\n")
	writeSchemaSection(&b, schemas)
	b.WriteString("REQUEST CONTEXT:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\n**Now output the plan JSON object, nothing else.**\n")
	return b.String(), nil
}

func writeSchemaSection(b *strings.Builder, schemas map[string]*store.Snapshot) {
	if len(schemas) == 0 {
		b.WriteString("KNOWN COLLECTIONS: none yet.\n\n")
		return
	}
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("KNOWN COLLECTIONS:\n")
	for _, name := range names {
		snap := schemas[name]
		if snap == nil {
			continue
		}
		fmt.Fprintf(b, "  %s: fields [%s]", name, strings.Join(snap.Fields, ", "))
		if snap.Example != nil {
			if example, err := json.Marshal(snap.Example); err == nil {
				fmt.Fprintf(b, " example %s", example)
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("\n")
}
