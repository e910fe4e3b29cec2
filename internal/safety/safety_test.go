package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAcceptsTypicalSnippets(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"create", `body = ctx.get("body_json")
record = store.insert(dict(body))
headers = {"Location": "/members/" + str(record["id"])}
REPLY = make_response(201, record, headers)`},
		{"get with conditional", `record = store.get(plan.get("identifier"))
if record == None:
    REPLY = make_response(404, {"error": "not found"})
else:
    REPLY = make_response(200, record)`},
		{"loop and comprehension", `names = [item["name"] for item in store.search({})]
total = 0
for n in range(len(names)):
    total += n
REPLY = make_response(200, {"names": names, "total": total})`},
		{"while with bound", `n = 0
while n < 10:
    n += 1
REPLY = make_response(200, {"n": n})`},
		{"string methods", `q = ctx.get("query") or {}
needle = " ".join([k.strip().lower() for k in q])
REPLY = make_response(200, {"needle": needle})`},
		{"augmented subscript assignment", `record = store.get(1) or {}
record["count"] = record.get("count", 0) + 1
REPLY = make_response(200, record)`},
		{"filtered comprehension", `reds = [r for r in store.search({}) if r.get("color") == "red"]
REPLY = make_response(200, {"items": reds})`},
		{"dict and set comprehensions", `by_id = {r["id"]: r for r in store.search({})}
colors = {r.get("color") for r in store.search({}) if "color" in r}
REPLY = make_response(200, {"count": len(by_id), "colors": sorted(colors)})`},
		{"nested comprehension clauses", `pairs = [[a, b] for a in range(3) for b in range(3) if a != b]
REPLY = make_response(200, {"pairs": pairs})`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, Check(tc.src))
		})
	}
}

func TestCheckRejectsForbiddenConstructs(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		construct string
	}{
		{"load statement", `load("module.star", "helper")`, "load statement"},
		{"def", "def f():\n    pass\nREPLY = f()", "function definition"},
		{"lambda", `f = lambda x: x + 1`, "lambda"},
		{"return at top level", `return 1`, ""},
		{"call to unknown name", `x = getattr(store, "insert")`, `call to "getattr"`},
		{"eval-like name", `x = eval("1 + 1")`, `call to "eval"`},
		{"private attribute", `x = store._lock`, "private attribute"},
		{"computed call", `x = (store.insert)({})`, "computed expression"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.src)
			require.Error(t, err)
			var uerr *UnsafeCodeError
			require.ErrorAs(t, err, &uerr)
			if tc.construct != "" {
				assert.Contains(t, uerr.Construct, tc.construct)
			}
		})
	}
}

// Constructs from general-purpose languages do not parse as Starlark; they
// must come back as rejections, never as accidental acceptance.
func TestCheckRejectsUnparseableCode(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"python import", "import os\nos.listdir('/')"},
		{"bare except", "try:\n    x = 1\nexcept:\n    pass"},
		{"with statement", "with open('/etc/passwd') as f:\n    data = f.read()"},
		{"class definition", "class Sneaky:\n    pass"},
		{"global declaration", "global counter\ncounter = 1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.src)
			require.Error(t, err)
			var uerr *UnsafeCodeError
			require.ErrorAs(t, err, &uerr)
			assert.Contains(t, uerr.Construct, "unparseable")
		})
	}
}

func TestRejectionIsTotal(t *testing.T) {
	// A single bad node anywhere fails the whole snippet.
	src := `a = 1
b = a + 2
load("x.star", "y")
REPLY = make_response(200, {"a": a})`
	err := Check(src)
	require.Error(t, err)
	var uerr *UnsafeCodeError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, int32(3), uerr.Line)
}
