package openapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/lars/internal/store"
)

func TestGenerateEmptySession(t *testing.T) {
	spec := Generate("session-1", "http://localhost:8000", nil)

	assert.Equal(t, "3.1.0", spec["openapi"])
	paths := spec["paths"].(Spec)
	require.Contains(t, paths, "/{resource}")
	assert.Len(t, paths, 1)

	info := spec["info"].(Spec)
	assert.Contains(t, info["description"], "none yet")
	assert.Contains(t, info["description"], "session-1")
}

func TestGenerateDiscoveredResource(t *testing.T) {
	schemas := map[string]*store.Snapshot{
		"members": {
			Fields: []string{"id", "name", "tags"},
			Example: store.Record{
				"id":   int64(1),
				"name": "Alice",
				"tags": []any{"admin"},
			},
			UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	spec := Generate("session-1", "http://localhost:8000", schemas)

	paths := spec["paths"].(Spec)
	require.Contains(t, paths, "/members")
	require.Contains(t, paths, "/members/{id}")
	require.Contains(t, paths, "/members/search")
	require.Contains(t, paths, "/{resource}")

	components := spec["components"].(Spec)
	memberSchema := components["schemas"].(Spec)["Members"].(Spec)
	props := memberSchema["properties"].(Spec)
	assert.Equal(t, "integer", props["id"].(Spec)["type"])
	assert.Equal(t, "string", props["name"].(Spec)["type"])
	tags := props["tags"].(Spec)
	assert.Equal(t, "array", tags["type"])
	assert.Equal(t, "string", tags["items"].(Spec)["type"])

	// The whole document must serialize cleanly.
	_, err := json.Marshal(spec)
	require.NoError(t, err)
}

func TestGenerateItemOperations(t *testing.T) {
	schemas := map[string]*store.Snapshot{
		"orders": {Fields: []string{"id"}, Example: store.Record{"id": int64(1)}},
	}
	spec := Generate("s", "http://localhost:8000", schemas)

	item := spec["paths"].(Spec)["/orders/{id}"].(Spec)
	for _, op := range []string{"get", "put", "patch", "delete"} {
		require.Contains(t, item, op)
	}
	del := item["delete"].(Spec)["responses"].(Spec)
	assert.Contains(t, del, "204")
	assert.Contains(t, del, "404")
}

func TestInferType(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{true, "boolean"},
		{int64(3), "integer"},
		{3.0, "integer"},
		{3.5, "number"},
		{"x", "string"},
		{[]any{1}, "array"},
		{map[string]any{}, "object"},
		{nil, "string"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inferType(tt.value), "value %v", tt.value)
	}
}
