// Package openapi generates a per-session OpenAPI document from the schema
// snapshots the store has learned. The document describes the endpoints the
// tenant has already invented; the catch-all entry covers everything else.
package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/lars/internal/store"
)

// Spec is a plain JSON-shaped OpenAPI 3.1 document.
type Spec = map[string]any

// Generate builds the session's OpenAPI document. Collections appear in
// sorted order so the output is stable across calls.
func Generate(sessionID, serverURL string, schemas map[string]*store.Snapshot) Spec {
	names := make([]string, 0, len(schemas))
	for name, snap := range schemas {
		if snap != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	paths := Spec{}
	componentSchemas := Spec{}
	for _, name := range names {
		snap := schemas[name]
		schemaName := capitalize(name)
		componentSchemas[schemaName] = schemaFromExample(snap.Example)
		for p, ops := range resourcePaths(name, schemaName, snap.UpdatedAt.Format("2006-01-02 15:04:05")) {
			paths[p] = ops
		}
	}
	paths["/{resource}"] = catchAllPath(names)

	spec := Spec{
		"openapi": "3.1.0",
		"info": Spec{
			"title":       "The Last REST Service — Your Session",
			"version":     "1.0.0",
			"description": describe(sessionID, names),
		},
		"servers": []any{Spec{"url": serverURL, "description": "This deployment"}},
		"paths":   paths,
		"tags":    tagList(names),
	}
	if len(componentSchemas) > 0 {
		spec["components"] = Spec{"schemas": componentSchemas}
	} else {
		spec["components"] = Spec{}
	}
	return spec
}

func describe(sessionID string, names []string) string {
	discovered := "**Discovered Resources**: none yet. Start POSTing.\n\n"
	if len(names) > 0 {
		discovered = "**Discovered Resources**: " + strings.Join(names, ", ") + "\n\n"
	}
	return "This document was generated from what this session actually did.\n\n" +
		discovered +
		"Any path works; these are the ones this session has used so far. " +
		"The catch-all `/{resource}` entry covers the rest.\n\n" +
		"**Session ID**: `" + sessionID + "`"
}

func tagList(names []string) []any {
	tags := []any{
		Spec{"name": "meta", "description": "Meta-endpoints (health, swagger, the catch-all)"},
	}
	for _, name := range names {
		tags = append(tags, Spec{"name": name, "description": "Operations on " + name})
	}
	return tags
}

// inferType maps a JSON value to its OpenAPI type keyword.
func inferType(v any) string {
	switch val := v.(type) {
	case bool:
		return "boolean"
	case int, int64:
		return "integer"
	case float64:
		if val == float64(int64(val)) {
			return "integer"
		}
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "string"
	}
}

// schemaFromExample derives an object schema from a remembered record.
func schemaFromExample(example store.Record) Spec {
	properties := Spec{}
	for key, value := range example {
		prop := Spec{"type": inferType(value)}
		switch v := value.(type) {
		case []any:
			if len(v) > 0 {
				prop["items"] = Spec{"type": inferType(v[0])}
			}
		case map[string]any:
			prop = Spec{"type": "object"}
		}
		properties[key] = prop
	}
	out := Spec{
		"type":       "object",
		"properties": properties,
	}
	if example != nil {
		out["example"] = example
	}
	return out
}

func ref(schemaName string) Spec {
	return Spec{"$ref": "#/components/schemas/" + schemaName}
}

func jsonContent(schema Spec) Spec {
	return Spec{"application/json": Spec{"schema": schema}}
}

func idParam() Spec {
	return Spec{
		"name": "id", "in": "path", "required": true,
		"schema":      Spec{"type": "integer"},
		"description": "Record ID (auto-generated on POST)",
	}
}

// resourcePaths builds the collection, item, and search path entries for one
// discovered resource.
func resourcePaths(resource, schemaName, updatedAt string) map[string]Spec {
	singular := strings.TrimSuffix(resource, "s")
	listSchema := Spec{
		"type": "object",
		"properties": Spec{
			"items": Spec{"type": "array", "items": ref(schemaName)},
			"page": Spec{
				"type": "object",
				"properties": Spec{
					"total":  Spec{"type": "integer"},
					"limit":  Spec{"type": "integer"},
					"offset": Spec{"type": "integer"},
				},
			},
		},
	}

	return map[string]Spec{
		"/" + resource: {
			"get": Spec{
				"summary":     "List " + resource,
				"description": fmt.Sprintf("Returns a paginated list. Shape learned from this session's writes. Last updated: %s", updatedAt),
				"tags":        []any{resource},
				"parameters": []any{
					Spec{"name": "limit", "in": "query", "schema": Spec{"type": "integer"}},
					Spec{"name": "offset", "in": "query", "schema": Spec{"type": "integer"}},
					Spec{"name": "sort", "in": "query", "schema": Spec{"type": "string"}},
				},
				"responses": Spec{
					"200": Spec{"description": "Paginated response", "content": jsonContent(listSchema)},
				},
			},
			"post": Spec{
				"summary":     "Create " + singular,
				"description": "This endpoint exists because this session created it.",
				"tags":        []any{resource},
				"requestBody": Spec{"required": true, "content": jsonContent(ref(schemaName))},
				"responses": Spec{
					"201": Spec{"description": "Created, with an auto-generated ID", "content": jsonContent(ref(schemaName))},
				},
			},
		},
		"/" + resource + "/{id}": {
			"get": Spec{
				"summary":    "Get " + singular + " by ID",
				"tags":       []any{resource},
				"parameters": []any{idParam()},
				"responses": Spec{
					"200": Spec{"description": "Found", "content": jsonContent(ref(schemaName))},
					"404": Spec{"description": "Not found"},
				},
			},
			"put": Spec{
				"summary":     "Replace " + singular,
				"description": "Full replacement. The ID is preserved.",
				"tags":        []any{resource},
				"parameters":  []any{idParam()},
				"requestBody": Spec{"required": true, "content": jsonContent(ref(schemaName))},
				"responses": Spec{
					"200": Spec{"description": "Replaced", "content": jsonContent(ref(schemaName))},
					"404": Spec{"description": "Not found"},
				},
			},
			"patch": Spec{
				"summary":     "Update " + singular,
				"description": "Partial update. Send only the fields to change.",
				"tags":        []any{resource},
				"parameters":  []any{idParam()},
				"requestBody": Spec{"required": true, "content": jsonContent(Spec{"type": "object", "additionalProperties": true})},
				"responses": Spec{
					"200": Spec{"description": "Updated", "content": jsonContent(ref(schemaName))},
					"404": Spec{"description": "Not found"},
				},
			},
			"delete": Spec{
				"summary":    "Delete " + singular,
				"tags":       []any{resource},
				"parameters": []any{idParam()},
				"responses": Spec{
					"204": Spec{"description": "Deleted"},
					"404": Spec{"description": "Already gone"},
				},
			},
		},
		"/" + resource + "/search": {
			"get": Spec{
				"summary": "Search " + resource,
				"description": "Flexible search. /search, /find, /query, and /filter all work. " +
					"Wildcards are supported: name=Hart* (prefix), email=*@example.com (suffix), name=*art* (contains).",
				"tags": []any{resource},
				"parameters": []any{
					Spec{
						"name": "query", "in": "query",
						"schema":      Spec{"type": "string"},
						"description": "Any field from the schema. Use wildcards with *.",
						"example":     "Hart*",
					},
				},
				"responses": Spec{
					"200": Spec{
						"description": "Search results, a direct array",
						"content":     jsonContent(Spec{"type": "array", "items": ref(schemaName)}),
					},
				},
			},
		},
	}
}

func catchAllPath(names []string) Spec {
	discovered := "none yet"
	if len(names) > 0 {
		discovered = strings.Join(names, ", ")
	}
	return Spec{
		"get": Spec{
			"summary": "Try anything",
			"description": fmt.Sprintf(
				"The universal endpoint. Request any path and the planner interprets the intent. "+
					"Resources discovered so far: %s.", discovered),
			"tags": []any{"meta"},
			"parameters": []any{
				Spec{"name": "resource", "in": "path", "required": true, "schema": Spec{"type": "string"}},
			},
			"responses": Spec{
				"200": Spec{"description": "Success"},
				"201": Spec{"description": "Created something"},
				"204": Spec{"description": "Deleted something"},
				"400": Spec{"description": "The planner could not interpret the request"},
				"404": Spec{"description": "Not found"},
			},
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
