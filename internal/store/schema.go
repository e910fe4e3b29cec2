package store

import (
	"encoding/json"
	"os"
	"sort"
	"time"
)

// Snapshot is the remembered shape of a collection: the field set and one
// example record from the most recent write. The oracle prompt and the
// generated OpenAPI spec both feed on it.
type Snapshot struct {
	Fields    []string  `json:"fields"`
	Example   Record    `json:"example"`
	UpdatedAt time.Time `json:"updated_at"`
}

// rememberSchema records the observed field set after a write. Best-effort:
// a snapshot failure never fails or delays the primary write.
func (c *Collection) rememberSchema(rec Record) {
	fields := make([]string, 0, len(rec))
	for k := range rec {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	snap := Snapshot{
		Fields:    fields,
		Example:   cloneRecord(rec),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	_ = writeFileAtomic(c.schemaPath, data)
}

// Schema returns the learned snapshot, or nil if the collection has never
// been written.
func (c *Collection) Schema() (*Snapshot, error) {
	data, err := os.ReadFile(c.schemaPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: c.schemaPath, Err: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &IOError{Op: "decode", Path: c.schemaPath, Err: err}
	}
	return &snap, nil
}

// Schemas returns the snapshot of every collection the tenant has written,
// keyed by collection name.
func (t *Tenant) Schemas() (map[string]*Snapshot, error) {
	names, err := t.Collections()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Snapshot, len(names))
	for _, name := range names {
		col, err := t.Collection(name)
		if err != nil {
			continue
		}
		snap, err := col.Schema()
		if err != nil || snap == nil {
			continue
		}
		out[name] = snap
	}
	return out, nil
}
