package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Record is a single stored entity: field name -> JSON-compatible value.
// Every record carries a unique "id" field within its collection.
type Record = map[string]any

// collectionState is the durable unit for one tenant x collection.
type collectionState struct {
	Records []Record `json:"records"`
	NextID  int64    `json:"next_id"`
}

// Collection is a ResourceStore bound to one tenant x collection pair.
// Mutations are serialized by a shared keyed mutex; reads open the last
// complete durable state without locking.
type Collection struct {
	name       string
	path       string
	schemaPath string
	mu         *sync.Mutex
}

// Insert stores a new record. A missing id is assigned from the
// auto-increment counter; a caller-supplied id is kept unmodified and, when
// integer-valued, advances the counter past it so future inserts never
// collide. A supplied id that already exists is rejected.
func (c *Collection) Insert(record Record) (Record, error) {
	if record == nil {
		return nil, &ValidationError{Reason: "record must be a mapping"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.load()
	if err != nil {
		return nil, err
	}

	rec := cloneRecord(record)
	if id, ok := rec["id"]; ok && id != nil {
		norm := NormalizeID(id)
		if findIndex(state.Records, norm) >= 0 {
			return nil, &ValidationError{Reason: "record with this id already exists"}
		}
		rec["id"] = norm
		if n, isInt := norm.(int64); isInt && n >= state.NextID {
			state.NextID = n + 1
		}
	} else {
		rec["id"] = c.nextID(state)
	}

	state.Records = append(state.Records, rec)
	if err := c.save(state); err != nil {
		return nil, err
	}
	c.rememberSchema(rec)
	return cloneRecord(rec), nil
}

// Get returns the record with the given id, or nil if absent.
// Absence is a normal outcome, never an error.
func (c *Collection) Get(id any) (Record, error) {
	state, err := c.load()
	if err != nil {
		return nil, err
	}
	i := findIndex(state.Records, NormalizeID(id))
	if i < 0 {
		return nil, nil
	}
	return cloneRecord(state.Records[i]), nil
}

// Replace substitutes all fields of the record except id, which is
// preserved. Returns nil if no record has the given id.
func (c *Collection) Replace(id any, record Record) (Record, error) {
	if record == nil {
		return nil, &ValidationError{Reason: "record must be a mapping"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.load()
	if err != nil {
		return nil, err
	}
	i := findIndex(state.Records, NormalizeID(id))
	if i < 0 {
		return nil, nil
	}
	rec := cloneRecord(record)
	rec["id"] = state.Records[i]["id"]
	state.Records[i] = rec
	if err := c.save(state); err != nil {
		return nil, err
	}
	c.rememberSchema(rec)
	return cloneRecord(rec), nil
}

// Update shallow-merges delta into the existing record, preserving fields
// not named in delta. The id field cannot be changed. Returns nil if absent.
func (c *Collection) Update(id any, delta Record) (Record, error) {
	if delta == nil {
		return nil, &ValidationError{Reason: "delta must be a mapping"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.load()
	if err != nil {
		return nil, err
	}
	i := findIndex(state.Records, NormalizeID(id))
	if i < 0 {
		return nil, nil
	}
	rec := cloneRecord(state.Records[i])
	for k, v := range delta {
		if k == "id" {
			continue
		}
		rec[k] = cloneValue(v)
	}
	state.Records[i] = rec
	if err := c.save(state); err != nil {
		return nil, err
	}
	c.rememberSchema(rec)
	return cloneRecord(rec), nil
}

// Delete removes the record with the given id. Reports whether a record was
// removed. The auto-increment counter is never rewound, so deleted integer
// ids are never reassigned.
func (c *Collection) Delete(id any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.load()
	if err != nil {
		return false, err
	}
	i := findIndex(state.Records, NormalizeID(id))
	if i < 0 {
		return false, nil
	}
	state.Records = append(state.Records[:i], state.Records[i+1:]...)
	if err := c.save(state); err != nil {
		return false, err
	}
	return true, nil
}

// ListOptions controls pagination and ordering for List.
type ListOptions struct {
	Limit  int    // < 0 means all remaining
	Offset int    // records to skip; values < 0 are treated as 0
	Sort   string // field name, "-" prefix for descending; "" = stored order
}

// List returns one page of records plus the total collection size before
// paging. The page size is always min(limit, max(0, total-offset)).
func (c *Collection) List(opts ListOptions) ([]Record, int, error) {
	state, err := c.load()
	if err != nil {
		return nil, 0, err
	}
	items := make([]Record, len(state.Records))
	for i, r := range state.Records {
		items[i] = cloneRecord(r)
	}
	total := len(items)

	if opts.Sort != "" {
		field, desc := opts.Sort, false
		if strings.HasPrefix(field, "-") {
			field, desc = field[1:], true
		}
		sort.SliceStable(items, func(a, b int) bool {
			if desc {
				return lessValues(items[b][field], items[a][field])
			}
			return lessValues(items[a][field], items[b][field])
		})
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []Record{}, total, nil
	}
	items = items[offset:]
	if opts.Limit >= 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items, total, nil
}

// Search returns records matching every filter term (AND semantics).
// Keys are either a plain field name (exact equality) or "field__op" with
// op one of contains, icontains, startswith, endswith. Fields absent from a
// record never match.
func (c *Collection) Search(filters map[string]any) ([]Record, error) {
	state, err := c.load()
	if err != nil {
		return nil, err
	}
	results := make([]Record, 0, len(state.Records))
	for _, r := range state.Records {
		results = append(results, cloneRecord(r))
	}

	for key, want := range filters {
		if want == nil {
			continue
		}
		field, op := splitFilterKey(key)
		matched := results[:0]
		for _, r := range results {
			got, ok := r[field]
			if !ok {
				continue
			}
			if matchFilter(got, op, want) {
				matched = append(matched, r)
			}
		}
		results = matched
	}
	return results, nil
}

func splitFilterKey(key string) (field, op string) {
	for _, op := range []string{"contains", "icontains", "startswith", "endswith"} {
		suffix := "__" + op
		if strings.HasSuffix(key, suffix) {
			return strings.TrimSuffix(key, suffix), op
		}
	}
	return key, ""
}

func matchFilter(got any, op string, want any) bool {
	switch op {
	case "contains":
		return strings.Contains(stringify(got), stringify(want))
	case "icontains":
		return strings.Contains(strings.ToLower(stringify(got)), strings.ToLower(stringify(want)))
	case "startswith":
		return strings.HasPrefix(stringify(got), stringify(want))
	case "endswith":
		return strings.HasSuffix(stringify(got), stringify(want))
	default:
		return equalValues(got, want)
	}
}

// nextID assigns the next integer id: the larger of the stored counter and
// max observed integer id + 1. The counter then advances past it.
func (c *Collection) nextID(state *collectionState) int64 {
	var maxSeen int64
	for _, r := range state.Records {
		if n, ok := NormalizeID(r["id"]).(int64); ok && n > maxSeen {
			maxSeen = n
		}
	}
	id := state.NextID
	if id < maxSeen+1 {
		id = maxSeen + 1
	}
	if id < 1 {
		id = 1
	}
	state.NextID = id + 1
	return id
}

func (c *Collection) load() (*collectionState, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return &collectionState{NextID: 1}, nil
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: c.path, Err: err}
	}
	var state collectionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &IOError{Op: "decode", Path: c.path, Err: err}
	}
	if state.NextID < 1 {
		state.NextID = 1
	}
	normalizeLoaded(&state)
	return &state, nil
}

// normalizeLoaded re-normalizes ids after JSON decoding turned integers
// into float64.
func normalizeLoaded(state *collectionState) {
	for _, r := range state.Records {
		if id, ok := r["id"]; ok {
			r["id"] = NormalizeID(id)
		}
	}
}

func (c *Collection) save(state *collectionState) error {
	if state.Records == nil {
		state.Records = []Record{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: c.path, Err: err}
	}
	return writeFileAtomic(c.path, data)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over the destination. A crash mid-write leaves the previous
// complete state readable.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// NormalizeID maps integral numbers and all-digit strings to int64 so that
// "1" and 1 address the same record; everything else stays as given.
func NormalizeID(v any) any {
	switch id := v.(type) {
	case int64:
		return id
	case int:
		return int64(id)
	case float64:
		if id == float64(int64(id)) {
			return int64(id)
		}
		return id
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n
		}
		return id.String()
	case string:
		trimmed := strings.TrimSpace(id)
		if isCanonicalInt(trimmed) {
			if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return n
			}
		}
		return trimmed
	default:
		return v
	}
}

// isCanonicalInt reports whether s is a digit string without a redundant
// leading zero ("0" itself is canonical).
func isCanonicalInt(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s == "0" || s[0] != '0'
}

func findIndex(records []Record, normalizedID any) int {
	for i, r := range records {
		if equalValues(NormalizeID(r["id"]), normalizedID) {
			return i
		}
	}
	return -1
}
