package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tenant, err := s.Tenant("session-test")
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	col, err := tenant.Collection("members")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	return col
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	col := newTestCollection(t)

	for want := int64(1); want <= 3; want++ {
		rec, err := col.Insert(Record{"name": fmt.Sprintf("r%d", want)})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if rec["id"] != want {
			t.Errorf("id = %v, want %d", rec["id"], want)
		}
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	col := newTestCollection(t)

	inserted, err := col.Insert(Record{"name": "Alice", "age": 30})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := col.Get(inserted["id"])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for inserted record")
	}
	if got["name"] != "Alice" {
		t.Errorf("name = %v, want Alice", got["name"])
	}
}

func TestGetNormalizesIdentifier(t *testing.T) {
	col := newTestCollection(t)
	if _, err := col.Insert(Record{"name": "Alice"}); err != nil {
		t.Fatal(err)
	}

	// String "1" and integer 1 address the same record.
	got, err := col.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got["name"] != "Alice" {
		t.Errorf(`Get("1") = %v, want the Alice record`, got)
	}
}

func TestGetAbsentIsNilNotError(t *testing.T) {
	col := newTestCollection(t)
	got, err := col.Get(42)
	if err != nil {
		t.Fatalf("Get on empty collection: %v", err)
	}
	if got != nil {
		t.Errorf("Get(42) = %v, want nil", got)
	}
}

func TestInsertNilRecordFails(t *testing.T) {
	col := newTestCollection(t)
	_, err := col.Insert(nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Insert(nil) error = %v, want *ValidationError", err)
	}
}

func TestInsertDuplicateSuppliedIDFails(t *testing.T) {
	col := newTestCollection(t)
	if _, err := col.Insert(Record{"id": 7, "name": "a"}); err != nil {
		t.Fatal(err)
	}
	_, err := col.Insert(Record{"id": "7", "name": "b"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("duplicate id error = %v, want *ValidationError", err)
	}
}

func TestSuppliedIntegerIDAdvancesCounter(t *testing.T) {
	col := newTestCollection(t)
	if _, err := col.Insert(Record{"id": 10, "name": "a"}); err != nil {
		t.Fatal(err)
	}
	rec, err := col.Insert(Record{"name": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if rec["id"] != int64(11) {
		t.Errorf("id after supplied id 10 = %v, want 11", rec["id"])
	}
}

func TestIDsNeverReusedAfterDelete(t *testing.T) {
	col := newTestCollection(t)
	first, _ := col.Insert(Record{"name": "a"})
	second, _ := col.Insert(Record{"name": "b"})

	if ok, err := col.Delete(second["id"]); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if ok, err := col.Delete(first["id"]); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}

	third, err := col.Insert(Record{"name": "c"})
	if err != nil {
		t.Fatal(err)
	}
	if third["id"] != int64(3) {
		t.Errorf("id after deleting 1 and 2 = %v, want 3", third["id"])
	}
}

func TestReplacePreservesID(t *testing.T) {
	col := newTestCollection(t)
	rec, _ := col.Insert(Record{"name": "old", "extra": true})

	replaced, err := col.Replace(rec["id"], Record{"name": "new"})
	if err != nil {
		t.Fatal(err)
	}
	if replaced["id"] != rec["id"] {
		t.Errorf("id changed: %v -> %v", rec["id"], replaced["id"])
	}
	if _, ok := replaced["extra"]; ok {
		t.Error("Replace kept a field that should be gone")
	}

	missing, err := col.Replace(999, Record{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("Replace(999) = %v, want nil", missing)
	}
}

func TestUpdateMergesShallowly(t *testing.T) {
	col := newTestCollection(t)
	rec, _ := col.Insert(Record{"name": "Alice", "age": 30, "city": "Oslo"})

	updated, err := col.Update(rec["id"], Record{"age": 31, "id": 999})
	if err != nil {
		t.Fatal(err)
	}
	if updated["age"] != 31 {
		t.Errorf("age = %v, want 31", updated["age"])
	}
	if updated["name"] != "Alice" || updated["city"] != "Oslo" {
		t.Errorf("unspecified fields not preserved: %v", updated)
	}
	if updated["id"] != rec["id"] {
		t.Errorf("id changed via delta: %v", updated["id"])
	}
}

func TestListPagingInvariant(t *testing.T) {
	col := newTestCollection(t)
	for i := 0; i < 5; i++ {
		if _, err := col.Insert(Record{"name": string(rune('A' + i))}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		limit, offset int
		wantItems     int
	}{
		{-1, 0, 5},
		{2, 0, 2},
		{2, 2, 2},
		{2, 4, 1},
		{2, 5, 0},
		{2, 9, 0},
		{10, 0, 5},
	}
	for _, tc := range tests {
		items, total, err := col.List(ListOptions{Limit: tc.limit, Offset: tc.offset})
		if err != nil {
			t.Fatal(err)
		}
		if total != 5 {
			t.Errorf("limit=%d offset=%d: total = %d, want 5", tc.limit, tc.offset, total)
		}
		if len(items) != tc.wantItems {
			t.Errorf("limit=%d offset=%d: %d items, want %d", tc.limit, tc.offset, len(items), tc.wantItems)
		}
	}
}

func TestListSorting(t *testing.T) {
	col := newTestCollection(t)
	col.Insert(Record{"name": "Carol", "age": 41})
	col.Insert(Record{"name": "Alice", "age": 29})
	col.Insert(Record{"name": "Bob"}) // no age: sorts last

	items, _, err := col.List(ListOptions{Limit: -1, Sort: "age"})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range items {
		names = append(names, r["name"].(string))
	}
	if got, want := strings.Join(names, ","), "Alice,Carol,Bob"; got != want {
		t.Errorf("sorted by age = %s, want %s", got, want)
	}

	items, _, err = col.List(ListOptions{Limit: -1, Sort: "-name"})
	if err != nil {
		t.Fatal(err)
	}
	if items[0]["name"] != "Carol" {
		t.Errorf("descending by name, first = %v, want Carol", items[0]["name"])
	}
}

func TestSearchOperators(t *testing.T) {
	col := newTestCollection(t)
	col.Insert(Record{"name": "Alice", "email": "alice@example.com"})
	col.Insert(Record{"name": "Bob", "email": "bob@example.org"})

	tests := []struct {
		name    string
		filters map[string]any
		want    []string
	}{
		{"exact", map[string]any{"name": "Alice"}, []string{"Alice"}},
		{"contains", map[string]any{"email__contains": "example"}, []string{"Alice", "Bob"}},
		{"icontains", map[string]any{"name__icontains": "ALI"}, []string{"Alice"}},
		{"startswith", map[string]any{"email__startswith": "bob"}, []string{"Bob"}},
		{"endswith", map[string]any{"email__endswith": ".org"}, []string{"Bob"}},
		{"anded", map[string]any{"name": "Alice", "email__endswith": ".org"}, nil},
		{"absent field", map[string]any{"nickname": "Al"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := col.Search(tc.filters)
			if err != nil {
				t.Fatal(err)
			}
			var names []string
			for _, r := range got {
				names = append(names, r["name"].(string))
			}
			if len(names) != len(tc.want) {
				t.Fatalf("matched %v, want %v", names, tc.want)
			}
			for i := range names {
				if names[i] != tc.want[i] {
					t.Errorf("matched %v, want %v", names, tc.want)
				}
			}
		})
	}
}

func TestConcurrentInsertsUniqueIDs(t *testing.T) {
	col := newTestCollection(t)

	const n = 20
	ids := make(chan any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := col.Insert(Record{"n": i})
			if err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			ids <- rec["id"]
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[any]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %v assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("%d distinct ids, want %d", len(seen), n)
	}
}

func TestTenantIsolation(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	insert := func(session, name string) {
		tenant, err := s.Tenant(session)
		if err != nil {
			t.Fatal(err)
		}
		col, err := tenant.Collection("items")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := col.Insert(Record{"name": name}); err != nil {
			t.Fatal(err)
		}
	}
	insert("session-a", "from-a")
	insert("session-b", "from-b")

	for session, want := range map[string]string{"session-a": "from-a", "session-b": "from-b"} {
		tenant, _ := s.Tenant(session)
		col, _ := tenant.Collection("items")
		rec, err := col.Get(1)
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil || rec["name"] != want {
			t.Errorf("%s sees %v, want name=%s", session, rec, want)
		}
	}
}

func TestTenantRejectsUnsafeSessionID(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "../escape", "a/b", "x y", "dot.dot"} {
		if _, err := s.Tenant(bad); err == nil {
			t.Errorf("Tenant(%q) accepted, want error", bad)
		}
	}
}

func TestSchemaSnapshotTracksWrites(t *testing.T) {
	col := newTestCollection(t)

	snap, err := col.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatalf("Schema before any write = %v, want nil", snap)
	}

	col.Insert(Record{"name": "Alice", "age": 30})
	snap, err = col.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("Schema after insert = nil")
	}
	if got, want := strings.Join(snap.Fields, ","), "age,id,name"; got != want {
		t.Errorf("fields = %s, want %s", got, want)
	}
	if snap.Example["name"] != "Alice" {
		t.Errorf("example = %v", snap.Example)
	}
}

func TestMutationLeavesNoTempFiles(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tenant, _ := s.Tenant("session-tmp")
	col, _ := tenant.Collection("things")
	for i := 0; i < 3; i++ {
		if _, err := col.Insert(Record{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "session-tmp"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}
