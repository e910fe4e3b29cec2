package harness

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/jkaninda/lars/internal/store"
)

// storeValue is the `store` capability: a Starlark value whose methods
// bridge to the tenant's collection. The snippet never sees a file handle
// or a path, only these seven operations.
type storeValue struct {
	col *store.Collection

	// failure remembers the first store error so the harness can classify
	// it after the interpreter has wrapped it in an EvalError.
	failure *error
}

var _ starlark.HasAttrs = (*storeValue)(nil)

func newStoreValue(col *store.Collection, failure *error) *storeValue {
	return &storeValue{col: col, failure: failure}
}

func (sv *storeValue) String() string        { return "<store>" }
func (sv *storeValue) Type() string          { return "store" }
func (sv *storeValue) Freeze()               {}
func (sv *storeValue) Truth() starlark.Bool  { return starlark.True }
func (sv *storeValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: store") }

func (sv *storeValue) AttrNames() []string {
	return []string{"delete", "get", "insert", "list", "replace", "search", "update"}
}

func (sv *storeValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "insert":
		return starlark.NewBuiltin("insert", sv.insertMethod), nil
	case "get":
		return starlark.NewBuiltin("get", sv.getMethod), nil
	case "replace":
		return starlark.NewBuiltin("replace", sv.replaceMethod), nil
	case "update":
		return starlark.NewBuiltin("update", sv.updateMethod), nil
	case "delete":
		return starlark.NewBuiltin("delete", sv.deleteMethod), nil
	case "list":
		return starlark.NewBuiltin("list", sv.listMethod), nil
	case "search":
		return starlark.NewBuiltin("search", sv.searchMethod), nil
	}
	return nil, nil
}

// fail records the store error and aborts the snippet.
func (sv *storeValue) fail(err error) (starlark.Value, error) {
	if *sv.failure == nil {
		*sv.failure = err
	}
	return nil, err
}

func (sv *storeValue) insertMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var record *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "record", &record); err != nil {
		return nil, err
	}
	rec, err := fromStarlarkDict(record)
	if err != nil {
		return nil, err
	}
	inserted, err := sv.col.Insert(rec)
	if err != nil {
		return sv.fail(err)
	}
	return toStarlark(inserted)
}

func (sv *storeValue) getMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
		return nil, err
	}
	gid, err := fromStarlark(id)
	if err != nil {
		return nil, err
	}
	rec, err := sv.col.Get(gid)
	if err != nil {
		return sv.fail(err)
	}
	if rec == nil {
		return starlark.None, nil
	}
	return toStarlark(rec)
}

func (sv *storeValue) replaceMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id starlark.Value
	var record *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "record", &record); err != nil {
		return nil, err
	}
	gid, err := fromStarlark(id)
	if err != nil {
		return nil, err
	}
	rec, err := fromStarlarkDict(record)
	if err != nil {
		return nil, err
	}
	replaced, err := sv.col.Replace(gid, rec)
	if err != nil {
		return sv.fail(err)
	}
	if replaced == nil {
		return starlark.None, nil
	}
	return toStarlark(replaced)
}

func (sv *storeValue) updateMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id starlark.Value
	var delta *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "delta", &delta); err != nil {
		return nil, err
	}
	gid, err := fromStarlark(id)
	if err != nil {
		return nil, err
	}
	changes, err := fromStarlarkDict(delta)
	if err != nil {
		return nil, err
	}
	updated, err := sv.col.Update(gid, changes)
	if err != nil {
		return sv.fail(err)
	}
	if updated == nil {
		return starlark.None, nil
	}
	return toStarlark(updated)
}

func (sv *storeValue) deleteMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
		return nil, err
	}
	gid, err := fromStarlark(id)
	if err != nil {
		return nil, err
	}
	removed, err := sv.col.Delete(gid)
	if err != nil {
		return sv.fail(err)
	}
	return starlark.Bool(removed), nil
}

func (sv *storeValue) listMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var limitVal starlark.Value = starlark.None
	var sortVal starlark.Value = starlark.None
	offset := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"limit?", &limitVal, "offset?", &offset, "sort?", &sortVal); err != nil {
		return nil, err
	}

	opts := store.ListOptions{Limit: -1, Offset: offset}
	if limitVal != starlark.None {
		n, err := starlark.AsInt32(limitVal)
		if err != nil {
			return nil, fmt.Errorf("%s: limit: %w", b.Name(), err)
		}
		opts.Limit = n
	}
	if sortVal != starlark.None {
		s, ok := starlark.AsString(sortVal)
		if !ok {
			return nil, fmt.Errorf("%s: sort must be a string", b.Name())
		}
		opts.Sort = s
	}

	items, total, err := sv.col.List(opts)
	if err != nil {
		return sv.fail(err)
	}
	elems := make([]starlark.Value, len(items))
	for i, rec := range items {
		v, err := toStarlark(rec)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return starlark.Tuple{starlark.NewList(elems), starlark.MakeInt(total)}, nil
}

func (sv *storeValue) searchMethod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var criteria starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "criteria?", &criteria); err != nil {
		return nil, err
	}
	filters, err := fromStarlarkDict(criteria)
	if err != nil {
		return nil, err
	}
	matches, err := sv.col.Search(filters)
	if err != nil {
		return sv.fail(err)
	}
	elems := make([]starlark.Value, len(matches))
	for i, rec := range matches {
		v, err := toStarlark(rec)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return starlark.NewList(elems), nil
}
