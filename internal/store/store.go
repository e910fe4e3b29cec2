// Package store implements durable, per-tenant JSON record collections.
//
// Layout on disk:
//
//	<root>/<session>/<collection>.json          records + auto-increment counter
//	<root>/<session>/.schemas/<collection>.json  learned schema snapshot
//
// Every mutation rewrites the collection file via write-then-rename, so the
// durable copy is always a complete state. Mutations on the same collection
// are serialized by a keyed mutex; reads go straight to the last complete
// file and never block behind writers of other collections.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const schemaDirName = ".schemas"

// Store is the root of all tenant namespaces.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // tenant "/" collection -> mutation lock
}

// Open creates (if needed) the data root and returns a Store over it.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: root, Err: err}
	}
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

// Ping verifies the data root is still present and writable.
func (s *Store) Ping() error {
	probe := filepath.Join(s.root, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return &IOError{Op: "write", Path: probe, Err: err}
	}
	if err := os.Remove(probe); err != nil {
		return &IOError{Op: "remove", Path: probe, Err: err}
	}
	return nil
}

// Tenant resolves a session identifier to its namespace, creating it on
// first sight. Two distinct identifiers never map to the same namespace.
func (s *Store) Tenant(sessionID string) (*Tenant, error) {
	if err := validateName(sessionID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(filepath.Join(dir, schemaDirName), 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Tenant{store: s, id: sessionID, dir: dir}, nil
}

// lock returns the mutation lock for one tenant x collection pair.
func (s *Store) lock(tenantID, collection string) *sync.Mutex {
	key := tenantID + "/" + collection
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Tenant is one session's isolated namespace of collections.
type Tenant struct {
	store *Store
	id    string
	dir   string
}

// ID returns the session identifier this tenant is keyed by.
func (t *Tenant) ID() string { return t.id }

// Collection binds a named collection within the tenant. The durable backing
// file is created lazily on first write; reading an untouched collection
// yields empty results, never an error.
func (t *Tenant) Collection(name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Collection{
		name:       name,
		path:       filepath.Join(t.dir, name+".json"),
		schemaPath: filepath.Join(t.dir, schemaDirName, name+".json"),
		mu:         t.store.lock(t.id, name),
	}, nil
}

// Collections lists the names of all collections the tenant has written.
func (t *Tenant) Collections() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, &IOError{Op: "read", Path: t.dir, Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		names = append(names, name[:len(name)-len(".json")])
	}
	return names, nil
}

// validateName accepts only [A-Za-z0-9_-] identifiers, keeping session and
// collection names safe to use as path components.
func validateName(name string) error {
	if name == "" {
		return &ValidationError{Reason: "empty name"}
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return &ValidationError{Reason: fmt.Sprintf("name %q contains invalid character %q", name, r)}
		}
	}
	return nil
}
