package store

import "fmt"

// ValidationError reports a record or argument the store cannot accept.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "store validation: " + e.Reason
}

// IOError reports a failure to read or write durable collection state.
type IOError struct {
	Op   string // "read", "write", "rename", "decode"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
