package harness

import (
	"fmt"
	"time"
)

// TimeoutError reports a snippet that ran past its wall-clock budget.
// Execution is abandoned; store mutations already committed stand.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded %s wall-clock timeout", e.Timeout)
}

// ResultTooLargeError reports a reply body over the serialized size cap.
// The body is never silently truncated; the whole request fails instead.
type ResultTooLargeError struct {
	Size  int
	Limit int
}

func (e *ResultTooLargeError) Error() string {
	return fmt.Sprintf("reply body is %d bytes, limit %d", e.Size, e.Limit)
}

// MissingReplyError reports a snippet that finished without binding a
// usable REPLY value.
type MissingReplyError struct {
	Reason string
}

func (e *MissingReplyError) Error() string {
	return "missing reply: " + e.Reason
}

// ExecError reports a snippet that failed at runtime (a fail() call, a type
// error, an out-of-range index) without any more specific classification.
type ExecError struct {
	Msg string
}

func (e *ExecError) Error() string {
	return "execution failed: " + e.Msg
}
