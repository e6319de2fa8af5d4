package config

import "fmt"

// Error reports missing or invalid configuration. It is fatal: a run that
// hits it aborts before any work is dispatched.
type Error struct {
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}
