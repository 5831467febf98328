// File: pkg/manifest/errors.go
// Brief: Error types surfaced by manifest parsing and resolution.

package manifest

import (
	"fmt"
	"strings"
)

// ParseError reports a structurally malformed manifest document.
type ParseError struct {
	Location string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("parse manifest: %v", e.Err)
	}
	return fmt.Sprintf("parse manifest %s: %v", e.Location, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IncludeNotFoundError reports an include reference whose fragment file is missing.
type IncludeNotFoundError struct {
	StackKey string
	Path     string
	Err      error
}

func (e *IncludeNotFoundError) Error() string {
	return fmt.Sprintf("stack %s: included fragment %s not found: %v", e.StackKey, e.Path, e.Err)
}

func (e *IncludeNotFoundError) Unwrap() error { return e.Err }

// IncludeCycleError reports a self- or mutual-inclusion in the include graph.
type IncludeCycleError struct {
	Path string
}

func (e *IncludeCycleError) Error() string {
	return fmt.Sprintf("include cycle detected at %s", e.Path)
}

// ValidationError aggregates every constraint violation found in one pass so
// the caller sees all problems at once instead of the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Addf(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

func (e *ValidationError) Merge(other error) {
	if other == nil {
		return
	}
	if verr, ok := other.(*ValidationError); ok {
		e.Issues = append(e.Issues, verr.Issues...)
		return
	}
	e.Issues = append(e.Issues, other.Error())
}

// OrNil returns nil when no issues were recorded, making the accumulate
// pattern safe to return directly.
func (e *ValidationError) OrNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "validation failed"
	case 1:
		return e.Issues[0]
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Issues), strings.Join(e.Issues, "; "))
}
