package query

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySelector is wrapped when a blank selector is queried.
	ErrEmptySelector = errors.New("empty selector")
	// ErrScopeDetached is wrapped when the scope root is not part of the document.
	ErrScopeDetached = errors.New("scope root is not attached to the document")
)

// SelectorError reports a selector that cannot be evaluated, either because
// it does not parse or because its scope root is missing from the document.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

// IsSelectorError reports whether err carries a *SelectorError.
func IsSelectorError(err error) bool {
	var se *SelectorError
	return errors.As(err, &se)
}
