package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by Resolve for names with no descriptor.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ErrBadArgs marks invocation arguments the tool could not accept:
// missing required keys, wrong types, unusable values. The dispatch
// layer maps it to a client error.
var ErrBadArgs = errors.New("tools: invalid arguments")

// ConstructionError reports a failed constructor run. The factory never
// caches it; a later Resolve of the same name constructs again.
type ConstructionError struct {
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("tools: constructing %q: %v", e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }
