package runner

import (
	"fmt"
	"strings"
)

// UnknownScenarioError reports a scenario name that is not registered.
// It lists the registered names so the caller can print a useful message
// without a second lookup.
type UnknownScenarioError struct {
	// Name is the scenario that was requested.
	Name string

	// Known lists the registered scenario names.
	Known []string
}

func (e *UnknownScenarioError) Error() string {
	return fmt.Sprintf("unknown scenario %q (registered: %s)", e.Name, strings.Join(e.Known, ", "))
}
