// Package factory reconstructs a flight's step list from its class_name and
// input parameters. The engine never stores steps; it stores class_name and
// re-derives the step sequence through a Factory on every Do/Undo pass,
// including after a crash.
package factory

import (
	"fmt"

	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

// Constructor builds the ordered step list for one flight class. It must be
// deterministic: equal inputParams must yield an identical step sequence and
// identical retry-rule kinds on every call, and it must not consult external
// state (spec: Factory determinism contract).
type Constructor func(inputParams types.InputParams, appContext any) ([]types.StepEntry, error)

// Registry is a Factory backed by a static map of class_name to Constructor,
// populated once at startup before the engine accepts submissions.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry. Register every flight class before
// calling Engine.Start.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a Constructor for className, replacing any previous
// registration for that name.
func (r *Registry) Register(className string, ctor Constructor) {
	r.constructors[className] = ctor
}

// Build reconstructs the step list for className. It returns
// stairwayerr.ErrUnknownClass if no constructor was registered, wrapped with
// the class name for diagnostics.
func (r *Registry) Build(className string, inputParams types.InputParams, appContext any) ([]types.StepEntry, error) {
	ctor, ok := r.constructors[className]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stairwayerr.ErrUnknownClass, className)
	}
	return ctor(inputParams, appContext)
}

// Known reports whether className has a registered constructor, used by
// admission to reject unknown classes before creating a journal row.
func (r *Registry) Known(className string) bool {
	_, ok := r.constructors[className]
	return ok
}

// Classes returns the registered class names, in no particular order.
func (r *Registry) Classes() []string {
	out := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		out = append(out, name)
	}
	return out
}
