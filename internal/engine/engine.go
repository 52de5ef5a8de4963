// Package engine defines the Execution Engine collaborator: the external
// system that turns a circuit description into measurement counts. The
// service only depends on this capability interface; correctness and
// performance of the simulation itself are out of scope here.
package engine

import "context"

// Engine runs a serialized circuit for the given number of shots and returns
// a mapping from outcome label to occurrence count. Any failure (parse error,
// execution error, unsupported construct) is reported as an opaque error
// whose message is stored verbatim on the task.
type Engine interface {
	Run(ctx context.Context, circuit string, shots int) (map[string]int, error)
}

// Func adapts a plain function to the Engine interface, mostly for tests.
type Func func(ctx context.Context, circuit string, shots int) (map[string]int, error)

func (f Func) Run(ctx context.Context, circuit string, shots int) (map[string]int, error) {
	return f(ctx, circuit, shots)
}
