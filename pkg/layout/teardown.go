package layout

import (
	"context"
)

// TeardownStep is a single step that needs to be performed to release
// the resources associated with a session, such as killing the mover
// or reporting the outcome of the transfer.
type TeardownStep func(ctx context.Context) error

// NewChainedTeardownStep creates a TeardownStep that invokes a series
// of existing steps sequentially. Later steps are invoked, even if
// earlier steps fail. The first observed error is returned.
func NewChainedTeardownStep(steps []TeardownStep) TeardownStep {
	return func(ctx context.Context) error {
		var chainedErr error
		for _, step := range steps {
			if err := step(ctx); chainedErr == nil {
				chainedErr = err
			}
		}
		return chainedErr
	}
}
