package aliases

import (
	"context"

	"github.com/google/uuid"
)

// This file contains interface counterparts of function types that are
// passed around as callbacks. Mocks are generated for these
// interfaces, so that tests can pass the Call method of a mock
// wherever the function type is expected.

// UUIDGenerator corresponds to util.UUIDGenerator.
type UUIDGenerator interface {
	Call() (uuid.UUID, error)
}

// TeardownStep corresponds to layout.TeardownStep.
type TeardownStep interface {
	Call(ctx context.Context) error
}
