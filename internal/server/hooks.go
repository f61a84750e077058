package server

import (
	"context"

	"github.com/ashita-ai/keiro/internal/model"
)

// OutcomeHook receives recorded outcomes within the server layer.
// Defined here (not in the root keiro package) to avoid a circular import:
// internal/server → keiro → internal/server would be a cycle.
// The root keiro package wraps keiro.OutcomeObserver into OutcomeHook via an
// adapter.
//
// Hook methods are called asynchronously in goroutines. Implementations must
// not block indefinitely. Failures are logged and do not fail the originating
// request.
type OutcomeHook interface {
	OnOutcomeRecorded(ctx context.Context, event model.OutcomeEvent) error
}
