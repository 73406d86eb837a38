// Package storage provides the result store backends: a PostgreSQL store for
// production and an in-memory store for tests and development.
package storage

import (
	"fmt"

	"github.com/yushao2/sre-agent/internal/core"
)

// invalidTransitionError is returned when a state transition is attempted
// from the wrong source state, for example completing a task that was
// already released back to pending by a redelivery.
type invalidTransitionError struct {
	ID   string
	From core.TaskState
}

func (e *invalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition from state %q", e.ID, e.From)
}
