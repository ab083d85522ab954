// Package automation drives the low-code platform's web UI. The Driver
// interface is the UIAutomation port the workflows depend on; RodDriver
// implements it with go-rod. One driver equals one browser session —
// sessions are never shared between workflow instances.
package automation

import (
	"context"

	"lowforge/internal/model"
)

// Driver executes UI operations against one browser session.
type Driver interface {
	// Navigate loads the given URL in the session page.
	Navigate(ctx context.Context, url string) error

	// Screenshot captures the current page and returns the file path.
	Screenshot(ctx context.Context) (string, error)

	// ExecuteOperation performs the operation's action and mutates its
	// Success, ErrorMessage, ExecutionTime and screenshot fields in
	// place. The returned bool mirrors op.Success.
	ExecuteOperation(ctx context.Context, op *model.Operation) bool

	// Checkpoint snapshots the session state (URL, title, viewport,
	// screenshot, page structure) before executing the operation at
	// operationIndex.
	Checkpoint(ctx context.Context, solutionID string, operationIndex int) (*model.OperationCheckpoint, error)

	// Authenticate logs into the platform. Idempotent: returns true
	// immediately when the session is already authenticated.
	Authenticate(ctx context.Context, username, password, loginURL string) (bool, error)

	// Session returns the session bookkeeping record.
	Session() *model.SessionInfo

	// Close releases the session's page.
	Close() error
}

// Factory opens independent driver sessions. The developer and validator
// sub-workflows each acquire their own session through it.
type Factory interface {
	NewDriver(ctx context.Context) (Driver, error)
}
