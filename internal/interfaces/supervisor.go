package interfaces

import (
	"context"

	"github.com/ternarybob/dispatch/internal/models"
)

// Supervisor owns worker process lifecycle. Scaling is not atomic with
// concurrent create/stop calls; callers serialize.
type Supervisor interface {
	// Init spawns a process for every registered worker
	Init(ctx context.Context) error

	// CreateWorker registers a new worker record and spawns its process
	CreateWorker(ctx context.Context, workerType models.JobType) (int64, error)

	// StopWorker terminates the worker process. Returns false when no
	// live handle exists for the id.
	StopWorker(ctx context.Context, id int64) (bool, error)

	// ScaleWorkers adjusts the worker count for a type, stopping
	// oldest-first on scale-down
	ScaleWorkers(ctx context.Context, workerType models.JobType, desired int) error

	// Shutdown stops every known worker
	Shutdown(ctx context.Context) error
}

// Adapter executes one job payload. Implementations are the closed
// union of email, messaging, webhook, and script adapters; the worker
// runtime selects one at boot by its type.
type Adapter interface {
	Execute(ctx context.Context, payload []byte) (interface{}, error)
}
