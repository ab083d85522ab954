package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"

	"lowforge/internal/logging"
	"lowforge/internal/model"
)

// RunBatch executes independent requests as separate workflow runs,
// at most parallel at a time. Results are returned in request order;
// a failed run yields a rejected solution in its slot, never a nil.
// Each run owns its browser sessions, so runs do not interact.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []*model.Request, parallel int, humanInLoop bool) []*model.Solution {
	if parallel < 1 {
		parallel = 1
	}

	o.emit(EventBatchStarted, "", "", "")
	logging.Workflow("[Orchestrator] Batch of %d requests (parallel=%d)", len(reqs), parallel)

	results := make([]*model.Solution, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, req := range reqs {
		g.Go(func() error {
			results[i] = o.Execute(ctx, req, humanInLoop)
			return nil
		})
	}
	g.Wait()

	return results
}
