// Package scheduler bounds concurrent seed crawls and outbound API requests.
package scheduler

import (
	"context"
	"fmt"

	"github.com/JakeFAU/citenet/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of work admitted by the Pool.
type Task func(ctx context.Context) error

// Pool runs tasks with at most size of them active at once. The first task
// error cancels the context shared by the remaining tasks.
type Pool struct {
	size   int
	logger *zap.Logger
}

// NewPool creates a Pool admitting size concurrent tasks.
func NewPool(size int, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{size: size, logger: logger}, nil
}

// Size reports the admission limit.
func (p *Pool) Size() int {
	return p.size
}

// Run admits tasks in order and blocks until every admitted task returns.
// Tasks not yet started when the shared context is canceled are skipped.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	skipped := 0
	for _, task := range tasks {
		if gctx.Err() != nil {
			skipped++
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			metrics.IncActiveCrawls()
			defer metrics.DecActiveCrawls()
			return task(gctx)
		})
	}

	err := g.Wait()
	if skipped > 0 {
		p.logger.Warn("Tasks abandoned after cancellation", zap.Int("skipped", skipped))
	}
	if err != nil {
		return fmt.Errorf("run tasks: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("run tasks: %w", ctxErr)
	}
	return nil
}
