package service

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

type thesisLoader interface {
	Get(ctx context.Context, id int64) (*models.Thesis, error)
}

// thesisBatchLoader fetches theses with their associations concurrently.
type thesisBatchLoader struct {
	repo  thesisLoader
	limit int
}

func newThesisBatchLoader(repo thesisLoader, limit int) *thesisBatchLoader {
	if limit <= 0 {
		limit = 1
	}
	return &thesisBatchLoader{repo: repo, limit: limit}
}

// Load returns the theses that could be read, in the order of ids. Failures
// are recorded on summary in the same order rather than aborting the batch.
func (l *thesisBatchLoader) Load(ctx context.Context, ids []int64, summary *models.RunSummary) []*models.Thesis {
	loaded := make([]*models.Thesis, len(ids))
	failures := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			loaded[i], failures[i] = l.repo.Get(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.Thesis, 0, len(ids))
	for i, id := range ids {
		switch err := failures[i]; {
		case errors.Is(err, sql.ErrNoRows):
			summary.AddError(id, "thesis not found")
		case err != nil:
			summary.AddError(id, "load failed: %v", err)
		case loaded[i] != nil:
			out = append(out, loaded[i])
		}
	}
	return out
}

type thesisLocker interface {
	Acquire(ctx context.Context, thesisID int64) (func(), error)
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, int64) (func(), error) { return func() {}, nil }
