package progress

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	Client  *http.Client
	BaseURL string
	Token   string

	// OnChange receives every per-item transition. Calls are serialised.
	OnChange ChangeFunc
	// OnComplete fires once when every item has completed, serialised with
	// OnChange.
	OnComplete func()

	Logger *slog.Logger
}

// Watch follows every item concurrently and returns their final states once
// all streams have ended. The error is non-nil only when ctx was cancelled.
func Watch(ctx context.Context, ids []uuid.UUID, opts WatchOptions) (map[uuid.UUID]State, error) {
	agg := NewAggregator(ids, opts.OnComplete)

	var mu sync.Mutex
	final := make(map[uuid.UUID]State, len(ids))
	onChange := func(id uuid.UUID, s State) {
		mu.Lock()
		defer mu.Unlock()
		if opts.OnChange != nil {
			opts.OnChange(id, s)
		}
		agg.Report(id, s)
	}

	// Consumers never fail; the group only joins them.
	var g errgroup.Group
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		c := NewConsumer(opts.Client, opts.BaseURL, opts.Token, id, onChange, opts.Logger)
		g.Go(func() error {
			s := c.Run(ctx)
			mu.Lock()
			final[id] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return final, ctx.Err()
}
