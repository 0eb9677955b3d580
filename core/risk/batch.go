package risk

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Item pairs a learner identifier with its snapshot.
type Item struct {
	ID       string
	Snapshot Snapshot
}

type Scored struct {
	ID string `json:"id"`
	Result
}

// ScoreAll scores every item with scorer, in input order.
// Items share no state, so one bad snapshot never affects another.
func ScoreAll(scorer Scorer, items []Item, now time.Time) []Scored {
	out := make([]Scored, len(items))
	for i, it := range items {
		out[i] = Scored{ID: it.ID, Result: scorer.Compute(it.Snapshot, now)}
	}
	return out
}

// ScoreAllParallel returns the same output as ScoreAll. It only fails when
// ctx is done before every item has been scored.
func ScoreAllParallel(ctx context.Context, scorer Scorer, items []Item, now time.Time, workers int) ([]Scored, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]Scored, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range items {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = Scored{ID: items[i].ID, Result: scorer.Compute(items[i].Snapshot, now)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Counts tallies results per label; every label is present.
func Counts(scored []Scored) map[Label]int {
	counts := make(map[Label]int, len(Labels))
	for _, l := range Labels {
		counts[l] = 0
	}
	for _, s := range scored {
		counts[s.RiskLabel]++
	}
	return counts
}
