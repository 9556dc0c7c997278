// Package reconcile turns a scan's raw contributions into new, scored rows. It
// drops anything the user already has, writes the rest in paced batches and
// derives one activity per new contribution.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/contribution"
	"github.com/thep200/github-contrib-scanner/internal/limiter"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// ErrBatchInsert wraps a failed write. Batches written before the failure are
// kept.
var ErrBatchInsert = errors.New("batch insert failed")

type ContributionStore interface {
	ExistingURLs(ctx context.Context, userID string) (map[string]struct{}, error)
	// CreateBatch returns the rows it actually inserted.
	CreateBatch(ctx context.Context, rows []model.GithubContribution) ([]model.GithubContribution, error)
}

type ActivityStore interface {
	CreateBatch(ctx context.Context, rows []model.Activity) error
}

type Result struct {
	Contributions []contribution.Contribution
	Count         int
	TotalPoints   int
	Breakdown     map[contribution.Kind]int
}

// BreakdownByName keys the per-kind points by kind name.
func (r *Result) BreakdownByName() map[string]int {
	out := make(map[string]int, len(r.Breakdown))
	for k, v := range r.Breakdown {
		out[string(k)] = v
	}
	return out
}

type Reconciler struct {
	Logger        log.Logger
	Contributions ContributionStore
	Activities    ActivityStore
	BatchSize     int
	BatchDelay    time.Duration
	Sleep         limiter.SleepFunc
	Now           func() time.Time
}

func NewReconciler(logger log.Logger, config *cfg.Config, contributions ContributionStore, activities ActivityStore) (*Reconciler, error) {
	if contributions == nil || activities == nil {
		return nil, errors.New("reconciler needs contribution and activity stores")
	}
	return &Reconciler{
		Logger:        logger,
		Contributions: contributions,
		Activities:    activities,
		BatchSize:     config.Persist.BatchSize,
		BatchDelay:    config.Persist.BatchDelay(),
		Sleep:         limiter.Sleep,
		Now:           time.Now,
	}, nil
}

// Reconcile persists the contributions the user does not have yet and reports
// what was added. Running it twice with the same input adds nothing the second
// time.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, found []contribution.Contribution) (*Result, error) {
	seen, err := r.Contributions.ExistingURLs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load recorded contributions: %w", err)
	}

	fresh := r.filter(ctx, seen, found)
	if len(fresh) == 0 {
		r.Logger.Info(ctx, "No new contributions for user %s", userID)
		return newResult(nil), nil
	}

	rows := make([]model.GithubContribution, 0, len(fresh))
	for _, c := range fresh {
		rows = append(rows, model.GithubContribution{
			UserID:        userID,
			Kind:          string(c.Kind),
			Title:         c.Title,
			URL:           c.URL,
			Repository:    c.Repository,
			Points:        c.Points,
			ContributedAt: c.CreatedAt,
		})
	}
	written := make(map[string]struct{}, len(rows))
	if err := r.writeBatches(ctx, "contributions", len(rows), func(lo, hi int) error {
		inserted, err := r.Contributions.CreateBatch(ctx, rows[lo:hi])
		for _, row := range inserted {
			written[row.URL] = struct{}{}
		}
		return err
	}); err != nil {
		return nil, err
	}

	// A concurrent scan of the same user may have stored some urls after the
	// pre-read. Only rows inserted here are scored.
	added := make([]contribution.Contribution, 0, len(written))
	for _, c := range fresh {
		if _, ok := written[c.URL]; ok {
			added = append(added, c)
		}
	}
	if skipped := len(fresh) - len(added); skipped > 0 {
		r.Logger.Warn(ctx, "Skipped %d contributions of user %s recorded concurrently", skipped, userID)
	}
	result := newResult(added)
	if len(added) == 0 {
		return result, nil
	}

	now := r.Now().UTC()
	activities := make([]model.Activity, 0, len(added))
	for _, c := range added {
		activities = append(activities, model.Activity{
			UserID:      userID,
			Type:        model.ActivityTypeGithub,
			Title:       "GitHub: " + c.Label(),
			Description: c.Title + " in " + c.Repository,
			Points:      c.Points,
			Timestamp:   now,
		})
	}
	if err := r.writeBatches(ctx, "activities", len(activities), func(lo, hi int) error {
		return r.Activities.CreateBatch(ctx, activities[lo:hi])
	}); err != nil {
		return nil, err
	}

	r.Logger.Info(ctx, "Recorded %d new contributions worth %d points for user %s", result.Count, result.TotalPoints, userID)
	return result, nil
}

func newResult(added []contribution.Contribution) *Result {
	return &Result{
		Contributions: added,
		Count:         len(added),
		TotalPoints:   contribution.TotalPoints(added),
		Breakdown:     contribution.Breakdown(added),
	}
}

// filter drops invalid records, urls already recorded and repeats within the
// scan. Points are recomputed from the kind.
func (r *Reconciler) filter(ctx context.Context, seen map[string]struct{}, found []contribution.Contribution) []contribution.Contribution {
	fresh := make([]contribution.Contribution, 0, len(found))
	for _, c := range found {
		if err := c.Validate(); err != nil {
			r.Logger.Warn(ctx, "Skipping contribution %q: %v", c.URL, err)
			continue
		}
		if _, ok := seen[c.URL]; ok {
			continue
		}
		points, err := contribution.PointsFor(c.Kind)
		if err != nil {
			r.Logger.Warn(ctx, "Skipping contribution %q: %v", c.URL, err)
			continue
		}
		c.Points = points
		seen[c.URL] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh
}

func (r *Reconciler) writeBatches(ctx context.Context, what string, total int, write func(lo, hi int) error) error {
	size := r.BatchSize
	if size <= 0 {
		size = total
	}
	for lo := 0; lo < total; lo += size {
		if lo > 0 {
			if err := r.Sleep(ctx, r.BatchDelay); err != nil {
				return err
			}
		}
		hi := min(lo+size, total)
		if err := write(lo, hi); err != nil {
			return fmt.Errorf("%w: %s %d-%d: %w", ErrBatchInsert, what, lo, hi, err)
		}
		r.Logger.Debug(ctx, "Wrote %s %d-%d of %d", what, lo, hi, total)
	}
	return nil
}
