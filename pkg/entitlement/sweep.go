package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/paywall/pkg/async"
	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// sweepWorkers bounds concurrent deletes during a sweep.
const sweepWorkers = 4

// Sweeper periodically deletes expired grace period records. It
// complements the resolver's delete-on-read: lazy deletion only fires
// when a user checks the feature again, so abandoned records linger
// without a sweep.
type Sweeper struct {
	store  docstore.Store
	logger *observability.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewSweeper creates a sweeper over the grace period collection.
func NewSweeper(store docstore.Store, logger *observability.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules the sweep on the given cron expression and begins
// running it in the background.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("grace period sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule grace period sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduled sweep and waits for a running one.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep deletes every grace period whose end date has passed and
// returns how many were removed. Individual delete failures are logged
// and skipped; the sweep is idempotent and will pick them up next run.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.Query(ctx, CollectionGracePeriods,
		docstore.Where("endDate", docstore.OpLessOrEqual, s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("query expired grace periods: %w", err)
	}

	ids := make([]string, len(expired))
	for i, doc := range expired {
		ids[i] = doc.ID
	}

	errs := async.Batch(ctx, ids, sweepWorkers, 10*time.Second, func(ctx context.Context, id string) error {
		return s.store.Delete(ctx, CollectionGracePeriods, id)
	})
	for _, err := range errs {
		s.logger.WithError(err).Warn("failed to delete expired grace period")
	}

	deleted := len(ids) - len(errs)
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("swept expired grace periods")
	}
	return deleted, nil
}
