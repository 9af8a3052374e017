// Package yield runs the periodic daily-yield distribution sweep.
package yield

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Elevate-App/progression_layer/internal/app/metrics"
	ledgersvc "github.com/Elevate-App/progression_layer/internal/app/services/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
	"github.com/Elevate-App/progression_layer/internal/app/system"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

// DefaultSchedule distributes yield once a day at UTC midnight.
const DefaultSchedule = "0 0 * * *"

// Distributor sweeps all balance records on a cron schedule and applies one
// day of yield to each. Per-user failures are logged and skipped; the sweep
// continues.
type Distributor struct {
	balances storage.BalanceStore
	ledger   *ledgersvc.Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	running bool
}

var _ system.Service = (*Distributor)(nil)

// NewDistributor builds a distributor. An empty schedule uses the default
// daily spec.
func NewDistributor(balances storage.BalanceStore, ledger *ledgersvc.Service, schedule string, log *logger.Logger) *Distributor {
	if log == nil {
		log = logger.NewDefault("yield-distributor")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Distributor{
		balances: balances,
		ledger:   ledger,
		schedule: schedule,
		log:      log,
	}
}

func (d *Distributor) Name() string { return "yield-distributor" }

func (d *Distributor) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	runner := cron.New(cron.WithLocation(time.UTC))
	entry, err := runner.AddFunc(d.schedule, func() {
		d.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	d.cron = runner
	d.entry = entry
	d.running = true
	runner.Start()

	d.log.WithField("schedule", d.schedule).Info("yield distributor started")
	return nil
}

func (d *Distributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	runner := d.cron
	d.cron = nil
	d.running = false
	d.mu.Unlock()

	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single distribution sweep over all users. Exposed for
// the admin trigger and tests.
func (d *Distributor) RunOnce(ctx context.Context) {
	start := time.Now()

	balances, err := d.balances.ListBalances(ctx)
	if err != nil {
		d.log.WithError(err).Warn("list balances for yield sweep failed")
		metrics.RecordYieldRun("error", time.Since(start))
		return
	}

	applied, failed := 0, 0
	for _, bal := range balances {
		if bal.Core.IsZero() {
			continue
		}
		if _, err := d.ledger.ApplyDailyYield(ctx, bal.UserID); err != nil {
			d.log.WithError(err).WithField("user_id", bal.UserID).Warn("apply daily yield failed")
			failed++
			continue
		}
		applied++
	}

	outcome := "ok"
	if failed > 0 {
		outcome = "partial"
	}
	metrics.RecordYieldRun(outcome, time.Since(start))
	d.log.WithField("applied", applied).WithField("failed", failed).Info("yield sweep finished")
}
