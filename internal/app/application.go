// Package app composes the progression services into a running application.
// Business logic lives in internal/app/services; this package only wires
// stores, services and lifecycle together.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	ledgersvc "github.com/Elevate-App/progression_layer/internal/app/services/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/services/levelwatch"
	"github.com/Elevate-App/progression_layer/internal/app/services/notify"
	"github.com/Elevate-App/progression_layer/internal/app/services/tasks"
	yieldsvc "github.com/Elevate-App/progression_layer/internal/app/services/yield"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
	"github.com/Elevate-App/progression_layer/internal/app/storage/memory"
	"github.com/Elevate-App/progression_layer/internal/app/system"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Balances storage.BalanceStore
	Journal  storage.JournalStore
	Tasks    storage.TaskStore
	Events   storage.EventStore
}

// Options tunes application wiring. The zero value is usable.
type Options struct {
	// DailyRate overrides the default daily yield rate.
	DailyRate decimal.Decimal
	// YieldSchedule is the cron spec for the distribution sweep. Empty uses
	// the daily default.
	YieldSchedule string
	// NotifyURL is the webhook endpoint for user-facing notifications. Empty
	// disables delivery.
	NotifyURL string
	// NotifyKey is the bearer token sent with notifications.
	NotifyKey string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger     *ledgersvc.Service
	Tasks      *tasks.Service
	LevelWatch *levelwatch.Watcher
	Yield      *yieldsvc.Distributor
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Balances == nil {
		stores.Balances = mem
	}
	if stores.Journal == nil {
		stores.Journal = mem
	}
	if stores.Tasks == nil {
		stores.Tasks = mem
	}
	if stores.Events == nil {
		stores.Events = mem
	}

	var notifier notify.Notifier = notify.Noop{}
	if opts.NotifyURL != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		n, err := notify.NewHTTPNotifier(httpClient, opts.NotifyURL, opts.NotifyKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure notifier: %w", err)
		}
		notifier = n
	}

	ledgerService := ledgersvc.New(stores.Balances, stores.Journal, opts.DailyRate, log)
	watcher := levelwatch.New(stores.Balances, stores.Events, notifier, log)
	ledgerService.AttachObserver(watcher)

	taskService := tasks.New(stores.Tasks, ledgerService, log)
	taskService.AttachNotifier(notifier)

	distributor := yieldsvc.NewDistributor(stores.Balances, ledgerService, opts.YieldSchedule, log)

	manager := system.NewManager()
	for _, name := range []string{"ledger", "tasks", "levelwatch"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(distributor); err != nil {
		return nil, fmt.Errorf("register %s: %w", distributor.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Ledger:     ledgerService,
		Tasks:      taskService,
		LevelWatch: watcher,
		Yield:      distributor,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
