package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stevetools/calsync/internal/caldav"
	"github.com/stevetools/calsync/internal/config"
	"github.com/stevetools/calsync/internal/provider"
	"github.com/stevetools/calsync/internal/store"
)

// httpTimeout bounds each network call so a hung server cannot wedge the run
// guard permanently.
const httpTimeout = 30 * time.Second

// clientFactory builds a protocol client for an account with the strategy's
// transport headers applied. Tests inject fakes.
type clientFactory func(acct config.Account, headers map[string]string, logger *slog.Logger) (Client, error)

// Dispatcher selects the provider strategy for an account and runs the
// reconciler under the single-flight guard. One Dispatcher serves all
// accounts sharing a store.
type Dispatcher struct {
	store     store.Store
	logger    *slog.Logger
	guards    *guardSet
	newClient clientFactory
}

// NewDispatcher creates a Dispatcher backed by real CalDAV clients.
func NewDispatcher(st store.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		store:  st,
		logger: logger,
		guards: newGuardSet(),
		newClient: func(acct config.Account, headers map[string]string, logger *slog.Logger) (Client, error) {
			return caldav.NewClient(acct.ServerURL, caldav.Credentials{
				Username:    acct.Username,
				Password:    acct.Password,
				BearerToken: acct.BearerToken,
			}, headers, &http.Client{Timeout: httpTimeout}, logger)
		},
	}
}

// Sync runs one reconciliation for the account. It never returns an error;
// failures are reported through the summary so the CLI/API layer can surface
// them verbatim. The configuration check runs before the guard is taken, and
// a second trigger while a run is active returns an "already in progress"
// summary without touching the store.
func (d *Dispatcher) Sync(ctx context.Context, acct config.Account) *RunSummary {
	summary := &RunSummary{Account: acct.Name}

	if err := acct.Validate(); err != nil {
		summary.Message = "CalDAV settings not fully configured"
		summary.Error = err.Error()

		return summary
	}

	if !d.guards.tryAcquire(acct.Name) {
		d.logger.Info("sync already in progress, skipping", "account", acct.Name)
		summary.Message = "sync already in progress"

		return summary
	}
	defer d.guards.release(acct.Name)

	strategy := provider.ForServer(acct.ServerURL, acct.Calendar)
	strategy.ScopeToAccount(acct.Name)
	logger := d.logger.With("account", acct.Name, "provider", strategy.Name)

	logger.Info("sync run starting")

	client, err := d.newClient(acct, strategy.TransportHeaders(), logger)
	if err != nil {
		summary.Message = "sync failed"
		summary.Error = err.Error()

		return summary
	}

	result, err := New(d.store, client, strategy, logger).Run(ctx)
	result.Account = acct.Name

	if err != nil {
		logger.Error("sync run failed", "error", err)
		result.Message = fmt.Sprintf("%s sync failed", strategy.Name)
		result.Error = err.Error()

		return result
	}

	logger.Info("sync run finished",
		"pulled", result.Pulled,
		"updated", result.Updated,
		"removed", result.Removed,
		"pushed", result.Pushed,
		"deleted", result.Deleted,
	)

	return result
}

// SyncAll syncs every account concurrently (accounts are independent; the
// guard serializes per account) and returns summaries in account-name order.
func (d *Dispatcher) SyncAll(ctx context.Context, accounts map[string]config.Account) []*RunSummary {
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}

	sort.Strings(names)

	var (
		mu        sync.Mutex
		summaries = make([]*RunSummary, 0, len(names))
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, name := range names {
		acct := accounts[name]
		acct.Name = name

		g.Go(func() error {
			s := d.Sync(ctx, acct)

			mu.Lock()
			summaries = append(summaries, s)
			mu.Unlock()

			return nil
		})
	}

	// Sync never returns an error; Wait only propagates ctx cancellation.
	_ = g.Wait()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Account < summaries[j].Account
	})

	return summaries
}
