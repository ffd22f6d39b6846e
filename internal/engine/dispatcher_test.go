package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevetools/calsync/internal/config"
	"github.com/stevetools/calsync/internal/store"
)

func fakeFactory(client Client) clientFactory {
	return func(config.Account, map[string]string, *slog.Logger) (Client, error) {
		return client, nil
	}
}

func TestSync_UnconfiguredAccountFailsBeforeGuard(t *testing.T) {
	d := &Dispatcher{
		store:     testStore(t),
		logger:    testLogger(),
		guards:    newGuardSet(),
		newClient: fakeFactory(newFakeClient()),
	}

	summary := d.Sync(context.Background(), config.Account{Name: "work"})

	assert.Equal(t, "CalDAV settings not fully configured", summary.Message)
	assert.NotEmpty(t, summary.Error)

	// The guard must still be free.
	assert.True(t, d.guards.tryAcquire("work"))
}

func TestSync_RunsEngineAndReportsSummary(t *testing.T) {
	client := newFakeClient(remoteObject("r1", "\"e1\"", "Meeting"))
	d := &Dispatcher{
		store:     testStore(t),
		logger:    testLogger(),
		guards:    newGuardSet(),
		newClient: fakeFactory(client),
	}

	acct := config.Account{
		Name:      "work",
		ServerURL: "https://cal.example.com",
		Username:  "user",
		Password:  "pass",
	}

	summary := d.Sync(context.Background(), acct)

	assert.Equal(t, "work", summary.Account)
	assert.Empty(t, summary.Error)
	assert.Equal(t, 1, summary.Pulled)
	assert.Contains(t, summary.Message, "generic sync complete")
}

func TestSync_SecondTriggerWhileActiveIsSkipped(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})

	slowClient := &blockingClient{
		fakeClient: newFakeClient(),
		started:    started,
		release:    blocked,
	}

	d := &Dispatcher{
		store:     testStore(t),
		logger:    testLogger(),
		guards:    newGuardSet(),
		newClient: fakeFactory(slowClient),
	}

	acct := config.Account{
		Name:      "work",
		ServerURL: "https://cal.example.com",
		Username:  "user",
		Password:  "pass",
	}

	var (
		wg    sync.WaitGroup
		first *RunSummary
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		first = d.Sync(context.Background(), acct)
	}()

	<-started

	second := d.Sync(context.Background(), acct)
	assert.Equal(t, "sync already in progress", second.Message)
	assert.Zero(t, second.Pulled)

	close(blocked)
	wg.Wait()

	require.NotNil(t, first)
	assert.Empty(t, first.Error)

	// After the run completes the guard is released.
	third := d.Sync(context.Background(), acct)
	assert.NotEqual(t, "sync already in progress", third.Message)
}

func TestSync_RunLevelErrorInSummary(t *testing.T) {
	client := newFakeClient()
	client.calendars = nil

	d := &Dispatcher{
		store:     testStore(t),
		logger:    testLogger(),
		guards:    newGuardSet(),
		newClient: fakeFactory(client),
	}

	acct := config.Account{
		Name:      "work",
		ServerURL: "https://cal.example.com",
		Username:  "user",
		Password:  "pass",
	}

	summary := d.Sync(context.Background(), acct)

	assert.Equal(t, "generic sync failed", summary.Message)
	assert.Contains(t, summary.Error, "no calendars")

	// Failures release the guard too.
	assert.True(t, d.guards.tryAcquire("work"))
}

func TestSync_SweepIsScopedPerAccount(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	// Two accounts of the same provider type share one store. Each server
	// returns one distinct event; syncing one account must never sweep the
	// other account's mirror.
	clients := map[string]*fakeClient{
		"alfa": newFakeClient(remoteObject("uid-a", "\"ea\"", "From alfa")),
		"beta": newFakeClient(remoteObject("uid-b", "\"eb\"", "From beta")),
	}

	d := &Dispatcher{
		store:  st,
		logger: testLogger(),
		guards: newGuardSet(),
		newClient: func(acct config.Account, _ map[string]string, _ *slog.Logger) (Client, error) {
			return clients[acct.Name], nil
		},
	}

	acct := func(name string) config.Account {
		return config.Account{
			Name:      name,
			ServerURL: "https://cal.example.com",
			Username:  "u",
			Password:  "p",
		}
	}

	require.Empty(t, d.Sync(ctx, acct("alfa")).Error)
	require.Empty(t, d.Sync(ctx, acct("beta")).Error)

	evA, err := st.Get(ctx, "uid-a")
	require.NoError(t, err, "account alfa's mirror must survive account beta's sweep")
	assert.Equal(t, "alfa-sync", evA.Source)

	evB, err := st.Get(ctx, "uid-b")
	require.NoError(t, err)
	assert.Equal(t, "beta-sync", evB.Source)

	// A repeat run still sweeps within its own account.
	clients["alfa"].objects = nil

	summary := d.Sync(ctx, acct("alfa"))
	require.Empty(t, summary.Error)
	assert.Equal(t, 1, summary.Removed)

	_, err = st.Get(ctx, "uid-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, "uid-b")
	assert.NoError(t, err)
}

func TestSyncAll_ReturnsSummariesInNameOrder(t *testing.T) {
	d := &Dispatcher{
		store:     testStore(t),
		logger:    testLogger(),
		guards:    newGuardSet(),
		newClient: fakeFactory(newFakeClient()),
	}

	accounts := map[string]config.Account{
		"zeta": {ServerURL: "https://cal.example.com", Username: "u", Password: "p"},
		"alfa": {ServerURL: "https://cal.example.com", Username: "u", Password: "p"},
	}

	summaries := d.SyncAll(context.Background(), accounts)

	require.Len(t, summaries, 2)
	assert.Equal(t, "alfa", summaries[0].Account)
	assert.Equal(t, "zeta", summaries[1].Account)
}

// blockingClient parks the first Login until released, so a test can hold a
// run open while probing the guard.
type blockingClient struct {
	*fakeClient

	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingClient) Login(ctx context.Context) error {
	b.once.Do(func() {
		close(b.started)

		select {
		case <-b.release:
		case <-time.After(10 * time.Second):
		}
	})

	return b.fakeClient.Login(ctx)
}
