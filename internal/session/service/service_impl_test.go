package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/waplink/internal/clock"
	"github.com/smallbiznis/waplink/internal/config"
	"github.com/smallbiznis/waplink/internal/locks"
	"github.com/smallbiznis/waplink/internal/metrics"
	"github.com/smallbiznis/waplink/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"github.com/smallbiznis/waplink/internal/quota"
	"github.com/smallbiznis/waplink/internal/session/domain"
	sessionrepo "github.com/smallbiznis/waplink/internal/session/repository"
	"github.com/smallbiznis/waplink/internal/settings"
	tenantdomain "github.com/smallbiznis/waplink/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/waplink/internal/tenant/repository"
	"github.com/smallbiznis/waplink/internal/tenantctx"
	"github.com/smallbiznis/waplink/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeAdapter struct {
	mu sync.Mutex

	states     map[string]*providerdomain.RemoteState
	statusErrs map[string]error
	pairings   map[string]*providerdomain.PairingArtifact

	createHandle *providerdomain.RemoteHandle
	createErr    error
	deleteErr    error
	statusDelay  time.Duration

	statusCalls  map[string]int
	pairingCalls map[string]int
	webhookCalls map[string]int
	startCalls   map[string]int
	deleteCalls  map[string]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		states:       map[string]*providerdomain.RemoteState{},
		statusErrs:   map[string]error{},
		pairings:     map[string]*providerdomain.PairingArtifact{},
		statusCalls:  map[string]int{},
		pairingCalls: map[string]int{},
		webhookCalls: map[string]int{},
		startCalls:   map[string]int{},
		deleteCalls:  map[string]int{},
	}
}

func (f *fakeAdapter) CreateRemote(_ context.Context, name string, _ providerdomain.CreateOptions) (*providerdomain.RemoteHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createHandle != nil {
		return f.createHandle, nil
	}
	return &providerdomain.RemoteHandle{
		Status:  providerdomain.StatusAwaitingPairing,
		Pairing: &providerdomain.PairingArtifact{Data: "data:image/png;base64,QR-" + name},
	}, nil
}

func (f *fakeAdapter) StartRemote(_ context.Context, name string) (*providerdomain.PairingArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls[name]++
	if pairing, ok := f.pairings[name]; ok {
		return pairing, nil
	}
	return &providerdomain.PairingArtifact{Data: "data:image/png;base64,START-" + name}, nil
}

func (f *fakeAdapter) StopRemote(context.Context, string) error    { return nil }
func (f *fakeAdapter) RestartRemote(context.Context, string) error { return nil }

func (f *fakeAdapter) DeleteRemote(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls[name]++
	return f.deleteErr
}

func (f *fakeAdapter) FetchStatus(_ context.Context, name string) (*providerdomain.RemoteState, error) {
	f.mu.Lock()
	f.statusCalls[name]++
	delay := f.statusDelay
	err := f.statusErrs[name]
	state := f.states[name]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &providerdomain.RemoteState{Status: providerdomain.StatusStopped}, nil
	}
	return state, nil
}

func (f *fakeAdapter) FetchPairing(_ context.Context, name string) (*providerdomain.PairingArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairingCalls[name]++
	if pairing, ok := f.pairings[name]; ok {
		return pairing, nil
	}
	return &providerdomain.PairingArtifact{Data: "data:image/png;base64,FETCH-" + name}, nil
}

func (f *fakeAdapter) RegisterWebhook(_ context.Context, name, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookCalls[name]++
	return nil
}

func (f *fakeAdapter) count(m map[string]int, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[name]
}

type fakeFactory struct {
	mu      sync.Mutex
	adapter *fakeAdapter
	lastCfg providerdomain.AdapterConfig
}

func (f *fakeFactory) Provider() string { return "waha" }

func (f *fakeFactory) NewAdapter(cfg providerdomain.AdapterConfig) (providerdomain.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCfg = cfg
	return f.adapter, nil
}

func (f *fakeFactory) last() providerdomain.AdapterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCfg
}

type harness struct {
	svc     domain.Service
	db      *gorm.DB
	clk     *clock.FakeClock
	adapter *fakeAdapter
	factory *fakeFactory
	repo    domain.Repository
	cfg     config.Config
	params  Params
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Session{},
		&tenantdomain.Tenant{},
		&settings.ProviderSetting{},
	))

	cfg := config.Config{
		PairingTTL:        5 * time.Minute,
		SyncParallelism:   4,
		TenantMaxSessions: 3,
		WebhookBaseURL:    "https://hub.example.com",
		Waha:              config.GatewayConfig{BaseURL: "http://waha.local", APIKey: "fleet-key"},
	}

	adapter := newFakeAdapter()
	factory := &fakeFactory{adapter: adapter}
	repo := sessionrepo.Provide()
	clk := clock.NewFakeClock(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))

	gate := quota.NewGate(quota.Params{
		DB:       db,
		Config:   cfg,
		Tenants:  tenantrepo.Provide(),
		Sessions: repo,
	})

	params := Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Clock:    clk,
		Repo:     repo,
		Registry: adapters.NewRegistry(factory),
		Settings: settings.New(settings.Params{DB: db, Log: zap.NewNop(), Cfg: cfg}),
		Quota:    gate,
		Locker:   locks.NewLocker(config.Config{}),
		Metrics:  metrics.NewWith(prometheus.NewRegistry()),
	}

	return &harness{
		svc: New(params), db: db, clk: clk, adapter: adapter,
		factory: factory, repo: repo, cfg: cfg, params: params,
	}
}

func tenantCtx(id int64) context.Context {
	return tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: snowflake.ID(id)})
}

func adminCtx() context.Context {
	return tenantctx.WithScope(context.Background(), tenantctx.Scope{Privileged: true})
}

func (h *harness) seed(t *testing.T, session domain.Session) *domain.Session {
	t.Helper()
	if session.Provider == "" {
		session.Provider = "waha"
	}
	if session.Status == "" {
		session.Status = providerdomain.StatusStopped
	}
	now := h.clk.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	require.NoError(t, h.db.Create(&session).Error)
	return &session
}

func TestCreateDerivesNameAndIssuesPairing(t *testing.T) {
	h := newHarness(t)

	view, err := h.svc.Create(tenantCtx(10), domain.CreateRequest{
		DisplayName: "Acme Store",
		Provider:    "waha",
	})
	require.NoError(t, err)

	assert.Equal(t, "acme-store-a", view.Name, "slug plus base36 tenant suffix")
	assert.Equal(t, providerdomain.StatusAwaitingPairing, view.Status)
	require.NotNil(t, view.Pairing)
	assert.Equal(t, h.clk.Now().Add(h.cfg.PairingTTL), view.Pairing.ExpiresAt)
}

func TestCreateConflictsAndQuota(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(10)

	_, err := h.svc.Create(ctx, domain.CreateRequest{DisplayName: "Acme Store", Provider: "waha"})
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, domain.CreateRequest{DisplayName: "Acme Store", Provider: "waha"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Same display name under another tenant derives a different name.
	_, err = h.svc.Create(tenantCtx(20), domain.CreateRequest{DisplayName: "Acme Store", Provider: "waha"})
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, domain.CreateRequest{DisplayName: "Second", Provider: "waha"})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, domain.CreateRequest{DisplayName: "Third", Provider: "waha"})
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, domain.CreateRequest{DisplayName: "Fourth", Provider: "waha"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestCreateRejectsUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(tenantCtx(10), domain.CreateRequest{
		DisplayName: "Acme",
		Provider:    "carrier-pigeon",
	})
	assert.ErrorIs(t, err, providerdomain.ErrUnknownProvider)
}

// createFailRepo makes every insert fail while delegating everything
// else to the real repository.
type createFailRepo struct {
	domain.Repository
	err error
}

func (r *createFailRepo) Create(context.Context, *gorm.DB, *domain.Session) error {
	return r.err
}

func TestCreateTearsDownRemoteWhenInsertFails(t *testing.T) {
	h := newHarness(t)
	params := h.params
	params.Repo = &createFailRepo{Repository: h.repo, err: errors.New("storage offline")}
	svc := New(params)

	_, err := svc.Create(tenantCtx(10), domain.CreateRequest{
		DisplayName: "Acme",
		Provider:    "waha",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, h.adapter.count(h.adapter.deleteCalls, "acme-a"),
		"failed insert must not leave the remote session behind")
}

func TestStatusOfSessionWithRetiredProvider(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:        "acme-a",
		DisplayName: "Acme",
		TenantID:    snowflake.ID(10),
		Provider:    "legacy",
	})

	_, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	assert.ErrorIs(t, err, providerdomain.ErrUnknownProvider,
		"a retired provider is not a missing gateway configuration")
}

func TestSyncPreservesExternalToken(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:          "acme-a",
		DisplayName:   "Acme",
		TenantID:      snowflake.ID(10),
		Status:        providerdomain.StatusAwaitingPairing,
		ExternalToken: "bearer-abc",
	})
	h.adapter.states["acme-a"] = &providerdomain.RemoteState{
		Status:   providerdomain.StatusConnected,
		Identity: &providerdomain.Identity{ID: "628123@c.us", PushName: "Acme"},
	}

	view, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Equal(t, providerdomain.StatusConnected, view.Status)
	require.NotNil(t, view.Me)

	stored, err := h.repo.FindByName(context.Background(), h.db, "acme-a")
	require.NoError(t, err)
	assert.Equal(t, "bearer-abc", stored.ExternalToken,
		"observation without a token must not erase the stored one")
	assert.Equal(t, "bearer-abc", h.factory.last().InstanceToken,
		"stored token is handed back to the gateway on every call")
}

func TestSyncClearsConsumedPairingOnConnect(t *testing.T) {
	h := newHarness(t)
	expires := h.clk.Now().Add(time.Minute)
	h.seed(t, domain.Session{
		Name:             "acme-a",
		DisplayName:      "Acme",
		TenantID:         snowflake.ID(10),
		Status:           providerdomain.StatusAwaitingPairing,
		PairingData:      "data:image/png;base64,OLD",
		PairingExpiresAt: &expires,
	})
	h.adapter.states["acme-a"] = &providerdomain.RemoteState{Status: providerdomain.StatusConnected}

	view, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Nil(t, view.Pairing)
}

func TestSyncReissuesExpiredPairingOnly(t *testing.T) {
	h := newHarness(t)
	expires := h.clk.Now().Add(-time.Minute)
	h.seed(t, domain.Session{
		Name:             "acme-a",
		DisplayName:      "Acme",
		TenantID:         snowflake.ID(10),
		Status:           providerdomain.StatusAwaitingPairing,
		PairingData:      "data:image/png;base64,EXPIRED",
		PairingExpiresAt: &expires,
	})
	h.adapter.states["acme-a"] = &providerdomain.RemoteState{Status: providerdomain.StatusAwaitingPairing}

	view, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	require.NotNil(t, view.Pairing)
	assert.Equal(t, "data:image/png;base64,FETCH-acme-a", view.Pairing.Data)
	assert.Equal(t, 1, h.adapter.count(h.adapter.pairingCalls, "acme-a"))

	// Artifact is now fresh; the next reconcile must not refetch it.
	view, err = h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	require.NotNil(t, view.Pairing)
	assert.Equal(t, 1, h.adapter.count(h.adapter.pairingCalls, "acme-a"))
}

func TestStartIsIdempotentWhileArtifactFresh(t *testing.T) {
	h := newHarness(t)
	expires := h.clk.Now().Add(2 * time.Minute)
	h.seed(t, domain.Session{
		Name:             "acme-a",
		DisplayName:      "Acme",
		TenantID:         snowflake.ID(10),
		Status:           providerdomain.StatusAwaitingPairing,
		PairingData:      "data:image/png;base64,FRESH",
		PairingExpiresAt: &expires,
	})

	view, err := h.svc.Start(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,FRESH", view.Pairing.Data)
	assert.Equal(t, 0, h.adapter.count(h.adapter.startCalls, "acme-a"))

	h.clk.Advance(3 * time.Minute)

	view, err = h.svc.Start(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Equal(t, 1, h.adapter.count(h.adapter.startCalls, "acme-a"))
	assert.Equal(t, "data:image/png;base64,START-acme-a", view.Pairing.Data)
}

func TestConcurrentSyncsCoalesce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:        "acme-a",
		DisplayName: "Acme",
		TenantID:    snowflake.ID(10),
	})
	h.adapter.statusDelay = 50 * time.Millisecond
	h.adapter.states["acme-a"] = &providerdomain.RemoteState{Status: providerdomain.StatusStopped}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.adapter.count(h.adapter.statusCalls, "acme-a"),
		"concurrent callers share one gateway probe")
}

func TestSyncBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{Name: "good-a", DisplayName: "Good", TenantID: snowflake.ID(10)})
	h.seed(t, domain.Session{Name: "bad-a", DisplayName: "Bad", TenantID: snowflake.ID(10)})

	h.adapter.states["good-a"] = &providerdomain.RemoteState{Status: providerdomain.StatusConnected}
	h.adapter.statusErrs["bad-a"] = fmt.Errorf("%w: connection refused", providerdomain.ErrRemoteUnavailable)

	views, err := h.svc.Sync(tenantCtx(10))
	require.NoError(t, err)
	require.Len(t, views, 2)

	byName := map[string]domain.SessionView{}
	for _, v := range views {
		byName[v.Name] = v
	}
	assert.Equal(t, providerdomain.StatusConnected, byName["good-a"].Status)
	assert.Equal(t, providerdomain.StatusStopped, byName["bad-a"].Status,
		"unreachable gateway leaves last known state")
}

func TestSyncMarksDriftedSessionFailed(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:        "acme-a",
		DisplayName: "Acme",
		TenantID:    snowflake.ID(10),
		Status:      providerdomain.StatusConnected,
		MeID:        "628123@c.us",
	})
	h.adapter.statusErrs["acme-a"] = providerdomain.ErrRemoteNotFound

	view, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Equal(t, providerdomain.StatusFailed, view.Status)
	assert.Nil(t, view.Me)
}

func TestDeleteAlwaysRemovesLocalRecord(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{Name: "acme-a", DisplayName: "Acme", TenantID: snowflake.ID(10)})
	h.adapter.deleteErr = errors.New("gateway exploded")

	require.NoError(t, h.svc.Delete(tenantCtx(10), "acme-a"))

	stored, err := h.repo.FindByName(context.Background(), h.db, "acme-a")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// Deleting again reports the record as gone.
	assert.ErrorIs(t, h.svc.Delete(tenantCtx(10), "acme-a"), domain.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{Name: "mine-a", DisplayName: "Mine", TenantID: snowflake.ID(10)})
	h.seed(t, domain.Session{Name: "theirs-k", DisplayName: "Theirs", TenantID: snowflake.ID(20)})

	_, err := h.svc.GetStatus(tenantCtx(10), "theirs-k")
	assert.ErrorIs(t, err, domain.ErrNotFound,
		"foreign sessions are indistinguishable from missing ones")

	views, err := h.svc.List(tenantCtx(10))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "mine-a", views[0].Name)

	all, err := h.svc.List(adminCtx())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAssignRequiresPrivilegedScope(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{Name: "acme-a", DisplayName: "Acme", TenantID: snowflake.ID(10)})

	_, err := h.svc.Assign(tenantCtx(10), "acme-a", snowflake.ID(20))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	view, err := h.svc.Assign(adminCtx(), "acme-a", snowflake.ID(20))
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(20), view.TenantID)
}

func TestConnectedRegistersWebhookExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:                      "acme-a",
		DisplayName:               "Acme",
		TenantID:                  snowflake.ID(10),
		Status:                    providerdomain.StatusAwaitingPairing,
		InteractiveWebhookEnabled: true,
		WebhookSecret:             "shhh",
	})
	h.adapter.states["acme-a"] = &providerdomain.RemoteState{Status: providerdomain.StatusConnected}

	_, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Equal(t, 1, h.adapter.count(h.adapter.webhookCalls, "acme-a"))

	_, err = h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)
	assert.Equal(t, 1, h.adapter.count(h.adapter.webhookCalls, "acme-a"),
		"registration is one-shot once recorded")
}

func TestVerifyWebhook(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:                      "acme-a",
		DisplayName:               "Acme",
		TenantID:                  snowflake.ID(10),
		InteractiveWebhookEnabled: true,
		WebhookSecret:             "shhh",
	})

	body := []byte(`{"event":"message"}`)
	sig := webhook.Sign("shhh", body)

	assert.NoError(t, h.svc.VerifyWebhook(context.Background(), "acme-a", sig, body))
	assert.ErrorIs(t, h.svc.VerifyWebhook(context.Background(), "acme-a", sig, []byte("tampered")),
		domain.ErrInvalidSignature)
	assert.ErrorIs(t, h.svc.VerifyWebhook(context.Background(), "ghost", sig, body),
		domain.ErrNotFound)
}

func TestExternalTokenReplacedWhenGatewayIssuesNewOne(t *testing.T) {
	h := newHarness(t)
	h.seed(t, domain.Session{
		Name:          "acme-a",
		DisplayName:   "Acme",
		TenantID:      snowflake.ID(10),
		ExternalToken: "old-token",
	})
	h.adapter.states["acme-a"] = &providerdomain.RemoteState{
		Status:        providerdomain.StatusAwaitingPairing,
		ExternalToken: "new-token",
	}

	_, err := h.svc.GetStatus(tenantCtx(10), "acme-a")
	require.NoError(t, err)

	stored, err := h.repo.FindByName(context.Background(), h.db, "acme-a")
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.ExternalToken)
}
