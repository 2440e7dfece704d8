package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/waplink/internal/clock"
	"github.com/smallbiznis/waplink/internal/config"
	"github.com/smallbiznis/waplink/internal/locks"
	"github.com/smallbiznis/waplink/internal/metrics"
	"github.com/smallbiznis/waplink/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"github.com/smallbiznis/waplink/internal/retry"
	"github.com/smallbiznis/waplink/internal/session/domain"
	"github.com/smallbiznis/waplink/internal/settings"
	"github.com/smallbiznis/waplink/internal/tenantctx"
	"github.com/smallbiznis/waplink/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	Repo     domain.Repository
	Registry *adapters.Registry
	Settings settings.Service
	Quota    domain.QuotaGate
	Locker   locks.Locker
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	repo     domain.Repository
	registry *adapters.Registry
	settings settings.Service
	quota    domain.QuotaGate
	locker   locks.Locker
	metrics  *metrics.Metrics

	retry retry.Policy
	group singleflight.Group
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("session.service"),
		cfg:      p.Cfg,
		clock:    p.Clock,
		repo:     p.Repo,
		registry: p.Registry,
		settings: p.Settings,
		quota:    p.Quota,
		locker:   p.Locker,
		metrics:  p.Metrics,
		retry:    retry.DefaultPolicy(),
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.SessionView, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, domain.ErrForbidden
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display_name is required", domain.ErrInvalidRequest)
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !s.registry.ProviderExists(provider) {
		return nil, fmt.Errorf("%w: %q", providerdomain.ErrUnknownProvider, req.Provider)
	}

	tenantID := scope.TenantID
	if req.TenantID != 0 && req.TenantID != scope.TenantID {
		if !scope.Privileged {
			return nil, domain.ErrForbidden
		}
		tenantID = req.TenantID
	}
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenant_id is required", domain.ErrInvalidRequest)
	}

	name := deriveName(displayName, tenantID)

	existing, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrConflict, name)
	}
	taken, err := s.repo.ExistsDisplayName(ctx, s.db, tenantID, displayName)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: display name %q already in use", domain.ErrConflict, displayName)
	}

	if err := s.quota.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	var configJSON datatypes.JSON
	if len(req.Config) > 0 {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: config: %v", domain.ErrInvalidRequest, err)
		}
		configJSON = datatypes.JSON(raw)
	}

	adapter, err := s.adapterConfigured(ctx, provider, configJSON, "")
	if err != nil {
		return nil, err
	}

	var opts providerdomain.CreateOptions
	webhookSecret := ""
	if req.InteractiveWebhook {
		webhookSecret = uuid.NewString()
		opts = providerdomain.CreateOptions{
			WebhookURL:    s.webhookURL(name),
			WebhookSecret: webhookSecret,
		}
	}

	handle, err := adapter.CreateRemote(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		Name:        name,
		DisplayName: displayName,
		Provider:    provider,
		Status:      handle.Status,
		TenantID:    tenantID,

		ExternalToken: handle.ExternalToken,

		InteractiveWebhookEnabled: req.InteractiveWebhook,
		WebhookSecret:             webhookSecret,

		Config:    configJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if handle.Pairing != nil && handle.Pairing.Data != "" {
		expires := now.Add(s.cfg.PairingTTL)
		session.PairingData = handle.Pairing.Data
		session.PairingExpiresAt = &expires
		session.Status = providerdomain.StatusAwaitingPairing
	}

	if err := s.repo.Create(ctx, s.db, session); err != nil {
		// The insert failed after the remote was made; tear it down so a
		// lost race or a plain storage error leaves nothing orphaned.
		if delErr := adapter.DeleteRemote(ctx, name); delErr != nil {
			s.log.Warn("orphaned remote session after failed insert",
				zap.String("session", name), zap.Error(delErr))
		}
		if raced, findErr := s.repo.FindByName(ctx, s.db, name); findErr == nil && raced != nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrConflict, name)
		}
		return nil, err
	}

	s.log.Info("session created",
		zap.String("session", name),
		zap.String("provider", provider),
		zap.Int64("tenant_id", tenantID.Int64()))

	return s.view(session), nil
}

func (s *service) List(ctx context.Context) ([]domain.SessionView, error) {
	sessions, err := s.visibleSessions(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(sessions), nil
}

func (s *service) GetStatus(ctx context.Context, name string) (*domain.SessionView, error) {
	session, err := s.loadVisible(ctx, name)
	if err != nil {
		return nil, err
	}
	refreshed, err := s.syncOne(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.view(refreshed), nil
}

func (s *service) Start(ctx context.Context, name string) (*domain.SessionView, error) {
	session, err := s.loadVisible(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if pairing := session.CurrentPairing(now); pairing != nil {
		// An unexpired artifact is still valid; re-issuing would only
		// invalidate the code already on someone's screen.
		return s.view(session), nil
	}

	adapter, err := s.adapterFor(ctx, session)
	if err != nil {
		return nil, err
	}

	artifact, err := adapter.StartRemote(ctx, name)
	if err != nil {
		return nil, err
	}

	status := providerdomain.StatusAwaitingPairing
	patch := domain.Patch{Status: &status}
	if artifact != nil && artifact.Data != "" {
		expires := s.clock.Now().Add(s.cfg.PairingTTL)
		patch.PairingData = &artifact.Data
		patch.PairingExpiresAt = &expires
	}
	return s.applyPatch(ctx, name, patch)
}

func (s *service) Stop(ctx context.Context, name string) (*domain.SessionView, error) {
	session, err := s.loadVisible(ctx, name)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := adapter.StopRemote(ctx, name); err != nil {
		return nil, err
	}

	status := providerdomain.StatusStopped
	return s.applyPatch(ctx, name, domain.Patch{
		Status:        &status,
		ClearIdentity: true,
		ClearPairing:  true,
	})
}

func (s *service) Restart(ctx context.Context, name string) (*domain.SessionView, error) {
	session, err := s.loadVisible(ctx, name)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := adapter.RestartRemote(ctx, name); err != nil {
		return nil, err
	}

	status := providerdomain.StatusAwaitingPairing
	return s.applyPatch(ctx, name, domain.Patch{
		Status:        &status,
		ClearIdentity: true,
		ClearPairing:  true,
	})
}

func (s *service) Delete(ctx context.Context, name string) error {
	session, err := s.loadVisible(ctx, name)
	if err != nil {
		return err
	}

	adapter, err := s.adapterFor(ctx, session)
	if err == nil {
		teardownErr := s.retry.Do(ctx, func() error {
			return adapter.DeleteRemote(ctx, name)
		})
		if teardownErr != nil {
			s.log.Warn("remote teardown failed, removing local record anyway",
				zap.String("session", name), zap.Error(teardownErr))
		}
	} else {
		s.log.Warn("remote teardown skipped",
			zap.String("session", name), zap.Error(err))
	}

	if err := s.repo.Delete(ctx, s.db, name); err != nil {
		return err
	}
	s.log.Info("session deleted", zap.String("session", name))
	return nil
}

func (s *service) Assign(ctx context.Context, name string, tenantID snowflake.ID) (*domain.SessionView, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok || !scope.Privileged {
		return nil, domain.ErrForbidden
	}
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenant_id is required", domain.ErrInvalidRequest)
	}

	session, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	if session.TenantID == tenantID {
		return s.view(session), nil
	}

	if err := s.quota.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	return s.applyPatch(ctx, name, domain.Patch{TenantID: &tenantID})
}

func (s *service) VerifyWebhook(ctx context.Context, name, signature string, body []byte) error {
	session, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.ErrNotFound
	}
	if !session.InteractiveWebhookEnabled || session.WebhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	if !webhook.Verify(session.WebhookSecret, signature, body) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// loadVisible fetches a session and enforces tenant scoping. A session
// owned by another tenant is indistinguishable from a missing one.
func (s *service) loadVisible(ctx context.Context, name string) (*domain.Session, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, domain.ErrForbidden
	}
	session, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if session == nil || !scope.CanAccess(session.TenantID) {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

func (s *service) visibleSessions(ctx context.Context) ([]domain.Session, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, domain.ErrForbidden
	}
	if scope.Privileged {
		return s.repo.ListAll(ctx, s.db)
	}
	return s.repo.ListByTenant(ctx, s.db, scope.TenantID)
}

// adapterFor builds an adapter for an existing session, carrying its
// gateway-issued token and any per-session credential overrides.
func (s *service) adapterFor(ctx context.Context, session *domain.Session) (providerdomain.Adapter, error) {
	return s.adapterConfigured(ctx, session.Provider, session.Config, session.ExternalToken)
}

func (s *service) adapterConfigured(ctx context.Context, provider string, raw datatypes.JSON, externalToken string) (providerdomain.Adapter, error) {
	// A persisted session can reference a provider that was since removed
	// from the build; that is not a configuration problem.
	if !s.registry.ProviderExists(provider) {
		return nil, fmt.Errorf("%w: %q", providerdomain.ErrUnknownProvider, provider)
	}

	gateway, err := s.settings.Resolve(ctx, provider)
	if err != nil {
		return nil, err
	}

	cfg := providerdomain.AdapterConfig{
		BaseURL:       gateway.BaseURL,
		APIKey:        gateway.APIKey,
		InstanceToken: externalToken,
	}
	if len(raw) > 0 {
		var overrides map[string]any
		if err := json.Unmarshal(raw, &overrides); err == nil {
			if v, ok := overrides["base_url"].(string); ok && v != "" {
				cfg.BaseURL = v
			}
			if v, ok := overrides["api_key"].(string); ok && v != "" {
				cfg.APIKey = v
			}
		}
	}
	return s.registry.NewAdapter(provider, cfg)
}

func (s *service) applyPatch(ctx context.Context, name string, patch domain.Patch) (*domain.SessionView, error) {
	ok, err := s.repo.Merge(ctx, s.db, name, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	session, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return s.view(session), nil
}

func (s *service) webhookURL(name string) string {
	return s.cfg.WebhookBaseURL + "/api/channels/" + name + "/webhook"
}

func (s *service) view(session *domain.Session) *domain.SessionView {
	now := s.clock.Now()
	return &domain.SessionView{
		Name:        session.Name,
		DisplayName: session.DisplayName,
		Provider:    session.Provider,
		Status:      session.Status,
		TenantID:    session.TenantID,
		Me:          session.Identity(),
		Pairing:     session.CurrentPairing(now),

		InteractiveWebhookEnabled: session.InteractiveWebhookEnabled,
	}
}

func (s *service) views(sessions []domain.Session) []domain.SessionView {
	out := make([]domain.SessionView, 0, len(sessions))
	for i := range sessions {
		out = append(out, *s.view(&sessions[i]))
	}
	return out
}

// deriveName builds the globally unique session name from the display
// name and the owning tenant. The base-36 tenant suffix keeps equal
// display names in different tenants from colliding.
func deriveName(displayName string, tenantID snowflake.ID) string {
	return slug.Make(displayName) + "-" + strconv.FormatInt(tenantID.Int64(), 36)
}
