package settings

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/waplink/internal/config"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProviderSetting is a gateway credential row. Rows override the env
// defaults; absence of both surfaces as ErrConfigurationMissing.
type ProviderSetting struct {
	Provider  string    `json:"provider" gorm:"primaryKey;type:text"`
	BaseURL   string    `json:"base_url" gorm:"type:text;not null"`
	APIKey    string    `json:"api_key" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ProviderSetting) TableName() string { return "provider_settings" }

// Gateway is the resolved credential set for one provider.
type Gateway struct {
	BaseURL string
	APIKey  string
}

// Service resolves gateway credentials. Reads come from an in-memory
// snapshot; Update writes through and invalidates the snapshot
// explicitly rather than relying on a TTL.
type Service interface {
	Resolve(ctx context.Context, provider string) (Gateway, error)
	Update(ctx context.Context, provider, baseURL, apiKey string) error
	Invalidate()
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config
}

type service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	mu       sync.RWMutex
	snapshot map[string]Gateway
}

func New(p Params) Service {
	return &service{
		db:  p.DB,
		log: p.Log.Named("settings.service"),
		cfg: p.Cfg,
	}
}

func (s *service) Resolve(ctx context.Context, provider string) (Gateway, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return Gateway{}, providerdomain.ErrUnknownProvider
	}

	s.mu.RLock()
	snapshot := s.snapshot
	s.mu.RUnlock()

	if snapshot == nil {
		loaded, err := s.load(ctx)
		if err != nil {
			return Gateway{}, err
		}
		s.mu.Lock()
		s.snapshot = loaded
		snapshot = loaded
		s.mu.Unlock()
	}

	if gw, ok := snapshot[provider]; ok && gw.BaseURL != "" {
		return gw, nil
	}

	fallback := s.cfg.Gateway(provider)
	if fallback.BaseURL == "" {
		return Gateway{}, providerdomain.ErrConfigurationMissing
	}
	return Gateway{BaseURL: fallback.BaseURL, APIKey: fallback.APIKey}, nil
}

func (s *service) Update(ctx context.Context, provider, baseURL, apiKey string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	baseURL = strings.TrimSpace(baseURL)
	if provider == "" || baseURL == "" {
		return providerdomain.ErrInvalidConfig
	}

	row := ProviderSetting{
		Provider:  provider,
		BaseURL:   baseURL,
		APIKey:    strings.TrimSpace(apiKey),
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO provider_settings (provider, base_url, api_key, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider)
		 DO UPDATE SET base_url = EXCLUDED.base_url,
			api_key = EXCLUDED.api_key,
			updated_at = EXCLUDED.updated_at`,
		row.Provider,
		row.BaseURL,
		row.APIKey,
		row.UpdatedAt,
	).Error
	if err != nil {
		return err
	}

	s.Invalidate()
	s.log.Info("gateway credentials updated", zap.String("provider", provider))
	return nil
}

// Invalidate drops the snapshot; the next Resolve reloads from the
// database.
func (s *service) Invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
}

func (s *service) load(ctx context.Context) (map[string]Gateway, error) {
	var rows []ProviderSetting
	err := s.db.WithContext(ctx).Raw(
		`SELECT provider, base_url, api_key, updated_at FROM provider_settings`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]Gateway, len(rows))
	for _, row := range rows {
		snapshot[row.Provider] = Gateway{BaseURL: row.BaseURL, APIKey: row.APIKey}
	}
	return snapshot, nil
}

var Module = fx.Module("settings", fx.Provide(New))
