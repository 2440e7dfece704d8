package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"gorm.io/datatypes"
)

// Session is the authoritative persisted record of one WhatsApp
// connection, independent of which gateway backs it. Name is the
// globally unique external identifier; DisplayName is the human label.
type Session struct {
	Name        string                `json:"name" gorm:"primaryKey;type:text"`
	DisplayName string                `json:"display_name" gorm:"type:text;not null;index:idx_sessions_tenant_display,priority:2"`
	Provider    string                `json:"provider" gorm:"type:text;not null"`
	Status      providerdomain.Status `json:"status" gorm:"type:text;not null"`
	TenantID    snowflake.ID          `json:"tenant_id" gorm:"not null;index:idx_sessions_tenant_display,priority:1"`

	// Linked account ("me"); trustworthy only while Status is CONNECTED.
	MeID       string `json:"me_id,omitempty" gorm:"type:text"`
	MePushName string `json:"me_push_name,omitempty" gorm:"type:text"`

	// Pairing artifact with its expiry fixed at issuance. Expiry is a
	// read-time computation, see CurrentPairing.
	PairingData      string     `json:"-" gorm:"type:text"`
	PairingExpiresAt *time.Time `json:"-"`

	// ExternalToken is a gateway-issued credential. Once set it is only
	// ever replaced by an explicit new value; reconciliation writes that
	// omit it must not null it out.
	ExternalToken string `json:"-" gorm:"type:text"`

	InteractiveWebhookEnabled bool       `json:"interactive_webhook_enabled" gorm:"not null;default:false"`
	WebhookSecret             string     `json:"-" gorm:"type:text"`
	WebhookRegisteredAt       *time.Time `json:"-"`

	// Config is provider-specific side-channel data, e.g. credentials of
	// an imported externally-hosted instance.
	Config datatypes.JSON `json:"-" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// PairingArtifact is the consumer-visible pairing credential.
type PairingArtifact struct {
	Data      string    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CurrentPairing returns the pairing artifact, or nil once it has
// expired or was consumed. Staleness is decided at read time; no
// background cleanup is assumed.
func (s *Session) CurrentPairing(now time.Time) *PairingArtifact {
	if s.PairingData == "" || s.PairingExpiresAt == nil {
		return nil
	}
	if now.After(*s.PairingExpiresAt) {
		return nil
	}
	return &PairingArtifact{Data: s.PairingData, ExpiresAt: *s.PairingExpiresAt}
}

// Identity returns the linked account while connected, nil otherwise.
func (s *Session) Identity() *providerdomain.Identity {
	if s.Status != providerdomain.StatusConnected || s.MeID == "" {
		return nil
	}
	return &providerdomain.Identity{ID: s.MeID, PushName: s.MePushName}
}

// ConfigValue reads a string key from the provider-specific config
// side channel.
func (s *Session) ConfigValue(key string) string {
	if len(s.Config) == 0 {
		return ""
	}
	var values map[string]any
	if err := jsonUnmarshal(s.Config, &values); err != nil {
		return ""
	}
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
