package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
)

// Service is the connection engine: creation, lifecycle calls and
// reconciliation against remote gateways. Every operation resolves the
// caller's tenant scope from the context; a privileged scope operates
// without tenant filtering.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*SessionView, error)

	// List is the cheap read: registry only, no remote calls.
	List(ctx context.Context) ([]SessionView, error)

	// Sync is the authoritative read: reconciles every visible session
	// against its gateway. Per-session failures are absorbed; callers
	// see the best last-known state.
	Sync(ctx context.Context) ([]SessionView, error)

	// GetStatus reconciles a single session; used while a pairing code
	// is on screen. An expired pairing artifact is re-issued on demand.
	GetStatus(ctx context.Context, name string) (*SessionView, error)

	Start(ctx context.Context, name string) (*SessionView, error)
	Stop(ctx context.Context, name string) (*SessionView, error)
	Restart(ctx context.Context, name string) (*SessionView, error)

	// Delete attempts external teardown (remote 404 counts as success)
	// and always removes the local record.
	Delete(ctx context.Context, name string) error

	// Assign moves a session to another tenant. Privileged scope only;
	// never a side effect of sync.
	Assign(ctx context.Context, name string, tenantID snowflake.ID) (*SessionView, error)

	// VerifyWebhook authenticates an inbound gateway callback for the
	// named session against its shared secret.
	VerifyWebhook(ctx context.Context, name, signature string, body []byte) error
}

// QuotaGate decides whether a tenant may open another connection. It
// is an external collaborator; this engine only consumes the verdict.
type QuotaGate interface {
	Check(ctx context.Context, tenantID snowflake.ID) error
}

type CreateRequest struct {
	DisplayName        string         `json:"display_name"`
	Provider           string         `json:"provider"`
	InteractiveWebhook bool           `json:"interactive_webhook"`
	Config             map[string]any `json:"config,omitempty"`

	// TenantID is honored for privileged callers only; everyone else
	// creates within their own scope.
	TenantID snowflake.ID `json:"tenant_id,omitempty"`
}

// SessionView is the consumer-facing projection of a session.
type SessionView struct {
	Name        string                   `json:"name"`
	DisplayName string                   `json:"display_name"`
	Provider    string                   `json:"provider"`
	Status      providerdomain.Status    `json:"status"`
	TenantID    snowflake.ID             `json:"tenant_id"`
	Me          *providerdomain.Identity `json:"me,omitempty"`
	Pairing     *PairingArtifact         `json:"pairing,omitempty"`

	InteractiveWebhookEnabled bool `json:"interactive_webhook_enabled"`
}

var (
	ErrNotFound         = errors.New("session_not_found")
	ErrConflict         = errors.New("session_exists")
	ErrQuotaExceeded    = errors.New("quota_exceeded")
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidSignature = errors.New("invalid_signature")
)
