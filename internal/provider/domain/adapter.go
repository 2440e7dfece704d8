package domain

import "context"

// Identity is the linked WhatsApp account ("me") as reported by a
// gateway. Only trustworthy while the session is connected.
type Identity struct {
	ID       string `json:"id"`
	PushName string `json:"push_name"`
}

// PairingArtifact is the time-boxed credential a user scans to link an
// account. Adapters that receive it as raw binary convert it to a
// self-describing data-URI before it crosses this boundary.
type PairingArtifact struct {
	Data string
}

// RemoteState is a gateway's view of one session, already mapped into
// the internal vocabulary. ExternalToken is non-empty only when the
// gateway issued a fresh credential during the call.
type RemoteState struct {
	Status        Status
	Identity      *Identity
	ExternalToken string
}

// RemoteHandle is the result of creating a session on a gateway.
type RemoteHandle struct {
	Status        Status
	ExternalToken string
	Pairing       *PairingArtifact
}

// CreateOptions carries the callback endpoint handed to the gateway
// when interactive webhooks are enabled.
type CreateOptions struct {
	WebhookURL    string
	WebhookSecret string
}

// AdapterConfig resolves per call: system-wide credentials from the
// settings service plus any per-session override (imported instances,
// gateway-issued session tokens).
type AdapterConfig struct {
	BaseURL string
	APIKey  string

	// InstanceToken overrides APIKey for gateways that authenticate
	// individual sessions (imported instances, per-session bearer
	// tokens). Adapters prefer it when present.
	InstanceToken string
}

// Adapter translates the engine's abstract operations into one
// gateway's REST calls.
type Adapter interface {
	CreateRemote(ctx context.Context, name string, opts CreateOptions) (*RemoteHandle, error)
	StartRemote(ctx context.Context, name string) (*PairingArtifact, error)
	StopRemote(ctx context.Context, name string) error
	RestartRemote(ctx context.Context, name string) error
	DeleteRemote(ctx context.Context, name string) error
	FetchStatus(ctx context.Context, name string) (*RemoteState, error)
	FetchPairing(ctx context.Context, name string) (*PairingArtifact, error)
	RegisterWebhook(ctx context.Context, name, url, secret string) error
}

// AdapterFactory builds adapters for one provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
