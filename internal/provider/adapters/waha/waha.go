package waha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/waplink/internal/provider/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "waha"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	if baseURL == "" || apiKey == "" {
		return nil, domain.ErrConfigurationMissing
	}
	return &Adapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 12 * time.Second},
	}, nil
}

// Adapter speaks the WAHA session API. Authentication is a
// system-wide X-Api-Key header; sessions carry no credentials of
// their own.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type sessionResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Me     *struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	} `json:"me"`
}

type webhookConfig struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	HMAC   *struct {
		Key string `json:"key"`
	} `json:"hmac,omitempty"`
}

type sessionConfig struct {
	Webhooks []webhookConfig `json:"webhooks,omitempty"`
}

type createRequest struct {
	Name   string         `json:"name"`
	Start  bool           `json:"start"`
	Config *sessionConfig `json:"config,omitempty"`
}

func (a *Adapter) CreateRemote(ctx context.Context, name string, opts domain.CreateOptions) (*domain.RemoteHandle, error) {
	req := createRequest{Name: name, Start: true}
	if opts.WebhookURL != "" {
		req.Config = webhookSessionConfig(opts.WebhookURL, opts.WebhookSecret)
	}

	var resp sessionResponse
	if err := a.do(ctx, http.MethodPost, "/api/sessions", req, &resp); err != nil {
		return nil, err
	}

	handle := &domain.RemoteHandle{Status: mapStatus(resp.Status)}
	if handle.Status == domain.StatusAwaitingPairing {
		if artifact, err := a.FetchPairing(ctx, name); err == nil {
			handle.Pairing = artifact
		}
	}
	return handle, nil
}

func (a *Adapter) StartRemote(ctx context.Context, name string) (*domain.PairingArtifact, error) {
	if err := a.do(ctx, http.MethodPost, "/api/sessions/"+name+"/start", nil, nil); err != nil {
		return nil, err
	}
	artifact, err := a.FetchPairing(ctx, name)
	if err != nil {
		// The engine re-fetches on the next poll once the gateway has
		// generated a code.
		return nil, nil
	}
	return artifact, nil
}

func (a *Adapter) StopRemote(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodPost, "/api/sessions/"+name+"/stop", nil, nil)
}

func (a *Adapter) RestartRemote(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodPost, "/api/sessions/"+name+"/restart", nil, nil)
}

func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	err := a.do(ctx, http.MethodDelete, "/api/sessions/"+name, nil, nil)
	if errors.Is(err, domain.ErrRemoteNotFound) {
		return nil
	}
	return err
}

func (a *Adapter) FetchStatus(ctx context.Context, name string) (*domain.RemoteState, error) {
	var resp sessionResponse
	if err := a.do(ctx, http.MethodGet, "/api/sessions/"+name, nil, &resp); err != nil {
		return nil, err
	}

	state := &domain.RemoteState{Status: mapStatus(resp.Status)}
	if state.Status == domain.StatusConnected && resp.Me != nil {
		state.Identity = &domain.Identity{
			ID:       resp.Me.ID,
			PushName: resp.Me.PushName,
		}
	}
	return state, nil
}

// FetchPairing retrieves the QR code as raw PNG bytes and converts it
// to a data-URI; callers never see the wire format.
func (a *Adapter) FetchPairing(ctx context.Context, name string) (*domain.PairingArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/"+name+"/auth/qr", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", a.apiKey)
	req.Header.Set("Accept", "image/png")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classifyStatus(resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	return &domain.PairingArtifact{
		Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func (a *Adapter) RegisterWebhook(ctx context.Context, name, url, secret string) error {
	body := map[string]any{
		"config": webhookSessionConfig(url, secret),
	}
	return a.do(ctx, http.MethodPut, "/api/sessions/"+name, body, nil)
}

func webhookSessionConfig(url, secret string) *sessionConfig {
	hook := webhookConfig{URL: url, Events: []string{"message", "session.status"}}
	if secret != "" {
		hook.HMAC = &struct {
			Key string `json:"key"`
		}{Key: secret}
	}
	return &sessionConfig{Webhooks: []webhookConfig{hook}}
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrConfigurationMissing
	case code == http.StatusNotFound:
		return domain.ErrRemoteNotFound
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, code)
	default:
		return fmt.Errorf("waha: unexpected status %d", code)
	}
}

// mapStatus translates WAHA's native vocabulary. Unknown values fail
// loud, never quiet.
func mapStatus(raw string) domain.Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "STOPPED":
		return domain.StatusStopped
	case "STARTING", "SCAN_QR_CODE":
		return domain.StatusAwaitingPairing
	case "WORKING":
		return domain.StatusConnected
	case "FAILED":
		return domain.StatusFailed
	default:
		return domain.StatusFailed
	}
}
