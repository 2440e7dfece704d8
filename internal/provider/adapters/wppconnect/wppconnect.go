package wppconnect

import (
	"bytes"
	"context"
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
	return "wppconnect"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrConfigurationMissing
	}
	return &Adapter{
		baseURL:   baseURL,
		secretKey: strings.TrimSpace(cfg.APIKey),
		token:     strings.TrimSpace(cfg.InstanceToken),
		client:    &http.Client{Timeout: 12 * time.Second},
	}, nil
}

// Adapter speaks the WPPConnect server API. The gateway issues a
// per-session bearer token at create time; the engine persists it as
// the session's external token and hands it back on every later call.
type Adapter struct {
	baseURL   string
	secretKey string
	token     string
	client    *http.Client
}

type statusResponse struct {
	Status string `json:"status"`
}

type startResponse struct {
	Status string `json:"status"`
	QRCode string `json:"qrcode"`
}

type tokenResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

type hostDeviceResponse struct {
	Response struct {
		ID struct {
			User string `json:"user"`
		} `json:"id"`
		PushName string `json:"pushname"`
	} `json:"response"`
}

func (a *Adapter) CreateRemote(ctx context.Context, name string, opts domain.CreateOptions) (*domain.RemoteHandle, error) {
	if a.secretKey == "" {
		return nil, domain.ErrConfigurationMissing
	}

	var tok tokenResponse
	path := "/api/" + name + "/" + a.secretKey + "/generate-token"
	if err := a.do(ctx, http.MethodPost, path, "", nil, &tok); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tok.Token) == "" {
		return nil, fmt.Errorf("%w: empty session token", domain.ErrRemoteUnavailable)
	}
	a.token = tok.Token

	artifact, err := a.startSession(ctx, name, opts.WebhookURL)
	if err != nil {
		return nil, err
	}

	return &domain.RemoteHandle{
		Status:        domain.StatusAwaitingPairing,
		ExternalToken: tok.Token,
		Pairing:       artifact,
	}, nil
}

func (a *Adapter) StartRemote(ctx context.Context, name string) (*domain.PairingArtifact, error) {
	return a.startSession(ctx, name, "")
}

func (a *Adapter) StopRemote(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodPost, "/api/"+name+"/close-session", a.token, nil, nil)
}

func (a *Adapter) RestartRemote(ctx context.Context, name string) error {
	if err := a.StopRemote(ctx, name); err != nil && !errors.Is(err, domain.ErrRemoteNotFound) {
		return err
	}
	_, err := a.startSession(ctx, name, "")
	return err
}

func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	err := a.do(ctx, http.MethodPost, "/api/"+name+"/logout-session", a.token, nil, nil)
	if errors.Is(err, domain.ErrRemoteNotFound) {
		return nil
	}
	return err
}

func (a *Adapter) FetchStatus(ctx context.Context, name string) (*domain.RemoteState, error) {
	var resp statusResponse
	if err := a.do(ctx, http.MethodGet, "/api/"+name+"/status-session", a.token, nil, &resp); err != nil {
		return nil, err
	}

	state := &domain.RemoteState{Status: mapStatus(resp.Status)}
	if state.Status == domain.StatusConnected {
		if identity, err := a.fetchHostDevice(ctx, name); err == nil {
			state.Identity = identity
		}
	}
	return state, nil
}

func (a *Adapter) FetchPairing(ctx context.Context, name string) (*domain.PairingArtifact, error) {
	return a.startSession(ctx, name, "")
}

func (a *Adapter) RegisterWebhook(ctx context.Context, name, url, secret string) error {
	// The gateway re-binds the webhook on start-session; repeating the
	// call with the same URL is a no-op on its side.
	body := map[string]any{"webhook": url, "waitQrCode": false}
	return a.do(ctx, http.MethodPost, "/api/"+name+"/start-session", a.token, body, nil)
}

func (a *Adapter) startSession(ctx context.Context, name, webhookURL string) (*domain.PairingArtifact, error) {
	body := map[string]any{"waitQrCode": true}
	if webhookURL != "" {
		body["webhook"] = webhookURL
	}

	var resp startResponse
	if err := a.do(ctx, http.MethodPost, "/api/"+name+"/start-session", a.token, body, &resp); err != nil {
		return nil, err
	}

	data := strings.TrimSpace(resp.QRCode)
	if data == "" {
		return nil, nil
	}
	if !strings.HasPrefix(data, "data:") {
		data = "data:image/png;base64," + data
	}
	return &domain.PairingArtifact{Data: data}, nil
}

func (a *Adapter) fetchHostDevice(ctx context.Context, name string) (*domain.Identity, error) {
	var resp hostDeviceResponse
	if err := a.do(ctx, http.MethodGet, "/api/"+name+"/host-device", a.token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Response.ID.User == "" {
		return nil, domain.ErrRemoteNotFound
	}
	return &domain.Identity{
		ID:       resp.Response.ID.User,
		PushName: resp.Response.PushName,
	}, nil
}

func (a *Adapter) do(ctx context.Context, method, path, bearer string, body any, out any) error {
	// Everything except generate-token needs the session bearer token.
	if bearer == "" && !strings.Contains(path, "/generate-token") {
		return domain.ErrConfigurationMissing
	}

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
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
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
		return fmt.Errorf("wppconnect: unexpected status %d", code)
	}
}

// mapStatus translates WPPConnect's session states. Unknown values
// fail loud, never quiet.
func mapStatus(raw string) domain.Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CLOSED", "DISCONNECTED":
		return domain.StatusStopped
	case "INITIALIZING", "QRCODE":
		return domain.StatusAwaitingPairing
	case "CONNECTED":
		return domain.StatusConnected
	default:
		return domain.StatusFailed
	}
}
