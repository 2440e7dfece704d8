package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/waplink/internal/provider/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "evolution"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrConfigurationMissing
	}

	// Imported externally-hosted instances carry their own token in the
	// session config; it wins over the fleet-wide key.
	apiKey := strings.TrimSpace(cfg.InstanceToken)
	if apiKey == "" {
		apiKey = strings.TrimSpace(cfg.APIKey)
	}
	if apiKey == "" {
		return nil, domain.ErrConfigurationMissing
	}

	return &Adapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 12 * time.Second},
	}, nil
}

// Adapter speaks the Evolution instance API.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

type connectResponse struct {
	Base64 string `json:"base64"`
	Code   string `json:"code"`
}

type instanceDetail struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		Owner        string `json:"owner"`
		ProfileName  string `json:"profileName"`
		Status       string `json:"status"`
	} `json:"instance"`
}

func (a *Adapter) CreateRemote(ctx context.Context, name string, opts domain.CreateOptions) (*domain.RemoteHandle, error) {
	body := map[string]any{
		"instanceName": name,
		"qrcode":       true,
	}
	if opts.WebhookURL != "" {
		body["webhook"] = opts.WebhookURL
	}

	var resp struct {
		Instance struct {
			Status string `json:"status"`
		} `json:"instance"`
		QRCode *connectResponse `json:"qrcode"`
	}
	if err := a.do(ctx, http.MethodPost, "/instance/create", body, &resp); err != nil {
		return nil, err
	}

	handle := &domain.RemoteHandle{Status: domain.StatusAwaitingPairing}
	if resp.QRCode != nil {
		handle.Pairing = pairingFromConnect(*resp.QRCode)
	}
	return handle, nil
}

func (a *Adapter) StartRemote(ctx context.Context, name string) (*domain.PairingArtifact, error) {
	var resp connectResponse
	if err := a.do(ctx, http.MethodGet, "/instance/connect/"+name, nil, &resp); err != nil {
		return nil, err
	}
	return pairingFromConnect(resp), nil
}

func (a *Adapter) StopRemote(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodDelete, "/instance/logout/"+name, nil, nil)
}

func (a *Adapter) RestartRemote(ctx context.Context, name string) error {
	return a.do(ctx, http.MethodPut, "/instance/restart/"+name, nil, nil)
}

func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	err := a.do(ctx, http.MethodDelete, "/instance/delete/"+name, nil, nil)
	if errors.Is(err, domain.ErrRemoteNotFound) {
		return nil
	}
	return err
}

func (a *Adapter) FetchStatus(ctx context.Context, name string) (*domain.RemoteState, error) {
	var resp connectionStateResponse
	if err := a.do(ctx, http.MethodGet, "/instance/connectionState/"+name, nil, &resp); err != nil {
		return nil, err
	}

	state := &domain.RemoteState{Status: mapState(resp.Instance.State)}
	if state.Status == domain.StatusConnected {
		if identity, err := a.fetchOwner(ctx, name); err == nil {
			state.Identity = identity
		}
	}
	return state, nil
}

func (a *Adapter) FetchPairing(ctx context.Context, name string) (*domain.PairingArtifact, error) {
	return a.StartRemote(ctx, name)
}

func (a *Adapter) RegisterWebhook(ctx context.Context, name, url, secret string) error {
	body := map[string]any{
		"url":     url,
		"enabled": true,
		"events":  []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"},
	}
	return a.do(ctx, http.MethodPost, "/webhook/set/"+name, body, nil)
}

func (a *Adapter) fetchOwner(ctx context.Context, name string) (*domain.Identity, error) {
	var instances []instanceDetail
	path := "/instance/fetchInstances?instanceName=" + url.QueryEscape(name)
	if err := a.do(ctx, http.MethodGet, path, nil, &instances); err != nil {
		return nil, err
	}
	for _, detail := range instances {
		if detail.Instance.InstanceName != name {
			continue
		}
		if detail.Instance.Owner == "" {
			break
		}
		return &domain.Identity{
			ID:       detail.Instance.Owner,
			PushName: detail.Instance.ProfileName,
		}, nil
	}
	return nil, domain.ErrRemoteNotFound
}

func pairingFromConnect(resp connectResponse) *domain.PairingArtifact {
	data := strings.TrimSpace(resp.Base64)
	if data == "" {
		data = strings.TrimSpace(resp.Code)
	}
	if data == "" {
		return nil
	}
	if !strings.HasPrefix(data, "data:") && looksLikeBase64PNG(data) {
		data = "data:image/png;base64," + data
	}
	return &domain.PairingArtifact{Data: data}
}

func looksLikeBase64PNG(data string) bool {
	// PNG magic bytes encode to "iVBOR".
	return strings.HasPrefix(data, "iVBOR")
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
	req.Header.Set("apikey", a.apiKey)
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
		return fmt.Errorf("evolution: unexpected status %d", code)
	}
}

// mapState translates Evolution's connection states. Unknown values
// fail loud, never quiet.
func mapState(raw string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "close":
		return domain.StatusStopped
	case "connecting":
		return domain.StatusAwaitingPairing
	case "open":
		return domain.StatusConnected
	default:
		return domain.StatusFailed
	}
}
