package waha

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smallbiznis/waplink/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, handler http.Handler) domain.Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	return adapter
}

func TestNewAdapterRequiresCredentials(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{BaseURL: "http://waha"})
	assert.ErrorIs(t, err, domain.ErrConfigurationMissing)

	_, err = NewFactory().NewAdapter(domain.AdapterConfig{APIKey: "key"})
	assert.ErrorIs(t, err, domain.ErrConfigurationMissing)
}

func TestFetchStatusMapsVocabulary(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.Status
	}{
		{"STOPPED", domain.StatusStopped},
		{"STARTING", domain.StatusAwaitingPairing},
		{"SCAN_QR_CODE", domain.StatusAwaitingPairing},
		{"WORKING", domain.StatusConnected},
		{"FAILED", domain.StatusFailed},
		{"SOMETHING_NEW", domain.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"name":"acme-1","status":"` + tc.raw + `"}`))
			}))

			state, err := adapter.FetchStatus(context.Background(), "acme-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, state.Status)
		})
	}
}

func TestFetchStatusCarriesIdentityWhenConnected(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"acme-1","status":"WORKING","me":{"id":"628123@c.us","pushName":"Acme Store"}}`))
	}))

	state, err := adapter.FetchStatus(context.Background(), "acme-1")
	require.NoError(t, err)
	require.NotNil(t, state.Identity)
	assert.Equal(t, "628123@c.us", state.Identity.ID)
	assert.Equal(t, "Acme Store", state.Identity.PushName)
}

func TestFetchPairingConvertsPNGToDataURI(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/acme-1/auth/qr", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))

	artifact, err := adapter.FetchPairing(context.Background(), "acme-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(artifact.Data, "data:image/png;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(artifact.Data, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, png, decoded)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, domain.ErrConfigurationMissing},
		{http.StatusForbidden, domain.ErrConfigurationMissing},
		{http.StatusNotFound, domain.ErrRemoteNotFound},
		{http.StatusBadGateway, domain.ErrRemoteUnavailable},
	}
	for _, tc := range cases {
		adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		_, err := adapter.FetchStatus(context.Background(), "acme-1")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.code)
	}
}

func TestDeleteRemoteTreatsMissingAsSuccess(t *testing.T) {
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	assert.NoError(t, adapter.DeleteRemote(context.Background(), "gone"))
}

func TestCreateRemoteSendsWebhookConfig(t *testing.T) {
	var gotBody string
	adapter := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
			raw, _ := io.ReadAll(r.Body)
			gotBody = string(raw)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"acme-1","status":"STOPPED"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := adapter.CreateRemote(context.Background(), "acme-1", domain.CreateOptions{
		WebhookURL:    "https://hub.example.com/api/channels/acme-1/webhook",
		WebhookSecret: "shhh",
	})
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"url":"https://hub.example.com/api/channels/acme-1/webhook"`)
	assert.Contains(t, gotBody, `"key":"shhh"`)
}
