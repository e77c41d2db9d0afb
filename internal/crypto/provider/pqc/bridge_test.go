package pqc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
	"pqshield/pkg/platform/sentinel"
)

// fakeInvoker records invocations and plays back canned results.
type fakeInvoker struct {
	calls  []string
	result map[string]any
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, operation string, _ map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, operation)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestRemoteSign(t *testing.T) {
	inv := &fakeInvoker{result: map[string]any{
		"success":         true,
		"signature":       base64.RawURLEncoding.EncodeToString([]byte("remote-sig")),
		"public_key_hash": "abcdef0123456789",
	}}
	p := newTestProvider(t, WithInvoker(inv))

	sig, err := p.Sign(context.Background(), []byte("payload"), provider.Context{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"sign_token"}, inv.calls)
	assert.Equal(t, []byte("remote-sig"), sig.Bytes)
	assert.Equal(t, models.SigAlgMLDSA65, sig.Algorithm)
	assert.Equal(t, "abcdef0123456789", sig.PublicKeyHash)
}

func TestRemoteVerify(t *testing.T) {
	inv := &fakeInvoker{result: map[string]any{"success": true, "valid": true}}
	p := newTestProvider(t, WithInvoker(inv))

	ok, err := p.Verify(context.Background(), []byte("payload"), &models.Signature{
		Bytes:     []byte("sig"),
		Algorithm: models.SigAlgMLDSA65,
	}, provider.Context{UserID: "user-1"})
	require.NoError(t, err)

	assert.True(t, ok)
	assert.Equal(t, []string{"verify_token"}, inv.calls)
}

func TestHTTPInvoker_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req bridgeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sign_token", req.Operation)
		assert.Equal(t, "user-1", req.Params["user_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"signature": base64.RawURLEncoding.EncodeToString([]byte("sig")),
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL)
	result, err := inv.Invoke(context.Background(), "sign_token", map[string]any{"user_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
}

func TestHTTPInvoker_BridgeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":       false,
			"error_message": "key generation failed",
		})
	}))
	defer srv.Close()

	_, err := NewHTTPInvoker(srv.URL).Invoke(context.Background(), "sign_token", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key generation failed")
}

func TestHTTPInvoker_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPInvoker(srv.URL).Invoke(context.Background(), "verify_token", nil)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
