package pqc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pqshield/internal/crypto/models"
	id "pqshield/pkg/domain"
	"pqshield/pkg/platform/sentinel"
)

// Bridge operation names understood by the remote capability.
const (
	opSignToken   = "sign_token"
	opVerifyToken = "verify_token"
)

// Invoker reaches a remote post-quantum capability. Implementations must be
// safe for concurrent use; the result map carries operation-specific fields.
type Invoker interface {
	Invoke(ctx context.Context, operation string, params map[string]any) (map[string]any, error)
}

// bridgeRequest follows the bridge wire protocol:
// {operation, params} in, {success, ..., error_message} out.
type bridgeRequest struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
}

// HTTPInvoker speaks the bridge protocol over HTTP POST.
type HTTPInvoker struct {
	endpoint string
	client   *http.Client
}

// HTTPInvokerOption configures an HTTPInvoker.
type HTTPInvokerOption func(*HTTPInvoker)

// WithHTTPClient injects an HTTP client (timeouts, transport) for tests.
func WithHTTPClient(client *http.Client) HTTPInvokerOption {
	return func(i *HTTPInvoker) {
		if client != nil {
			i.client = client
		}
	}
}

// NewHTTPInvoker creates an invoker for a bridge endpoint.
func NewHTTPInvoker(endpoint string, opts ...HTTPInvokerOption) *HTTPInvoker {
	inv := &HTTPInvoker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke posts one bridge operation. A transport failure or non-2xx status
// wraps sentinel.ErrUnavailable so the circuit breaker can classify it; a
// success=false response surfaces the bridge's error message.
func (i *HTTPInvoker) Invoke(ctx context.Context, operation string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(bridgeRequest{Operation: operation, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w: %w", operation, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bridge %s: status %d: %w", operation, resp.StatusCode, sentinel.ErrUnavailable)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode bridge response: %w", err)
	}

	if success, _ := result["success"].(bool); !success {
		msg, _ := result["error_message"].(string)
		if msg == "" {
			msg = "bridge operation failed"
		}
		return nil, fmt.Errorf("bridge %s: %s", operation, msg)
	}
	return result, nil
}

// remoteSign delegates signing to the bridge.
func (p *Provider) remoteSign(ctx context.Context, payload []byte, userID id.UserID) (*models.Signature, error) {
	result, err := p.invoker.Invoke(ctx, opSignToken, map[string]any{
		"user_id": userID.String(),
		"payload": base64.RawURLEncoding.EncodeToString(payload),
	})
	if err != nil {
		return nil, err
	}

	encoded, _ := result["signature"].(string)
	if encoded == "" {
		return nil, fmt.Errorf("bridge returned no signature")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode bridge signature: %w", err)
	}

	keyHash, _ := result["public_key_hash"].(string)
	return &models.Signature{
		Bytes:         sigBytes,
		Algorithm:     models.SigAlgMLDSA65,
		PublicKeyHash: keyHash,
	}, nil
}

// remoteVerify delegates verification to the bridge. The bridge reports
// validity as a field, not an error; transport failures still error out.
func (p *Provider) remoteVerify(ctx context.Context, payload []byte, sig *models.Signature, userID id.UserID) (bool, error) {
	result, err := p.invoker.Invoke(ctx, opVerifyToken, map[string]any{
		"user_id":   userID.String(),
		"payload":   base64.RawURLEncoding.EncodeToString(payload),
		"signature": base64.RawURLEncoding.EncodeToString(sig.Bytes),
	})
	if err != nil {
		return false, err
	}

	valid, _ := result["valid"].(bool)
	return valid, nil
}
