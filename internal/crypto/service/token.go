package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
)

// OperationSignToken is the rollout experiment gating post-quantum token
// signing.
const OperationSignToken = "sign_token"

const defaultTokenTTL = time.Hour

// tokenHeader mirrors a JWT header so post-quantum tokens keep the familiar
// three-part shape and verifiers can dispatch on alg.
type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

// TokenClaims is the verified claim set returned by VerifyToken.
type TokenClaims struct {
	UserID    id.UserID      `json:"sub"`
	Algorithm string         `json:"alg"`
	IssuedAt  time.Time      `json:"iat"`
	ExpiresAt time.Time      `json:"exp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// SignToken issues a signed token for the user. Treatment-bucketed users
// get an ML-DSA-65 signed token; everyone else gets a classical HS256 JWT.
// Both shapes verify through VerifyToken regardless of current rollout.
func (s *Service) SignToken(ctx context.Context, userID id.UserID, extra map[string]any) (string, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.sign_token")
	defer span.End()

	if userID.IsEmpty() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}

	variant, usePQC := s.selectFamily(ctx, userID, OperationSignToken)

	if usePQC {
		token, err := s.signPQCToken(ctx, userID, extra)
		if err == nil {
			s.breaker.RecordSuccess()
			s.observeBreaker()
			s.rollout.RecordMetric(ctx, userID, OperationSignToken, variant, "sign_token_pqc_success", 1)
			return token, nil
		}
		if ctx.Err() != nil {
			s.breaker.Discard()
			return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "token signing aborted")
		}
		s.breaker.RecordFailure()
		s.observeBreaker()
		s.recordFallback(reasonPQCFailure)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "post-quantum token signing failed, falling back to classical",
				"user_id", userID,
				"error", err,
			)
		}
	}

	token, err := s.signClassicalToken(userID, extra)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "token signing failed")
	}
	return token, nil
}

// VerifyToken validates a token of either shape, dispatching on the header
// alg. Invalid or expired tokens return CodeUnauthorized.
func (s *Service) VerifyToken(ctx context.Context, token string) (*TokenClaims, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.verify_token")
	defer span.End()

	alg, err := peekTokenAlg(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "malformed token")
	}

	var claims *TokenClaims
	switch alg {
	case models.SigAlgMLDSA65:
		claims, err = s.verifyPQCToken(ctx, token)
	case "HS256":
		claims, err = s.verifyClassicalToken(token)
	default:
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "unsupported token algorithm %q", alg)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token verification failed")
	}

	if time.Now().After(claims.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
	}
	return claims, nil
}

// VerifyUser is the bearer-token check used by the auth middleware.
func (s *Service) VerifyUser(ctx context.Context, token string) (id.UserID, error) {
	claims, err := s.VerifyToken(ctx, token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *Service) signPQCToken(ctx context.Context, userID id.UserID, extra map[string]any) (string, error) {
	now := time.Now()
	payload := map[string]any{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(defaultTokenTTL).Unix(),
	}
	for k, v := range extra {
		if k != "sub" && k != "iat" && k != "exp" {
			payload[k] = v
		}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	headerJSON, err := json.Marshal(tokenHeader{Alg: models.SigAlgMLDSA65, Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(payloadJSON)

	sig, err := s.pqc.Sign(ctx, []byte(signingInput), provider.Context{UserID: userID})
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return signingInput + "." + enc.EncodeToString(sig.Bytes), nil
}

func (s *Service) verifyPQCToken(ctx context.Context, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 token segments, got %d", len(parts))
	}

	enc := base64.RawURLEncoding
	payloadJSON, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	sigBytes, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(payloadJSON, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}
	sub, _ := raw["sub"].(string)
	userID, err := id.ParseUserID(sub)
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}

	signingInput := parts[0] + "." + parts[1]
	sig := &models.Signature{
		Bytes:     sigBytes,
		Algorithm: models.SigAlgMLDSA65,
	}
	ok, err := s.pqc.Verify(ctx, []byte(signingInput), sig, provider.Context{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("signature mismatch")
	}

	return claimsFromRaw(userID, models.SigAlgMLDSA65, raw), nil
}

func (s *Service) signClassicalToken(userID id.UserID, extra map[string]any) (string, error) {
	if len(s.tokenSecret) == 0 {
		return "", fmt.Errorf("token secret not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(defaultTokenTTL).Unix(),
	}
	for k, v := range extra {
		if k != "sub" && k != "iat" && k != "exp" {
			claims[k] = v
		}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.tokenSecret)
}

func (s *Service) verifyClassicalToken(token string) (*TokenClaims, error) {
	if len(s.tokenSecret) == 0 {
		return nil, fmt.Errorf("token secret not configured")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.tokenSecret, nil
	})
	if err != nil {
		return nil, err
	}
	raw, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid claims")
	}

	sub, _ := raw["sub"].(string)
	userID, err := id.ParseUserID(sub)
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	return claimsFromRaw(userID, "HS256", raw), nil
}

func claimsFromRaw(userID id.UserID, alg string, raw map[string]any) *TokenClaims {
	claims := &TokenClaims{UserID: userID, Algorithm: alg}
	if iat, ok := numericClaim(raw["iat"]); ok {
		claims.IssuedAt = time.Unix(iat, 0)
	}
	if exp, ok := numericClaim(raw["exp"]); ok {
		claims.ExpiresAt = time.Unix(exp, 0)
	}
	for k, v := range raw {
		switch k {
		case "sub", "iat", "exp":
		default:
			if claims.Extra == nil {
				claims.Extra = make(map[string]any)
			}
			claims.Extra[k] = v
		}
	}
	return claims
}

func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int64:
		return n, true
	}
	return 0, false
}

// peekTokenAlg reads the alg from the token header without verifying
// anything.
func peekTokenAlg(token string) (string, error) {
	head, _, ok := strings.Cut(token, ".")
	if !ok {
		return "", fmt.Errorf("missing header segment")
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil {
		return "", fmt.Errorf("decode header: %w", err)
	}
	var h tokenHeader
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return "", fmt.Errorf("unmarshal header: %w", err)
	}
	if h.Alg == "" {
		return "", fmt.Errorf("header missing alg")
	}
	return h.Alg, nil
}
