package service_test

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"pqshield/internal/crypto/models"
	id "pqshield/pkg/domain"
)

func (s *HybridServiceSuite) TestSignTokenPQCRoundTrip() {
	s.setRollout(100)

	token, err := s.svc.SignToken(s.ctx, s.userID, map[string]any{"scope": "profile:read"})
	s.Require().NoError(err)
	s.Len(strings.Split(token, "."), 3)

	claims, err := s.svc.VerifyToken(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(s.userID, claims.UserID)
	s.Equal(models.SigAlgMLDSA65, claims.Algorithm)
	s.Equal("profile:read", claims.Extra["scope"])
	s.True(claims.ExpiresAt.After(claims.IssuedAt))
}

func (s *HybridServiceSuite) TestSignTokenClassicalRoundTrip() {
	s.setRollout(0)

	token, err := s.svc.SignToken(s.ctx, s.userID, nil)
	s.Require().NoError(err)

	// Classical tokens are ordinary HS256 JWTs verifiable by any JWT
	// library holding the shared secret.
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte("suite-token-secret"), nil
	})
	s.Require().NoError(err)
	s.True(parsed.Valid)

	claims, err := s.svc.VerifyToken(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(s.userID, claims.UserID)
	s.Equal("HS256", claims.Algorithm)
}

func (s *HybridServiceSuite) TestVerifyTokenAcceptsOldShapeAfterRolloutChange() {
	s.setRollout(0)
	classicalToken, err := s.svc.SignToken(s.ctx, s.userID, nil)
	s.Require().NoError(err)

	s.setRollout(100)
	claims, err := s.svc.VerifyToken(s.ctx, classicalToken)
	s.Require().NoError(err)
	s.Equal("HS256", claims.Algorithm)
}

func (s *HybridServiceSuite) TestSignTokenFallsBackWhenPQCSigningFails() {
	s.setRollout(100)
	s.pqcFlaky.setFailures(false, true)

	token, err := s.svc.SignToken(s.ctx, s.userID, nil)
	s.Require().NoError(err)

	claims, err := s.svc.VerifyToken(s.ctx, token)
	s.Require().NoError(err)
	s.Equal("HS256", claims.Algorithm)
	s.Equal(1, s.svc.CircuitStatus().ConsecutiveFailures)
}

func (s *HybridServiceSuite) TestVerifyTokenRejectsTampering() {
	s.setRollout(100)
	token, err := s.svc.SignToken(s.ctx, s.userID, nil)
	s.Require().NoError(err)

	parts := strings.Split(token, ".")
	flipped := byte('A')
	if parts[2][0] == 'A' {
		flipped = 'B'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(flipped) + parts[2][1:]
	_, err = s.svc.VerifyToken(s.ctx, tampered)
	s.Require().Error(err)
}

func (s *HybridServiceSuite) TestVerifyTokenRejectsWrongUser() {
	s.setRollout(100)
	token, err := s.svc.SignToken(s.ctx, s.userID, nil)
	s.Require().NoError(err)

	parts := strings.Split(token, ".")
	s.Require().Len(parts, 3)

	otherToken, err := s.svc.SignToken(s.ctx, id.UserID("user-other"), nil)
	s.Require().NoError(err)
	otherParts := strings.Split(otherToken, ".")

	// Signature from one user's key over another user's claims must not
	// verify.
	spliced := parts[0] + "." + parts[1] + "." + otherParts[2]
	_, err = s.svc.VerifyToken(s.ctx, spliced)
	s.Require().Error(err)
}

func (s *HybridServiceSuite) TestVerifyTokenRejectsGarbage() {
	_, err := s.svc.VerifyToken(s.ctx, "not-a-token")
	s.Require().Error(err)
}
