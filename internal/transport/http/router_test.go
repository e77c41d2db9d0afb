package httptransport_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	cryptohandler "pqshield/internal/crypto/handler"
	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider/classical"
	"pqshield/internal/crypto/provider/pqc"
	"pqshield/internal/crypto/service"
	"pqshield/internal/migration"
	migrationhandler "pqshield/internal/migration/handler"
	platformmetrics "pqshield/internal/platform/metrics"
	recordhandler "pqshield/internal/record/handler"
	recordstore "pqshield/internal/record/store"
	"pqshield/internal/rollout"
	rollouthandler "pqshield/internal/rollout/handler"
	"pqshield/internal/rollout/sink"
	configstore "pqshield/internal/rollout/store/config"
	httptransport "pqshield/internal/transport/http"
	id "pqshield/pkg/domain"
)

var transportMetrics = platformmetrics.New()

// APISuite exercises the fully wired HTTP surface against memory backends.
type APISuite struct {
	suite.Suite

	router http.Handler
	store  *configstore.InMemoryConfigStore
}

func (s *APISuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(0x80 + i)
	}

	pqcProvider, err := pqc.New(masterKey)
	s.Require().NoError(err)
	classicalProvider, err := classical.New(masterKey, id.KeyID("master-v1"))
	s.Require().NoError(err)

	s.store = configstore.New()
	rolloutService, err := rollout.New(s.store, rollout.WithExposureSink(sink.NewInMemory()))
	s.Require().NoError(err)

	svc, err := service.New(pqcProvider, classicalProvider, rolloutService,
		service.WithTokenSecret([]byte("router-test-secret")),
		service.WithLogger(logger),
	)
	s.Require().NoError(err)

	records := recordstore.NewInMemory()
	runner, err := migration.New(records, svc)
	s.Require().NoError(err)

	s.router = httptransport.NewRouter(transportMetrics, nil,
		cryptohandler.New(svc, logger),
		rollouthandler.New(rolloutService, logger),
		migrationhandler.New(runner, logger),
		recordhandler.New(records, svc, svc, logger),
	)
}

func (s *APISuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APISuite) decode(w *httptest.ResponseRecorder, into any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), into))
}

func (s *APISuite) TestHealthz() {
	w := s.do(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *APISuite) TestProtectUnprotectRoundTrip() {
	w := s.do(http.MethodPost, "/crypto/protect", map[string]any{
		"user_id":   "user-1",
		"payload":   []byte("sensitive"),
		"operation": "protect_profile",
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var protection struct {
		Envelope *models.EncryptedEnvelope `json:"envelope"`
	}
	s.decode(w, &protection)
	s.Equal(models.AlgorithmClassicalSymmetric, protection.Envelope.Algorithm)

	w = s.do(http.MethodPost, "/crypto/unprotect", map[string]any{
		"user_id":  "user-1",
		"envelope": protection.Envelope,
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		Payload []byte `json:"payload"`
	}
	s.decode(w, &resp)
	s.Equal([]byte("sensitive"), resp.Payload)
}

func (s *APISuite) TestProtectRejectsInvalidBody() {
	req := httptest.NewRequest(http.MethodPost, "/crypto/protect", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APISuite) TestProtectRejectsNonJSONContentType() {
	req := httptest.NewRequest(http.MethodPost, "/crypto/protect", bytes.NewReader([]byte("payload")))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusUnsupportedMediaType, w.Code)
}

func (s *APISuite) TestRolloutAdminDrivesProtection() {
	w := s.do(http.MethodPut, "/rollout/experiments/protect_profile", map[string]any{"percentage": 100}, nil)
	s.Require().Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/rollout/experiments", nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var percentages map[string]float64
	s.decode(w, &percentages)
	s.Equal(float64(100), percentages["protect_profile"])

	w = s.do(http.MethodPost, "/crypto/protect", map[string]any{
		"user_id":   "user-1",
		"payload":   []byte("sensitive"),
		"operation": "protect_profile",
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var protection struct {
		Envelope *models.EncryptedEnvelope `json:"envelope"`
	}
	s.decode(w, &protection)
	s.Equal(models.AlgorithmPQCKEM, protection.Envelope.Algorithm)
}

func (s *APISuite) TestRolloutRejectsOutOfRangePercentage() {
	w := s.do(http.MethodPut, "/rollout/experiments/protect_profile", map[string]any{"percentage": 140}, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APISuite) TestAssignmentEndpoint() {
	w := s.do(http.MethodPut, "/rollout/experiments/exp-a", map[string]any{"percentage": 50}, nil)
	s.Require().Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/rollout/experiments/exp-a/assignment?user_id=user-1", nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var resp struct {
		Variant string  `json:"variant"`
		Bucket  float64 `json:"bucket"`
	}
	s.decode(w, &resp)
	s.Contains([]string{"CONTROL", "TREATMENT"}, resp.Variant)
	s.GreaterOrEqual(resp.Bucket, 0.0)
	s.Less(resp.Bucket, 100.0)
}

func (s *APISuite) TestIntegrityCreateAndValidate() {
	payload := map[string]any{"name": "ada", "age": 36}

	w := s.do(http.MethodPost, "/crypto/integrity", map[string]any{
		"user_id": "user-1",
		"payload": payload,
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var record models.IntegrityRecord
	s.decode(w, &record)

	w = s.do(http.MethodPost, "/crypto/integrity/validate", map[string]any{
		"user_id": "user-1",
		"payload": payload,
		"record":  record,
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var result models.ValidationResult
	s.decode(w, &result)
	s.True(result.IsValid)

	// Same payload with a changed field must fail validation.
	payload["age"] = 37
	w = s.do(http.MethodPost, "/crypto/integrity/validate", map[string]any{
		"user_id": "user-1",
		"payload": payload,
		"record":  record,
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &result)
	s.False(result.IsValid)
}

func (s *APISuite) TestTokenIssueAndVerify() {
	w := s.do(http.MethodPost, "/crypto/tokens", map[string]any{
		"user_id": "user-1",
		"claims":  map[string]any{"scope": "records:read"},
	}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var issued struct {
		Token string `json:"token"`
	}
	s.decode(w, &issued)
	s.NotEmpty(issued.Token)

	w = s.do(http.MethodPost, "/crypto/tokens/verify", map[string]any{"token": issued.Token}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var claims struct {
		UserID string `json:"sub"`
	}
	s.decode(w, &claims)
	s.Equal("user-1", claims.UserID)

	w = s.do(http.MethodPost, "/crypto/tokens/verify", map[string]any{"token": "garbage"}, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *APISuite) bearerFor(userID string) map[string]string {
	w := s.do(http.MethodPost, "/crypto/tokens", map[string]any{"user_id": userID}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var issued struct {
		Token string `json:"token"`
	}
	s.decode(w, &issued)
	return map[string]string{"Authorization": "Bearer " + issued.Token}
}

func (s *APISuite) TestRecordLifecycle() {
	auth := s.bearerFor("user-1")

	w := s.do(http.MethodPost, "/records", map[string]any{
		"record_id": "rec-1",
		"payload":   []byte(`{"ssn":"000-00-0000"}`),
	}, auth)
	s.Require().Equal(http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/records/rec-1", nil, auth)
	s.Require().Equal(http.StatusOK, w.Code)
	var resp struct {
		Payload []byte `json:"payload"`
	}
	s.decode(w, &resp)
	s.Equal([]byte(`{"ssn":"000-00-0000"}`), resp.Payload)

	// Duplicate insert conflicts.
	w = s.do(http.MethodPost, "/records", map[string]any{
		"record_id": "rec-1",
		"payload":   []byte("x"),
	}, auth)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *APISuite) TestRecordsRequireAuth() {
	w := s.do(http.MethodPost, "/records", map[string]any{"payload": []byte("x")}, nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/records/rec-1", nil, map[string]string{"Authorization": "Bearer junk"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *APISuite) TestRecordOwnershipEnforced() {
	auth := s.bearerFor("user-1")
	w := s.do(http.MethodPost, "/records", map[string]any{
		"record_id": "rec-owned",
		"payload":   []byte("mine"),
	}, auth)
	s.Require().Equal(http.StatusCreated, w.Code)

	other := s.bearerFor("user-2")
	w = s.do(http.MethodGet, "/records/rec-owned", nil, other)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *APISuite) TestMigrationRunOverHTTP() {
	auth := s.bearerFor("user-1")
	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/records", map[string]any{
			"record_id": fmt.Sprintf("rec-%d", i),
			"payload":   []byte(fmt.Sprintf("payload-%d", i)),
		}, auth)
		s.Require().Equal(http.StatusCreated, w.Code)
	}

	w := s.do(http.MethodPost, "/migrations/runs", map[string]any{"mode": "UPGRADE"}, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var result migration.Result
	s.decode(w, &result)
	s.Equal(3, result.Processed)
	s.Equal(3, result.Migrated)
	s.Zero(result.Failed)

	// Records remain readable after migration.
	w = s.do(http.MethodGet, "/records/rec-0", nil, auth)
	s.Require().Equal(http.StatusOK, w.Code)
	var resp struct {
		Payload   []byte           `json:"payload"`
		Algorithm models.Algorithm `json:"algorithm"`
	}
	s.decode(w, &resp)
	s.Equal([]byte("payload-0"), resp.Payload)
	s.Equal(models.AlgorithmPQCKEM, resp.Algorithm)
}

func (s *APISuite) TestMigrationRejectsUnknownMode() {
	w := s.do(http.MethodPost, "/migrations/runs", map[string]any{"mode": "SIDEWAYS"}, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APISuite) TestCircuitStatusEndpoint() {
	w := s.do(http.MethodGet, "/crypto/circuit", nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var status struct {
		State string `json:"state"`
	}
	s.decode(w, &status)
	s.Equal("CLOSED", status.State)

	w = s.do(http.MethodPost, "/crypto/circuit/reset", nil, nil)
	s.Equal(http.StatusNoContent, w.Code)
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}
