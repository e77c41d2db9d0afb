// Package service implements the hybrid orchestrator: per operation it
// consults the rollout bucketing and the circuit breaker to pick a crypto
// provider, calls it under a timeout, and falls back to the classical
// provider on failure. Decryption dispatches strictly on the envelope's
// algorithm tag, so envelopes stay readable regardless of current rollout
// or circuit state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"pqshield/internal/crypto/integrity"
	"pqshield/internal/crypto/metrics"
	"pqshield/internal/crypto/models"
	"pqshield/internal/crypto/provider"
	rolloutmodels "pqshield/internal/rollout/models"
	id "pqshield/pkg/domain"
	dErrors "pqshield/pkg/domain-errors"
	"pqshield/pkg/platform/circuit"
)

// CapabilityPQC names the guarded post-quantum capability for circuit
// status reporting.
const CapabilityPQC = "pqc-provider"

// Fallback reasons, used for metrics and logs.
const (
	reasonCircuitOpen    = "circuit_open"
	reasonRolloutControl = "rollout_control"
	reasonPQCFailure     = "pqc_failure"
)

// Operation outcomes.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Rollout is the bucketing capability the orchestrator consults. The
// operation name doubles as the experiment identifier.
type Rollout interface {
	Assignment(ctx context.Context, experimentID id.ExperimentID, userID id.UserID) (rolloutmodels.Variant, error)
	RecordMetric(ctx context.Context, userID id.UserID, experimentID id.ExperimentID, variant rolloutmodels.Variant, metric string, value float64)
}

// Protection couples the envelope with the integrity record computed over
// the same payload. They are created together and replaced together.
type Protection struct {
	Envelope  *models.EncryptedEnvelope `json:"envelope"`
	Integrity *models.IntegrityRecord   `json:"integrity"`
}

// ProtectionUnavailableError reports that both providers failed. Surfaced
// to the caller; not retried automatically.
type ProtectionUnavailableError struct {
	Operation    string
	PQCErr       error
	ClassicalErr error
}

func (e *ProtectionUnavailableError) Error() string {
	return fmt.Sprintf("protection unavailable for %s: pqc: %v; classical: %v", e.Operation, e.PQCErr, e.ClassicalErr)
}

// Service is the hybrid orchestrator.
type Service struct {
	pqc        provider.Provider
	classical  provider.Provider
	rollout    Rollout
	breaker    *circuit.Breaker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	pqcTimeout time.Duration

	// One validator per family so integrity records are signed by the
	// same algorithm family that produced the envelope.
	pqcValidator       *integrity.Validator
	classicalValidator *integrity.Validator

	tokenSecret []byte
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBreaker injects a configured circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

// WithPQCTimeout sets the mandatory per-call timeout for the post-quantum
// provider. Exceeding it counts as a failure for the circuit breaker.
func WithPQCTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pqcTimeout = d
		}
	}
}

// WithTokenSecret sets the HMAC secret for classical token signing.
func WithTokenSecret(secret []byte) Option {
	return func(s *Service) {
		s.tokenSecret = secret
	}
}

// New creates the orchestrator. Both providers and the rollout service are
// required; everything else has defaults.
func New(pqcProvider, classicalProvider provider.Provider, rollout Rollout, opts ...Option) (*Service, error) {
	if pqcProvider == nil {
		return nil, fmt.Errorf("pqc provider is required")
	}
	if classicalProvider == nil {
		return nil, fmt.Errorf("classical provider is required")
	}
	if rollout == nil {
		return nil, fmt.Errorf("rollout service is required")
	}

	svc := &Service{
		pqc:        pqcProvider,
		classical:  classicalProvider,
		rollout:    rollout,
		breaker:    circuit.New(CapabilityPQC),
		tracer:     otel.Tracer("pqshield/crypto"),
		pqcTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}

	svc.pqcValidator = integrity.New(integrity.WithSigner(pqcProvider), integrity.WithLogger(svc.logger))
	svc.classicalValidator = integrity.New(integrity.WithSigner(classicalProvider), integrity.WithLogger(svc.logger))
	return svc, nil
}

// Protect encrypts the payload and computes its integrity record under the
// selected algorithm family. The caller always receives a usable envelope
// unless both providers fail, in which case *ProtectionUnavailableError
// propagates.
func (s *Service) Protect(ctx context.Context, payload []byte, userID id.UserID, operation string) (*Protection, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.protect")
	defer span.End()

	if userID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	if operation == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "operation is required")
	}

	variant, usePQC := s.selectFamily(ctx, userID, operation)

	var pqcErr error
	if usePQC {
		protection, err := s.attemptPQC(ctx, payload, userID)
		if err == nil {
			s.breaker.RecordSuccess()
			s.observeBreaker()
			s.rollout.RecordMetric(ctx, userID, id.ExperimentID(operation), variant, "protect_pqc_success", 1)
			return protection, nil
		}
		pqcErr = err

		// An attempt abandoned by the caller says nothing about provider
		// health; release the claim without counting it.
		if ctx.Err() != nil {
			s.breaker.Discard()
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "protection aborted")
		}

		s.breaker.RecordFailure()
		s.observeBreaker()
		s.recordFallback(reasonPQCFailure)
		s.rollout.RecordMetric(ctx, userID, id.ExperimentID(operation), variant, "protect_pqc_failure", 1)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "post-quantum protection failed, falling back to classical",
				"operation", operation,
				"user_id", userID,
				"algorithm", models.AlgorithmPQCKEM,
				"error", err,
			)
		}
	}

	// Classical path: the universal fallback. Retried exactly once here,
	// never again against the failed PQC provider in the same call.
	protection, err := s.protectWith(ctx, s.classical, s.classicalValidator, payload, userID, "protect")
	if err != nil {
		if pqcErr != nil {
			return nil, &ProtectionUnavailableError{Operation: operation, PQCErr: pqcErr, ClassicalErr: err}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "classical protection failed")
	}
	return protection, nil
}

// Unprotect decrypts an envelope, dispatching strictly on its embedded
// algorithm tag. Works for envelopes created under either mode independent
// of current rollout configuration.
func (s *Service) Unprotect(ctx context.Context, envelope *models.EncryptedEnvelope, userID id.UserID) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.unprotect")
	defer span.End()

	if envelope == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "envelope is required")
	}
	if userID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}

	prov, err := s.providerFor(envelope.Algorithm)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	payload, err := prov.Decrypt(ctx, envelope, provider.Context{UserID: userID, KeyID: envelope.KeyID})
	s.observeOperation("unprotect", envelope.Algorithm.String(), err, time.Since(start))
	if err != nil {
		var mismatch *provider.EnvelopeMismatchError
		if errors.As(err, &mismatch) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "envelope routed to wrong provider")
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "unprotect failed",
				"user_id", userID,
				"algorithm", envelope.Algorithm,
				"error", err,
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decryption failed")
	}
	return payload, nil
}

// CreateIntegrity computes an integrity record, choosing the signing family
// the same way Protect chooses the encryption family.
func (s *Service) CreateIntegrity(ctx context.Context, payload any, userID id.UserID, operation string) (*models.IntegrityRecord, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.create_integrity")
	defer span.End()

	if userID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}

	_, usePQC := s.selectFamily(ctx, userID, operation)
	if usePQC {
		record, err := s.pqcValidator.CreateIntegrity(ctx, payload, userID)
		if err == nil {
			s.breaker.RecordSuccess()
			s.observeBreaker()
			return record, nil
		}
		if ctx.Err() != nil {
			s.breaker.Discard()
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "integrity creation aborted")
		}
		s.breaker.RecordFailure()
		s.observeBreaker()
		s.recordFallback(reasonPQCFailure)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "post-quantum integrity signing failed, falling back to classical",
				"operation", operation,
				"user_id", userID,
				"error", err,
			)
		}
	}

	record, err := s.classicalValidator.CreateIntegrity(ctx, payload, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "integrity creation failed")
	}
	return record, nil
}

// ValidateIntegrity checks a payload against its integrity record,
// dispatching signature verification by the recorded algorithm. Mismatches
// come back in the result, never as an error.
func (s *Service) ValidateIntegrity(ctx context.Context, payload any, record *models.IntegrityRecord, userID id.UserID) (*models.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.validate_integrity")
	defer span.End()

	if record == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "integrity record is required")
	}

	validator := s.classicalValidator
	if record.Signature != nil && record.Signature.Algorithm == models.SigAlgMLDSA65 {
		validator = s.pqcValidator
	}

	result, err := validator.Validate(ctx, payload, record, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "integrity validation failed")
	}
	return result, nil
}

// Reprotect encrypts the payload under an explicitly chosen algorithm
// family, bypassing rollout bucketing. Used by the migration runner, which
// targets a family rather than sampling one. Post-quantum targets still
// respect the circuit breaker so bulk migration cannot hammer a degraded
// backend.
func (s *Service) Reprotect(ctx context.Context, payload []byte, userID id.UserID, target models.Algorithm) (*Protection, error) {
	ctx, span := s.tracer.Start(ctx, "crypto.reprotect")
	defer span.End()

	if userID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}

	switch target {
	case models.AlgorithmPQCKEM:
		if !s.breaker.Allow() {
			s.recordFallback(reasonCircuitOpen)
			return nil, dErrors.New(dErrors.CodeUnavailable, "post-quantum provider circuit is open")
		}
		protection, err := s.attemptPQC(ctx, payload, userID)
		if err != nil {
			if ctx.Err() != nil {
				s.breaker.Discard()
				return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "reprotection aborted")
			}
			s.breaker.RecordFailure()
			s.observeBreaker()
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "post-quantum protection failed")
		}
		s.breaker.RecordSuccess()
		s.observeBreaker()
		return protection, nil
	case models.AlgorithmClassicalSymmetric:
		protection, err := s.protectWith(ctx, s.classical, s.classicalValidator, payload, userID, "reprotect")
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "classical protection failed")
		}
		return protection, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unsupported target algorithm %q", target)
	}
}

// CircuitStatus returns the breaker snapshot for health reporting.
func (s *Service) CircuitStatus() circuit.Status {
	return s.breaker.Status()
}

// ResetCircuit administratively closes the breaker.
func (s *Service) ResetCircuit() {
	s.breaker.Reset()
	s.observeBreaker()
	if s.logger != nil {
		s.logger.Info("circuit breaker reset", "capability", CapabilityPQC)
	}
}

// selectFamily decides whether this call may attempt the post-quantum
// family. Rollout bucketing comes first so control-variant traffic never
// touches the breaker: only real attempt candidates claim the half-open
// probe slot, and every claimed slot is resolved by exactly one outcome
// report.
func (s *Service) selectFamily(ctx context.Context, userID id.UserID, operation string) (rolloutmodels.Variant, bool) {
	variant, err := s.rollout.Assignment(ctx, id.ExperimentID(operation), userID)
	if err != nil {
		// Rollout lookup failures degrade to control rather than failing
		// the protected operation.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "rollout lookup failed, using classical provider",
				"operation", operation,
				"error", err,
			)
		}
		variant = rolloutmodels.VariantControl
	}

	if variant != rolloutmodels.VariantTreatment {
		s.recordFallback(reasonRolloutControl)
		return variant, false
	}

	if !s.breaker.Allow() {
		s.recordFallback(reasonCircuitOpen)
		return variant, false
	}
	return variant, true
}

// attemptPQC runs the post-quantum protect under the mandatory timeout.
// The provider call runs in its own goroutine so a wedged backend cannot
// stall the caller past the deadline; outcome recording happens only after
// the call returns or times out.
func (s *Service) attemptPQC(ctx context.Context, payload []byte, userID id.UserID) (*Protection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pqcTimeout)
	defer cancel()

	type outcome struct {
		protection *Protection
		err        error
	}
	done := make(chan outcome, 1)

	go func() {
		p, err := s.protectWith(ctx, s.pqc, s.pqcValidator, payload, userID, "protect")
		done <- outcome{protection: p, err: err}
	}()

	select {
	case out := <-done:
		return out.protection, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("pqc protect: %w", ctx.Err())
	}
}

// protectWith encrypts and computes integrity with one provider/validator
// pair.
func (s *Service) protectWith(ctx context.Context, prov provider.Provider, validator *integrity.Validator, payload []byte, userID id.UserID, operation string) (*Protection, error) {
	start := time.Now()

	envelope, err := prov.Encrypt(ctx, payload, provider.Context{UserID: userID})
	if err != nil {
		s.observeOperation(operation, prov.Algorithm().String(), err, time.Since(start))
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	record, err := validator.CreateIntegrity(ctx, payload, userID)
	s.observeOperation(operation, prov.Algorithm().String(), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("create integrity: %w", err)
	}

	return &Protection{Envelope: envelope, Integrity: record}, nil
}

// providerFor maps an envelope tag to the provider that can open it.
func (s *Service) providerFor(alg models.Algorithm) (provider.Provider, error) {
	switch alg {
	case models.AlgorithmPQCKEM:
		return s.pqc, nil
	case models.AlgorithmClassicalSymmetric, models.AlgorithmClassicalAsymmetric:
		return s.classical, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown envelope algorithm %q", alg)
	}
}

func (s *Service) observeOperation(operation, algorithm string, err error, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	s.metrics.ObserveOperation(operation, algorithm, outcome, duration)
}

func (s *Service) recordFallback(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementFallback(reason)
	}
}

func (s *Service) observeBreaker() {
	if s.metrics != nil {
		s.metrics.SetCircuitState(CapabilityPQC, s.breaker.Status().State)
	}
}
