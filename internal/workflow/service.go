// Package workflow is the facade in front of the registration core. Every
// mutation funnels through it: authorization, the state machine, persistence,
// and the audit trail execute as one unit of work, so no caller can mutate a
// citizen without leaving a trace.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"civreg/internal/audit"
	"civreg/internal/citizen"
	"civreg/internal/identity"
	"civreg/internal/notify"
	"civreg/internal/platform/metrics"
	"civreg/internal/rbac"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/sentinel"
	"civreg/pkg/requestcontext"
)

// capabilityTargets maps each transition capability to the status it moves
// the citizen into. Capabilities outside this map do not drive transitions.
var capabilityTargets = map[rbac.Capability]citizen.RegistrationStatus{
	rbac.CapSubmitBiometric: citizen.StatusBiometricVerification,
	rbac.CapSubmitDocuments: citizen.StatusDocumentVerification,
	rbac.CapVerifyNida:      citizen.StatusNidaVerification,
	rbac.CapApprove:         citizen.StatusApproved,
	rbac.CapReject:          citizen.StatusRejected,
	rbac.CapResubmit:        citizen.StatusPending,
}

// IdentityVerifier is the slice of the identity service the workflow needs.
type IdentityVerifier interface {
	Verify(ctx context.Context, nationalID id.NationalID, claims identity.Claims) (identity.VerificationResult, error)
}

// TransitionRequest carries the inputs for one transition attempt. Only the
// fields relevant to the requested capability are consumed.
type TransitionRequest struct {
	Biometric       json.RawMessage
	Documents       json.RawMessage
	NationalID      id.NationalID
	Claims          identity.Claims
	RejectionReason string
	Note            string
}

// Service orchestrates registration operations.
type Service struct {
	citizens citizen.Store
	verifier IdentityVerifier
	recorder *audit.Recorder
	uow      UnitOfWork
	notifier notify.Notifier
	metrics  *metrics.Metrics // may be nil
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier installs the terminal-transition notification hook.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics attaches transition counters and the execute histogram.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(citizens citizen.Store, verifier IdentityVerifier, recorder *audit.Recorder, uow UnitOfWork, log *slog.Logger, opts ...Option) (*Service, error) {
	if citizens == nil {
		return nil, errors.New("citizen store is required")
	}
	if verifier == nil {
		return nil, errors.New("identity verifier is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	if uow == nil {
		return nil, errors.New("unit of work is required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		citizens: citizens,
		verifier: verifier,
		recorder: recorder,
		uow:      uow,
		notifier: notify.NewLogNotifier(log),
		log:      log.With("component", "workflow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a citizen in Pending with its initial history entry. The
// registration itself is audited inside the same unit of work as the insert.
func (s *Service) Register(ctx context.Context, actor rbac.Actor, personal json.RawMessage) (citizen.Snapshot, error) {
	citizenID := id.NewCitizenID()

	if err := s.authorize(ctx, actor, rbac.CapRegisterCitizen, citizenID); err != nil {
		return citizen.Snapshot{}, err
	}

	var snapshot citizen.Snapshot
	err := s.uow.Run(ctx, citizenID, func(ctx context.Context) error {
		record := citizen.New(citizenID, actor.ID, personal, requestcontext.Now(ctx))
		if err := s.citizens.Create(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "create citizen")
		}
		snapshot = record.Snapshot()

		after, err := json.Marshal(snapshot)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "marshal citizen snapshot")
		}
		return s.recorder.Record(ctx, audit.Entry{
			Action:     audit.ActionCitizenRegistered,
			EntityType: audit.EntityTypeCitizen,
			EntityID:   citizenID.String(),
			Actor:      actor.ID,
			After:      after,
			Outcome:    audit.OutcomeApplied,
		})
	})
	if err != nil {
		return citizen.Snapshot{}, err
	}
	return snapshot, nil
}

// Execute runs one transition attempt: authorize, apply the state machine,
// persist, and audit, atomically. Business failures (illegal transition,
// terminal state, validation) roll the unit back, get audited out of band,
// and surface as coded errors.
func (s *Service) Execute(ctx context.Context, actor rbac.Actor, capability rbac.Capability, citizenID id.CitizenID, req TransitionRequest) (citizen.Snapshot, error) {
	started := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ExecuteDuration.Observe(time.Since(started).Seconds())
		}
	}()

	target, ok := capabilityTargets[capability]
	if !ok {
		return citizen.Snapshot{}, dErrors.Newf(dErrors.CodeBadRequest,
			"capability %q does not drive a transition", capability)
	}

	if err := s.authorize(ctx, actor, capability, citizenID); err != nil {
		if s.metrics != nil && dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.metrics.TransitionsDenied.WithLabelValues(string(capability)).Inc()
		}
		return citizen.Snapshot{}, err
	}

	var snapshot citizen.Snapshot
	err := s.uow.Run(ctx, citizenID, func(ctx context.Context) error {
		record, err := s.citizens.Get(ctx, citizenID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "citizen %s not found", citizenID)
			}
			return dErrors.Wrap(err, dErrors.CodePersistence, "load citizen")
		}

		before, err := json.Marshal(record.Snapshot())
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "marshal citizen snapshot")
		}

		payload := citizen.TransitionPayload{
			Biometric:       req.Biometric,
			Documents:       req.Documents,
			NationalID:      req.NationalID,
			RejectionReason: req.RejectionReason,
			Note:            req.Note,
		}
		if capability == rbac.CapVerifyNida {
			verified, err := s.verifyIdentity(ctx, req)
			if err != nil {
				return err
			}
			payload.NationalID = verified
		}

		if err := citizen.ApplyTransition(record, target, actor.ID, payload, requestcontext.Now(ctx)); err != nil {
			return err
		}

		if err := s.citizens.Update(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "update citizen")
		}
		snapshot = record.Snapshot()

		after, err := json.Marshal(snapshot)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "marshal citizen snapshot")
		}
		return s.recorder.Record(ctx, audit.Entry{
			Action:     transitionAction(capability),
			EntityType: audit.EntityTypeCitizen,
			EntityID:   citizenID.String(),
			Actor:      actor.ID,
			Before:     before,
			After:      after,
			Outcome:    audit.OutcomeApplied,
		})
	})
	if err != nil {
		s.recordFailure(ctx, actor, capability, citizenID, err)
		return citizen.Snapshot{}, err
	}

	if s.metrics != nil {
		s.metrics.TransitionsApplied.WithLabelValues(string(target)).Inc()
	}
	if citizen.Terminal(target) {
		// The transition is durable; notification is best effort and must not
		// affect the response.
		event := notify.Event{
			CitizenID: citizenID,
			Status:    string(target),
			Reason:    req.RejectionReason,
		}
		s.notifier.Notify(ctx, event)
		s.recordNotification(ctx, actor, event)
	}
	return snapshot, nil
}

// recordNotification audits the post-commit notification hand-off. The
// transition already committed and the response is decided, so a failed audit
// write here is logged, not surfaced.
func (s *Service) recordNotification(ctx context.Context, actor rbac.Actor, event notify.Event) {
	after, err := json.Marshal(event)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to marshal notification event", "error", err)
		return
	}
	entry := audit.Entry{
		Action:     audit.ActionNotificationSent,
		EntityType: audit.EntityTypeCitizen,
		EntityID:   event.CitizenID.String(),
		Actor:      actor.ID,
		After:      after,
		Outcome:    audit.OutcomeApplied,
		Reason:     event.Reason,
	}
	if err := s.recorder.RecordOutOfBand(ctx, entry); err != nil {
		s.log.ErrorContext(ctx, "failed to audit notification",
			"citizen_id", event.CitizenID,
			"error", err,
		)
	}
}

// verifyIdentity checks the claimed number against the canonical identity
// record. A mismatch or unknown number fails the transition.
func (s *Service) verifyIdentity(ctx context.Context, req TransitionRequest) (id.NationalID, error) {
	if req.NationalID.IsZero() {
		return "", dErrors.New(dErrors.CodeValidationFailed, "nida verification requires an identity number")
	}
	result, err := s.verifier.Verify(ctx, req.NationalID, req.Claims)
	if err != nil {
		return "", err
	}
	if !result.Valid {
		return "", dErrors.Newf(dErrors.CodeValidationFailed,
			"identity verification failed: %v", result.Mismatches)
	}
	return req.NationalID, nil
}

// Get returns the citizen snapshot, gated by view-all for staff and view-own
// plus ownership for citizen principals.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, citizenID id.CitizenID) (citizen.Snapshot, error) {
	capability := rbac.CapViewAll
	if actor.PrimaryRole == rbac.RoleCitizen {
		capability = rbac.CapViewOwn
	}
	if err := s.authorize(ctx, actor, capability, citizenID); err != nil {
		return citizen.Snapshot{}, err
	}

	record, err := s.citizens.Get(ctx, citizenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return citizen.Snapshot{}, dErrors.Newf(dErrors.CodeNotFound, "citizen %s not found", citizenID)
		}
		return citizen.Snapshot{}, dErrors.Wrap(err, dErrors.CodePersistence, "load citizen")
	}
	return record.Snapshot(), nil
}

// AuditTrail exposes the read side of the audit log.
func (s *Service) AuditTrail(ctx context.Context, actor rbac.Actor, filter audit.Filter) ([]audit.Entry, error) {
	if err := s.authorize(ctx, actor, rbac.CapViewAll, id.CitizenID{}); err != nil {
		return nil, err
	}
	return s.recorder.Query(ctx, filter)
}

// authorize evaluates the engine and, for citizen principals, the ownership
// rule the pure engine cannot see. Denials are audited out of band because
// there is no unit of work to ride.
func (s *Service) authorize(ctx context.Context, actor rbac.Actor, capability rbac.Capability, citizenID id.CitizenID) error {
	decision := rbac.Authorize(actor, capability)
	reason := decision.Reason
	if decision.Allowed && actor.PrimaryRole == rbac.RoleCitizen && actor.CitizenID != citizenID {
		decision.Allowed = false
		reason = "citizen_record_not_owned"
	}
	if decision.Allowed {
		return nil
	}

	entry := audit.Entry{
		Action:     audit.ActionAuthorizationDenied,
		EntityType: audit.EntityTypeCitizen,
		EntityID:   citizenID.String(),
		Actor:      actor.ID,
		Outcome:    audit.OutcomeDenied,
		Reason:     reason,
	}
	if err := s.recorder.RecordOutOfBand(ctx, entry); err != nil {
		return err
	}
	return dErrors.Newf(dErrors.CodeForbidden, "actor may not %s: %s", capability, reason)
}

// recordFailure audits business-rule failures out of band so the record
// survives the rolled-back unit. Persistence and internal failures are not
// business outcomes and only propagate.
func (s *Service) recordFailure(ctx context.Context, actor rbac.Actor, capability rbac.Capability, citizenID id.CitizenID, cause error) {
	code := dErrors.CodeOf(cause)
	switch code {
	case dErrors.CodeIllegalTransition, dErrors.CodeInvalidState, dErrors.CodeValidationFailed:
	default:
		return
	}

	if s.metrics != nil {
		s.metrics.TransitionsFailed.WithLabelValues(string(code)).Inc()
	}
	entry := audit.Entry{
		Action:     transitionAction(capability),
		EntityType: audit.EntityTypeCitizen,
		EntityID:   citizenID.String(),
		Actor:      actor.ID,
		Outcome:    audit.OutcomeFailed,
		Reason:     cause.Error(),
	}
	if err := s.recorder.RecordOutOfBand(ctx, entry); err != nil {
		s.log.ErrorContext(ctx, "failed to audit transition failure",
			"citizen_id", citizenID,
			"capability", capability,
			"error", err,
		)
	}
}

func transitionAction(capability rbac.Capability) audit.Action {
	if capability == rbac.CapResubmit {
		return audit.ActionCitizenResubmitted
	}
	return audit.ActionStatusTransition
}
