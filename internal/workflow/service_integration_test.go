//go:build integration

package workflow_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"civreg/internal/audit"
	"civreg/internal/citizen"
	"civreg/internal/identity"
	"civreg/internal/rbac"
	"civreg/internal/workflow"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/testutil/containers"
)

// =============================================================================
// Workflow over Postgres
// =============================================================================
// The in-memory unit of work serializes racers with a per-citizen lock; the
// Postgres unit relies on serializable isolation plus a single rerun of the
// aborted transaction. This suite pins that both paths converge on the same
// business outcome under contention.

type PostgresWorkflowSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	trail    *audit.PostgresStore
	service  *workflow.Service

	registrar rbac.Actor
	approver  rbac.Actor
}

func TestPostgresWorkflowSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresWorkflowSuite))
}

// unknownNumberVerifier stands in for the identity service; nothing in this
// suite exercises the NIDA stage.
type unknownNumberVerifier struct{}

func (unknownNumberVerifier) Verify(_ context.Context, nationalID id.NationalID, _ identity.Claims) (identity.VerificationResult, error) {
	return identity.VerificationResult{NationalID: nationalID, Mismatches: []string{identity.MismatchNotFound}}, nil
}

func (s *PostgresWorkflowSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	s.trail = audit.NewPostgresStore(s.postgres.DB)
	recorder, err := audit.NewRecorder(s.trail, audit.NewOutOfBandPostgresStore(s.postgres.DB), slog.Default())
	s.Require().NoError(err)

	s.service, err = workflow.NewService(
		citizen.NewPostgresStore(s.postgres.DB),
		unknownNumberVerifier{},
		recorder,
		workflow.NewPostgresUnitOfWork(s.postgres.DB),
		slog.Default(),
	)
	s.Require().NoError(err)

	s.registrar = rbac.Actor{ID: id.NewActorID(), PrimaryRole: rbac.RoleAdmin, FunctionalRoles: []rbac.FunctionalRole{rbac.RoleRegistrar}}
	s.approver = rbac.Actor{ID: id.NewActorID(), PrimaryRole: rbac.RoleAdmin, FunctionalRoles: []rbac.FunctionalRole{rbac.RoleApprover}}
}

func (s *PostgresWorkflowSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "citizens", "audit_entries", "audit_outbox"))
}

func (s *PostgresWorkflowSuite) TestConcurrentApprovesExactlyOneWins() {
	ctx := context.Background()
	snapshot, err := s.service.Register(ctx, s.registrar, json.RawMessage(`{"full_name":"Asha Mwinyi"}`))
	s.Require().NoError(err)

	const racers = 2
	results := make(chan error, racers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		go func() {
			start.Wait()
			_, err := s.service.Execute(ctx, s.approver, rbac.CapApprove, snapshot.ID, workflow.TransitionRequest{})
			results <- err
		}()
	}
	start.Done()

	var succeeded, invalidState int
	for i := 0; i < racers; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case dErrors.HasCode(err, dErrors.CodeInvalidState):
			invalidState++
		default:
			s.Failf("unexpected outcome", "error: %v", err)
		}
	}
	s.Equal(1, succeeded, "exactly one approval must win the race")
	s.Equal(1, invalidState, "the loser must observe the terminal state, not a database abort")

	current, err := s.service.Get(ctx, s.approver, snapshot.ID)
	s.Require().NoError(err)
	s.Equal(citizen.StatusApproved, current.Status)
	s.Equal(current.Status, current.StatusHistory[len(current.StatusHistory)-1].Status)

	// One applied transition from the winner, one failed from the loser.
	entries, err := s.trail.Query(ctx, audit.Filter{
		EntityID: snapshot.ID.String(),
		Actions:  []audit.Action{audit.ActionStatusTransition},
	})
	s.Require().NoError(err)
	var applied, failed int
	for _, entry := range entries {
		switch entry.Outcome {
		case audit.OutcomeApplied:
			applied++
		case audit.OutcomeFailed:
			failed++
		}
	}
	s.Equal(1, applied)
	s.Equal(1, failed)

	sent, err := s.trail.Query(ctx, audit.Filter{
		EntityID: snapshot.ID.String(),
		Actions:  []audit.Action{audit.ActionNotificationSent},
	})
	s.Require().NoError(err)
	s.Len(sent, 1, "only the winning approval notifies")
}

func (s *PostgresWorkflowSuite) TestRegistrationFlowPersistsAcrossUnits() {
	ctx := context.Background()
	snapshot, err := s.service.Register(ctx, s.registrar, json.RawMessage(`{"full_name":"Asha Mwinyi"}`))
	s.Require().NoError(err)

	snapshot, err = s.service.Execute(ctx, s.registrar, rbac.CapSubmitBiometric, snapshot.ID, workflow.TransitionRequest{
		Biometric: json.RawMessage(`{"fingerprints":"..."}`),
	})
	s.Require().NoError(err)
	s.Equal(citizen.StatusBiometricVerification, snapshot.Status)

	snapshot, err = s.service.Execute(ctx, s.approver, rbac.CapApprove, snapshot.ID, workflow.TransitionRequest{})
	s.Require().NoError(err)
	s.Equal(citizen.StatusApproved, snapshot.Status)
	s.Require().Len(snapshot.StatusHistory, 3)

	entries, err := s.trail.Query(ctx, audit.Filter{EntityID: snapshot.ID.String()})
	s.Require().NoError(err)
	// Registration, two transitions, and the post-commit notification.
	s.Len(entries, 4)
}
