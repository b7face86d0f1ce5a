package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civreg/internal/audit"
	"civreg/internal/authtoken"
	"civreg/internal/citizen"
	"civreg/internal/identity"
	"civreg/internal/rbac"
	"civreg/internal/workflow"
	id "civreg/pkg/domain"
)

// =============================================================================
// HTTP transport
// =============================================================================
//
// Justification for unit tests:
// The transport is thin, so these tests focus on its own responsibilities:
// routing, auth middleware, request decoding, and the error envelope. They run
// the real services over the in-memory stack rather than mocks, so a handler
// cannot pass while the wiring underneath is broken.

type TransportSuite struct {
	suite.Suite

	server   *httptest.Server
	jwt      *authtoken.JWTService
	identity *identity.Service

	registrarToken string
	approverToken  string
	verifierToken  string
	superToken     string
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	log := slog.Default()

	recorder, err := audit.NewRecorder(audit.NewInMemoryStore(), nil, log)
	s.Require().NoError(err)

	s.identity, err = identity.NewService(identity.NewInMemoryStore(), log)
	s.Require().NoError(err)

	wf, err := workflow.NewService(citizen.NewInMemoryStore(), s.identity, recorder, workflow.NewMemoryUnitOfWork(), log)
	s.Require().NoError(err)

	s.jwt = authtoken.NewJWTService("test-signing-key", "civreg", "civreg-api")
	handler := NewHandler(wf, s.identity, log)
	s.server = httptest.NewServer(NewRouter(handler, s.jwt, log))
	s.T().Cleanup(s.server.Close)

	s.registrarToken = s.token(rbac.Actor{ID: id.NewActorID(), PrimaryRole: rbac.RoleAdmin, FunctionalRoles: []rbac.FunctionalRole{rbac.RoleRegistrar}})
	s.approverToken = s.token(rbac.Actor{ID: id.NewActorID(), PrimaryRole: rbac.RoleAdmin, FunctionalRoles: []rbac.FunctionalRole{rbac.RoleApprover}})
	s.verifierToken = s.token(rbac.Actor{ID: id.NewActorID(), PrimaryRole: rbac.RoleAdmin, FunctionalRoles: []rbac.FunctionalRole{rbac.RoleVerifier}})
	s.superToken = s.token(rbac.Actor{ID: id.NewActorID(), PrimaryRole: rbac.RoleSuperAdmin})
}

func (s *TransportSuite) token(actor rbac.Actor) string {
	token, err := s.jwt.GenerateAccessToken(actor, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *TransportSuite) do(method, path, token string, body any) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *TransportSuite) decode(resp *http.Response, into any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *TransportSuite) register() citizen.Snapshot {
	resp := s.do(http.MethodPost, "/citizens", s.registrarToken, map[string]any{
		"personal_data": map[string]string{"full_name": "Asha Mwinyi"},
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var snapshot citizen.Snapshot
	s.decode(resp, &snapshot)
	return snapshot
}

func (s *TransportSuite) errorCode(resp *http.Response) string {
	var envelope struct {
		Error string `json:"error"`
	}
	s.decode(resp, &envelope)
	return envelope.Error
}

// =============================================================================
// Auth middleware
// =============================================================================

func (s *TransportSuite) TestMissingTokenUnauthorized() {
	resp := s.do(http.MethodPost, "/citizens", "", map[string]any{})
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *TransportSuite) TestGarbageTokenUnauthorized() {
	resp := s.do(http.MethodGet, "/citizens/"+id.NewCitizenID().String(), "not-a-token", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *TransportSuite) TestHealthNeedsNoAuth() {
	resp := s.do(http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *TransportSuite) TestRequestIDEchoed() {
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/healthz", nil)
	s.Require().NoError(err)
	req.Header.Set("X-Request-ID", "trace-me")

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal("trace-me", resp.Header.Get("X-Request-ID"))
}

// =============================================================================
// Registration and transitions
// =============================================================================

func (s *TransportSuite) TestRegisterAndFetch() {
	snapshot := s.register()
	s.Equal(citizen.StatusPending, snapshot.Status)

	resp := s.do(http.MethodGet, "/citizens/"+snapshot.ID.String(), s.superToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var fetched citizen.Snapshot
	s.decode(resp, &fetched)
	s.Equal(snapshot.ID, fetched.ID)
}

func (s *TransportSuite) TestTransitionFlowOverHTTP() {
	snapshot := s.register()
	base := "/citizens/" + snapshot.ID.String()

	resp := s.do(http.MethodPost, base+"/biometrics", s.registrarToken, map[string]any{
		"biometric_data": map[string]string{"fingerprints": "..."},
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var updated citizen.Snapshot
	s.decode(resp, &updated)
	s.Equal(citizen.StatusBiometricVerification, updated.Status)

	resp = s.do(http.MethodPost, base+"/approval", s.approverToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &updated)
	s.Equal(citizen.StatusApproved, updated.Status)
}

func (s *TransportSuite) TestForbiddenTransition() {
	snapshot := s.register()

	resp := s.do(http.MethodPost, "/citizens/"+snapshot.ID.String()+"/approval", s.registrarToken, nil)
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("forbidden", s.errorCode(resp))
}

func (s *TransportSuite) TestDoubleApprovalConflict() {
	snapshot := s.register()
	base := "/citizens/" + snapshot.ID.String()

	resp := s.do(http.MethodPost, base+"/approval", s.approverToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, base+"/approval", s.approverToken, nil)
	s.Require().Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("invalid_state", s.errorCode(resp))
}

func (s *TransportSuite) TestRejectionRequiresReason() {
	snapshot := s.register()

	resp := s.do(http.MethodPost, "/citizens/"+snapshot.ID.String()+"/rejection", s.approverToken, map[string]any{})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("validation_failed", s.errorCode(resp))
}

func (s *TransportSuite) TestMalformedCitizenID() {
	resp := s.do(http.MethodPost, "/citizens/not-a-uuid/approval", s.approverToken, nil)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("invalid_input", s.errorCode(resp))
}

func (s *TransportSuite) TestUnknownCitizenNotFound() {
	resp := s.do(http.MethodGet, "/citizens/"+id.NewCitizenID().String(), s.superToken, nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("not_found", s.errorCode(resp))
}

func (s *TransportSuite) TestMalformedBody() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/citizens", bytes.NewReader([]byte("{not json")))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.registrarToken)

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("bad_request", s.errorCode(resp))
}

// =============================================================================
// NIDA verification endpoints
// =============================================================================

func (s *TransportSuite) TestNidaTransitionOverHTTP() {
	number, err := s.identity.Issue(context.Background(), time.Date(1990, 1, 5, 0, 0, 0, 0, time.UTC), "Asha Mwinyi", "female")
	s.Require().NoError(err)

	snapshot := s.register()
	resp := s.do(http.MethodPost, "/citizens/"+snapshot.ID.String()+"/nida-verification", s.verifierToken, map[string]any{
		"national_id": number.String(),
		"claims": map[string]string{
			"full_name":     "Asha Mwinyi",
			"date_of_birth": "1990-01-05",
			"gender":        "female",
		},
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var updated citizen.Snapshot
	s.decode(resp, &updated)
	s.Equal(citizen.StatusNidaVerification, updated.Status)
	s.Equal(number, updated.NationalID)
}

func (s *TransportSuite) TestIdentityVerifyEndpoint() {
	number, err := s.identity.Issue(context.Background(), time.Date(1990, 1, 5, 0, 0, 0, 0, time.UTC), "Asha Mwinyi", "female")
	s.Require().NoError(err)

	resp := s.do(http.MethodPost, "/identity/verify", s.verifierToken, map[string]any{
		"national_id": number.String(),
		"claims": map[string]string{
			"full_name":     "Someone Else",
			"date_of_birth": "1990-01-05",
			"gender":        "female",
		},
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var result identity.VerificationResult
	s.decode(resp, &result)
	s.False(result.Valid)
	s.Contains(result.Mismatches, "full_name")
}

func (s *TransportSuite) TestIdentityVerifyRejectsMalformedNumber() {
	resp := s.do(http.MethodPost, "/identity/verify", s.verifierToken, map[string]any{
		"national_id": "12345",
	})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("invalid_input", s.errorCode(resp))
}

// =============================================================================
// Audit endpoint
// =============================================================================

func (s *TransportSuite) TestAuditTrailEndpoint() {
	snapshot := s.register()

	resp := s.do(http.MethodGet, fmt.Sprintf("/audit?entity_id=%s&action=citizen_registered", snapshot.ID), s.superToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []auditEntryResponse `json:"entries"`
	}
	s.decode(resp, &body)
	s.Require().Len(body.Entries, 1)
	s.Equal(audit.ActionCitizenRegistered, body.Entries[0].Action)
	s.Equal(snapshot.ID.String(), body.Entries[0].EntityID)
	s.NotEmpty(body.Entries[0].RequestID)
}

func (s *TransportSuite) TestAuditTrailRejectsBadTimestamp() {
	resp := s.do(http.MethodGet, "/audit?from=yesterday", s.superToken, nil)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("bad_request", s.errorCode(resp))
}
