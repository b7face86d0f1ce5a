// Package httptransport is the thin HTTP layer over the workflow facade. It
// decodes requests, resolves the actor, delegates, and translates coded
// errors into the JSON error envelope. No business logic lives here.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"civreg/internal/audit"
	"civreg/internal/identity"
	"civreg/internal/rbac"
	"civreg/internal/workflow"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// Handler carries the services the routes delegate to.
type Handler struct {
	workflow *workflow.Service
	identity *identity.Service
	log      *slog.Logger
}

func NewHandler(wf *workflow.Service, ident *identity.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{workflow: wf, identity: ident, log: log.With("component", "http")}
}

type registerRequest struct {
	PersonalData json.RawMessage `json:"personal_data"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	snapshot, err := h.workflow.Register(r.Context(), actor, req.PersonalData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

type transitionRequest struct {
	BiometricData json.RawMessage `json:"biometric_data,omitempty"`
	DocumentData  json.RawMessage `json:"document_data,omitempty"`
	NationalID    string          `json:"national_id,omitempty"`
	Claims        identity.Claims `json:"claims,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// handleTransition builds one http.HandlerFunc per transition capability; the
// route, not the body, decides what the request attempts.
func (h *Handler) handleTransition(capability rbac.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
			return
		}
		citizenID, err := id.ParseCitizenID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		var req transitionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
				return
			}
		}

		wfReq := workflow.TransitionRequest{
			Biometric:       req.BiometricData,
			Documents:       req.DocumentData,
			Claims:          req.Claims,
			RejectionReason: req.Reason,
			Note:            req.Note,
		}
		if req.NationalID != "" {
			nationalID, err := id.ParseNationalID(req.NationalID)
			if err != nil {
				writeError(w, err)
				return
			}
			wfReq.NationalID = nationalID
		}

		snapshot, err := h.workflow.Execute(r.Context(), actor, capability, citizenID, wfReq)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func (h *Handler) handleGetCitizen(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	citizenID, err := id.ParseCitizenID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := h.workflow.Get(r.Context(), actor, citizenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.workflow.AuditTrail(r.Context(), actor, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": auditEntriesResponse(entries)})
}

func auditFilterFromQuery(r *http.Request) (audit.Filter, error) {
	query := r.URL.Query()
	filter := audit.Filter{
		EntityType: query.Get("entity_type"),
		EntityID:   query.Get("entity_id"),
	}
	if raw := query.Get("actor_id"); raw != "" {
		actorID, err := id.ParseActorID(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.Actor = actorID
	}
	for _, action := range query["action"] {
		filter.Actions = append(filter.Actions, audit.Action(action))
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "from is not an RFC 3339 timestamp")
		}
		filter.From = from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "to is not an RFC 3339 timestamp")
		}
		filter.To = to
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// auditEntryResponse flattens an entry for the wire; raw snapshots pass
// through untouched.
type auditEntryResponse struct {
	ID         string          `json:"id"`
	Action     audit.Action    `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Outcome    audit.Outcome   `json:"outcome"`
	Reason     string          `json:"reason,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

func auditEntriesResponse(entries []audit.Entry) []auditEntryResponse {
	out := make([]auditEntryResponse, len(entries))
	for i, entry := range entries {
		out[i] = auditEntryResponse{
			ID:         entry.ID.String(),
			Action:     entry.Action,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Timestamp:  entry.Timestamp,
			Before:     entry.Before,
			After:      entry.After,
			Outcome:    entry.Outcome,
			Reason:     entry.Reason,
			RequestID:  entry.RequestID,
		}
		if !entry.Actor.IsNil() {
			out[i].ActorID = entry.Actor.String()
		}
	}
	return out
}

type verifyRequest struct {
	NationalID string          `json:"national_id"`
	Claims     identity.Claims `json:"claims"`
}

func (h *Handler) handleIdentityVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := ActorFromContext(r.Context()); !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	nationalID, err := id.ParseNationalID(req.NationalID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.identity.Verify(r.Context(), nationalID, req.Claims)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates coded domain errors into the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		message = de.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             string(code),
		"error_description": message,
	})
}

// transitionRoutes pairs each mutation route with the capability it attempts.
var transitionRoutes = []struct {
	Pattern    string
	Capability rbac.Capability
}{
	{"/citizens/{id}/biometrics", rbac.CapSubmitBiometric},
	{"/citizens/{id}/documents", rbac.CapSubmitDocuments},
	{"/citizens/{id}/nida-verification", rbac.CapVerifyNida},
	{"/citizens/{id}/approval", rbac.CapApprove},
	{"/citizens/{id}/rejection", rbac.CapReject},
	{"/citizens/{id}/resubmission", rbac.CapResubmit},
}
