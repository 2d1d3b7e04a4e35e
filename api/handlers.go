package api

import (
	"encoding/json"
	"io"
	"net/http"

	"opspulse/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes bounds mutation request bodies
const maxBodyBytes = 64 * 1024

// actionResult is the envelope returned by every mutation endpoint
type actionResult struct {
	Code    service.ActionCode `json:"code"`
	TraceID string             `json:"trace_id"`
	Message string             `json:"message,omitempty"`
	Alert   *service.AlertView `json:"alert,omitempty"`
}

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

// respondActionError translates a service failure into the action envelope
func (a *API) respondActionError(w http.ResponseWriter, err error, traceID string) {
	appErr := service.NormalizeError(err)
	code := service.ActionCodeFor(err)

	status := http.StatusInternalServerError
	switch appErr.Code {
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "CONFLICT":
		status = http.StatusConflict
	case "UNAUTHORIZED":
		status = http.StatusForbidden
	case "VALIDATION_ERROR":
		status = http.StatusBadRequest
	case "TIMEOUT":
		status = http.StatusGatewayTimeout
	}
	if code == service.ActionNoop {
		// A no-op is a successful non-change, not a failure.
		status = http.StatusOK
	}
	a.respondJSON(w, actionResult{Code: code, TraceID: traceID, Message: appErr.Message}, status)
}

// requestTraceID prefers the live span's trace id, falling back to a header
// or a fresh id so every action result is correlatable.
func requestTraceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id := r.Header.Get("X-Trace-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !a.config.VerifyAdminPassword(req.Username, req.Password) {
		a.logger.Warnw("Failed login attempt", "ip", clientIP(r), "username", req.Username)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	token, err := generateJWT(req.Username, []string{service.RoleSuperadmin}, a.config)
	if err != nil {
		a.logger.Errorw("Failed to issue token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	a.respondJSON(w, map[string]string{"token": token}, http.StatusOK)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health.HealthCheck(); err != nil {
			a.respondJSON(w, map[string]string{"status": "unhealthy", "error": err.Error()}, http.StatusServiceUnavailable)
			return
		}
	}
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (a *API) getOverview(w http.ResponseWriter, r *http.Request) {
	mode := service.ScopeMode(r.URL.Query().Get("scope"))
	if mode == "" {
		mode = service.ScopeProductionOnly
	}
	if !mode.IsValid() {
		http.Error(w, "Invalid scope mode", http.StatusBadRequest)
		return
	}
	includeNonProductive := r.URL.Query().Get("include_non_productive") == "true"

	payload, err := a.aggregator.GetAggregatedView(r.Context(), mode, includeNonProductive)
	if err != nil {
		a.logger.Errorw("Failed to build overview", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	a.respondJSON(w, payload, http.StatusOK)
}

func (a *API) runEvaluation(w http.ResponseWriter, r *http.Request) {
	traceID := requestTraceID(r)
	summary, err := a.evaluator.RunEvaluation(r.Context(), a.actorFromRequest(r))
	if err != nil {
		a.respondActionError(w, err, traceID)
		return
	}
	a.respondJSON(w, summary, http.StatusOK)
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	traceID := requestTraceID(r)
	view, err := a.state.GetAlert(r.Context(), mux.Vars(r)["fingerprint"])
	if err != nil {
		a.respondActionError(w, err, traceID)
		return
	}
	a.respondJSON(w, actionResult{Code: service.ActionOK, TraceID: traceID, Alert: view}, http.StatusOK)
}

func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	traceID := requestTraceID(r)
	actor := a.actorFromRequest(r)
	view, err := a.state.Acknowledge(r.Context(), mux.Vars(r)["fingerprint"], actor.ID)
	if err != nil {
		a.respondActionError(w, err, traceID)
		return
	}
	a.respondJSON(w, actionResult{Code: service.ActionOK, TraceID: traceID, Alert: view}, http.StatusOK)
}

func (a *API) reopenAlert(w http.ResponseWriter, r *http.Request) {
	traceID := requestTraceID(r)
	view, err := a.state.Reopen(r.Context(), mux.Vars(r)["fingerprint"], traceID)
	if err != nil {
		a.respondActionError(w, err, traceID)
		return
	}
	a.respondJSON(w, actionResult{Code: service.ActionOK, TraceID: traceID, Alert: view}, http.StatusOK)
}

func (a *API) patchAlertMetadata(w http.ResponseWriter, r *http.Request) {
	traceID := requestTraceID(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if err := validatePatchBody(body); err != nil {
		a.respondJSON(w, actionResult{
			Code:    service.ActionValidationErr,
			TraceID: traceID,
			Message: err.Error(),
		}, http.StatusBadRequest)
		return
	}

	var patch service.MetadataPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if patch.TraceID == "" {
		patch.TraceID = traceID
	}

	view, err := a.state.UpdateMetadata(r.Context(), mux.Vars(r)["fingerprint"], &patch)
	if err != nil {
		a.respondActionError(w, err, traceID)
		return
	}
	a.respondJSON(w, actionResult{Code: service.ActionOK, TraceID: traceID, Alert: view}, http.StatusOK)
}

type toggleStepRequest struct {
	Checked bool `json:"checked"`
}

func (a *API) toggleAlertStep(w http.ResponseWriter, r *http.Request) {
	traceID := requestTraceID(r)
	vars := mux.Vars(r)

	req := toggleStepRequest{Checked: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	actor := a.actorFromRequest(r)
	view, err := a.state.ToggleStep(r.Context(), vars["fingerprint"], vars["stepId"], req.Checked, actor.ID)
	if err != nil {
		a.respondActionError(w, err, traceID)
		return
	}
	a.respondJSON(w, actionResult{Code: service.ActionOK, TraceID: traceID, Alert: view}, http.StatusOK)
}
