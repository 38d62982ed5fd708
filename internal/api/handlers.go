// Package api exposes the diary's HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"example.com/diary/internal/auth"
	"example.com/diary/internal/domain"
	"example.com/diary/internal/export"
	"example.com/diary/internal/observability"
	"example.com/diary/internal/session"
)

// Handler coordinates HTTP requests with per-user diary sessions.
type Handler struct {
	sessions *session.Manager
	authCfg  auth.Config
}

// NewHandler builds a Handler.
func NewHandler(sessions *session.Manager, authCfg auth.Config) *Handler {
	return &Handler{sessions: sessions, authCfg: authCfg}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/session", h.session)
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/dates", h.listDates)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/export", h.exportCSV)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.login(w, r)
	case http.MethodDelete:
		h.logout(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updateActivity(w, r, id)
	case http.MethodDelete:
		h.deleteActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	sess, err := h.sessions.Login(req.Username)
	if err != nil {
		if errors.Is(err, session.ErrEmptyUsername) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	token, err := auth.Sign(sess.Username, h.authCfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Username: sess.Username, Token: token})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	if err := h.sessions.Logout(claims.Username); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusNotFound, "not_found", "no active session")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := sess.Store.Add(req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, activity)
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := sess.Store.Update(id, req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activity)
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "confirmation_required", "deletion requires confirm=true")
		return
	}

	if err := sess.Store.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	filter := r.URL.Query().Get("date")
	if filter == "" {
		filter = domain.FilterAll
	}

	activities := sess.Store.List(filter)
	groups := domain.GroupByDate(activities)

	resp := ListActivitiesResponse{
		Items:  activities,
		Groups: make([]DateGroupView, 0, len(groups)),
	}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, DateGroupView{Date: g.Date, Activities: g.Activities})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, ListDatesResponse{Dates: sess.Store.UniqueDates()})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	filter := r.URL.Query().Get("date")
	if filter == "" {
		filter = domain.FilterAll
	}
	rows := export.Rows(sess.Store.List(filter), export.DefaultDateLabel)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(sess.Username)))
	if err := export.WriteCSV(w, rows); err != nil {
		// Headers are already sent; nothing useful left to report to the client.
		return
	}
}

func exportFilename(username string) string {
	return fmt.Sprintf("diary-%s.csv", username)
}

// resolveSession maps the request's bearer claims to a live session, opening
// one if the user authenticated before the server last restarted.
func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}

	sess, err := h.sessions.Login(claims.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	return sess, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrTimeConflict):
		observability.RecordConflictRejected()
		writeError(w, http.StatusConflict, "time_conflict", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// LoginRequest is the payload for POST /v1/session.
type LoginRequest struct {
	Username string `json:"username"`
}

// Validate ensures request correctness.
func (r LoginRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username is required")
	}
	return nil
}

// LoginResponse carries the bearer token for subsequent requests.
type LoginResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ActivityRequest is the payload for creating or updating an activity.
type ActivityRequest struct {
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Description string `json:"description"`
}

func (r ActivityRequest) toInput() domain.ActivityInput {
	return domain.ActivityInput{
		Date:        r.Date,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Description: r.Description,
	}
}

// DateGroupView is one date bucket in a grouped listing.
type DateGroupView struct {
	Date       string            `json:"date"`
	Activities []domain.Activity `json:"activities"`
}

// ListActivitiesResponse packages the flat list alongside its date grouping.
type ListActivitiesResponse struct {
	Items  []domain.Activity `json:"items"`
	Groups []DateGroupView   `json:"groups"`
}

// ListDatesResponse enumerates the distinct dates present in the diary.
type ListDatesResponse struct {
	Dates []string `json:"dates"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
