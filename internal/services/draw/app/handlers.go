package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/entropyd/entropyd/internal/draw"
	apperrors "github.com/entropyd/entropyd/internal/platform/errors"
)

type handler struct {
	drawer   Drawer
	reporter PoolReporter
	sessions SessionManager
}

func newHandler(drawer Drawer, reporter PoolReporter, sessions SessionManager) *handler {
	return &handler{drawer: drawer, reporter: reporter, sessions: sessions}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" /api/draw", h.handleDraw)
	mux.HandleFunc(http.MethodGet+" /api/status", h.handleStatus)
	mux.HandleFunc(http.MethodPost+" /api/sessions", h.handleSessionCreate)
	mux.HandleFunc(http.MethodPost+" /api/sessions/{id}/draw", h.handleSessionDraw)
	mux.HandleFunc(http.MethodPost+" /api/sessions/{id}/reseed", h.handleSessionReseed)
	mux.HandleFunc(http.MethodDelete+" /api/sessions/{id}", h.handleSessionDelete)
	mux.HandleFunc(http.MethodGet+" /healthz", h.handleHealth)
	return mux
}

// drawResponse is the wire shape of a completed draw.
type drawResponse struct {
	Numbers []int  `json:"numbers"`
	Source  string `json:"source"`
}

// statusResponse is the wire shape of the pool snapshot.
type statusResponse struct {
	Exists     bool   `json:"exists"`
	Remaining  int    `json:"remaining"`
	Source     string `json:"source,omitempty"`
	AgeMinutes int    `json:"age_minutes"`
}

// sessionResponse is the wire shape of a chain session.
type sessionResponse struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// sessionDrawRequest is the body of a session draw.
type sessionDrawRequest struct {
	Min    int  `json:"min"`
	Max    int  `json:"max"`
	Count  int  `json:"count"`
	Unique bool `json:"unique"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *handler) handleDraw(w http.ResponseWriter, r *http.Request) {
	req, err := parseDrawQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.drawer.Generate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drawResponse{
		Numbers: result.Numbers,
		Source:  result.Provenance.String(),
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.reporter.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statusResponse{
		Exists:     status.Exists,
		Remaining:  status.Remaining,
		AgeMinutes: status.AgeMinutes,
	}
	if status.Exists {
		resp.Source = status.Provenance.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:     session.ID,
		Source: session.Provenance.String(),
	})
}

func (h *handler) handleSessionDraw(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	var body sessionDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.New(apperrors.CodeDrawInvalidCount, "invalid request body"))
		return
	}
	result, err := h.sessions.Draw(r.Context(), id, draw.Request{
		Min:    body.Min,
		Max:    body.Max,
		Count:  body.Count,
		Unique: body.Unique,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drawResponse{
		Numbers: result.Numbers,
		Source:  result.Provenance.String(),
	})
}

func (h *handler) handleSessionReseed(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	session, err := h.sessions.Reseed(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:     session.ID,
		Source: session.Provenance.String(),
	})
}

func (h *handler) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func parseDrawQuery(r *http.Request) (draw.Request, error) {
	query := r.URL.Query()
	min, err := parseIntParam(query.Get("min"), "min")
	if err != nil {
		return draw.Request{}, err
	}
	max, err := parseIntParam(query.Get("max"), "max")
	if err != nil {
		return draw.Request{}, err
	}
	count, err := parseIntParam(query.Get("count"), "count")
	if err != nil {
		return draw.Request{}, err
	}
	unique := false
	if raw := query.Get("unique"); raw != "" {
		unique, err = strconv.ParseBool(raw)
		if err != nil {
			return draw.Request{}, apperrors.New(apperrors.CodeDrawInvalidCount,
				"unique must be a boolean")
		}
	}
	return draw.Request{Min: min, Max: max, Count: count, Unique: unique}, nil
}

func parseIntParam(raw, name string) (int, error) {
	code := apperrors.CodeDrawInvalidRange
	if name == "count" {
		code = apperrors.CodeDrawInvalidCount
	}
	if raw == "" {
		return 0, apperrors.WithMetadata(code,
			name+" is required", map[string]string{"param": name})
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.WithMetadata(code,
			name+" must be an integer", map[string]string{"param": name})
	}
	return value, nil
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Code.HTTPStatus(), errorResponse{
			Code:    string(appErr.Code),
			Message: appErr.Message,
		})
		return
	}
	log.Printf("draw api internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:    string(apperrors.CodeUnknown),
		Message: "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
