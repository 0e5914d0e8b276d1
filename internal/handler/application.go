package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/service"
)

// ApplicationHandler serves the public application form.
type ApplicationHandler struct {
	svc    *service.ApplicationService
	logger *slog.Logger
}

func NewApplicationHandler(svc *service.ApplicationService, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{svc: svc, logger: logger}
}

// HandleSubmit stores a new application.
//
// HTTP: POST /api/applications
// RESPONSE: 201 {"success": true, "applicationId": "...", "message": "..."}
func (h *ApplicationHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Success       bool   `json:"success"`
		ApplicationID string `json:"applicationId"`
		Message       string `json:"message"`
	}{
		Success:       true,
		ApplicationID: app.ID,
		Message:       "Application submitted successfully",
	})
}

// HandleGet looks applications up by id or by applicant email.
//
// HTTP: GET /api/applications?id=xxx   → {"application": {...}}
// HTTP: GET /api/applications?email=xx → {"applications": [...]}
func (h *ApplicationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if id := q.Get("id"); id != "" {
		app, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Application *model.Application `json:"application"`
		}{Application: app})
		return
	}

	apps, err := h.svc.ListByEmail(r.Context(), q.Get("email"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applications []model.Application `json:"applications"`
	}{Applications: apps})
}

// HandleProgress scores a draft of the form.
//
// HTTP: POST /api/applications/progress → {"progress": 0-100}
func (h *ApplicationHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Progress int `json:"progress"`
	}{Progress: service.Progress(&req)})
}
