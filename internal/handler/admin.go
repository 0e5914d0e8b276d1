package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/service"
)

// AdminHandler serves the review dashboard. Every route sits behind
// auth.RequireAdmin.
type AdminHandler struct {
	svc    *service.AdminService
	logger *slog.Logger
}

func NewAdminHandler(svc *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

type decisionResponse struct {
	Success     bool               `json:"success"`
	Application *model.Application `json:"application"`
	Message     string             `json:"message"`
}

// HandleList returns every application, optionally filtered by status.
//
// HTTP: GET /api/applications/admin?status=PENDING
// RESPONSE: {"applications": [...], "total": n}
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applications []model.Application `json:"applications"`
		Total        int                 `json:"total"`
	}{Applications: apps, Total: len(apps)})
}

// HandleAction records APPROVE, REJECT or WAITLIST.
//
// HTTP: POST /api/applications/admin/action
// REQUEST BODY: {"applicationId": "...", "action": "APPROVE", "reason": "..."}
func (h *AdminHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req service.DecisionInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.svc.Decide(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		h.logger.InfoContext(r.Context(), "admin decision",
			slog.String("adminID", claims.ID),
			slog.String("applicationID", app.ID),
			slog.String("action", req.Action),
		)
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		Success:     true,
		Application: app,
		Message:     service.DecisionMessage(app.Status),
	})
}

// HandleReview moves a PENDING application to UNDER_REVIEW.
//
// HTTP: POST /api/applications/admin/review {"applicationId": "..."}
func (h *AdminHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApplicationID string `json:"applicationId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.svc.StartReview(r.Context(), req.ApplicationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		Success:     true,
		Application: app,
		Message:     "Application moved to review",
	})
}
