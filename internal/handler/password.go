package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/student-crm/internal/service"
)

// PasswordHandler serves the three forgot-password steps.
type PasswordHandler struct {
	svc    *service.PasswordResetService
	logger *slog.Logger
}

func NewPasswordHandler(svc *service.PasswordResetService, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{svc: svc, logger: logger}
}

// HandleForgotPassword mails a reset code.
//
// HTTP: POST /api/auth/forgot-password {"email": "..."}
//
// Unknown emails get the same 200 as known ones.
func (h *PasswordHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.svc.RequestReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// HandleVerifyOTP trades the mailed code for a short-lived reset token.
//
// HTTP: POST /api/auth/verify-otp {"email": "...", "otp": "123456"}
func (h *PasswordHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	grant, err := h.svc.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message    string `json:"message"`
		ResetToken string `json:"resetToken"`
	}{
		Message:    "OTP verified successfully.",
		ResetToken: grant,
	})
}

// HandleResetPassword sets the new password.
//
// HTTP: POST /api/auth/reset-password {"email", "resetToken", "newPassword"}
func (h *PasswordHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		ResetToken  string `json:"resetToken"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Email, req.ResetToken, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Password reset successfully. You can now sign in with your new password.",
	})
}
