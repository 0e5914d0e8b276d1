package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/service"
)

const stateCookie = "oauth_state"

// GoogleRedirect drives the server-side OAuth flow. *auth.GoogleProvider
// implements it.
type GoogleRedirect interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleIdentity, error)
}

// AuthHandler manages sign-up, sign-in and the session cookie.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin / HandleLogout → credentials accounts
//   - HandleGoogle → Google Identity Services credential from the browser
//   - HandleGoogleLogin / HandleGoogleCallback → redirect flow
//   - HandleVerifyEmail / HandleResendVerification → email confirmation
//   - HandleMe / HandleOAuthUsers → profile lookups behind RequireAuth
//
// The cookie is set here; AuthService only hands back the token.
type AuthHandler struct {
	svc    *service.AuthService
	google GoogleRedirect
	appURL string
	secure bool
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. google may be nil when Google
// sign-in is not configured. secure marks cookies Secure (production).
func NewAuthHandler(svc *service.AuthService, google GoogleRedirect, appURL string, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		google: google,
		appURL: appURL,
		secure: secure,
		logger: logger,
	}
}

type sessionResponse struct {
	Message string           `json:"message"`
	User    model.PublicUser `json:"user"`
	Token   string           `json:"token"`
}

type verifyResponse struct {
	Message  string `json:"message"`
	Verified bool   `json:"verified"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleRegister creates a credentials account.
//
// HTTP: POST /api/auth/register
// REQUEST BODY: {"email": "...", "password": "...", "name": "..."}
//
// No cookie is set: the account cannot sign in until its email is verified.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Message string           `json:"message"`
		User    model.PublicUser `json:"user"`
	}{
		Message: "Registration successful. Please check your email to verify your account.",
		User:    user.Public(),
	})
}

// HandleLogin checks credentials and sets the session cookie.
//
// HTTP: POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.startSession(w, res, "Login successful")
}

// HandleLogout clears the session cookie. The JWT itself stays valid until
// it expires; without the cookie the browser simply stops sending it.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secure)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// HandleGoogle signs in with a Google Identity Services credential.
//
// HTTP: POST /api/auth/google
// REQUEST BODY: {"credential": "<id token>"}
func (h *AuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.LoginWithGoogle(r.Context(), req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	h.startSession(w, res, "Google login successful")
}

// HandleGoogleLogin redirects the browser to Google's consent page.
//
// HTTP: GET /api/auth/google/login
//
// A random state goes into a short-lived HttpOnly cookie and into the
// consent URL; the callback only proceeds when the two match.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.Upstream("Server configuration error. Please contact support.", auth.ErrGoogleDisabled))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the redirect flow.
//
// HTTP: GET /api/auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code and verify the returned id_token
//  3. Run the same account exchange as HandleGoogle
//  4. Set the session cookie and redirect to the dashboard
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.Upstream("Server configuration error. Please contact support.", auth.ErrGoogleDisabled))
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		h.logger.Warn("google callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("google callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		h.redirectToLogin(w, r, "Google sign-in was cancelled.")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	identity, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		h.redirectToLogin(w, r, "Invalid Google token.")
		return
	}

	res, err := h.svc.LoginWithGoogleIdentity(r.Context(), identity)
	if err != nil {
		msg := "Authentication failed."
		if appErr, ok := asAppError(err); ok {
			msg = appErr.Message
		} else {
			h.logger.Error("google callback: sign-in failed", slog.String("error", err.Error()))
		}
		h.redirectToLogin(w, r, msg)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.secure)
	http.Redirect(w, r, h.appURL+"/dashboard", http.StatusSeeOther)
}

// HandleVerifyEmail consumes a verification link. GET serves the link from
// the mail directly; POST is what the web client's verify page sends.
//
// HTTP: GET /api/auth/verify-email?token=xxx
// HTTP: POST /api/auth/verify-email {"token": "xxx"}
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost {
		var req struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		token = req.Token
	}

	res, err := h.svc.VerifyEmail(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Message: res.Message, Verified: true})
}

// HandleResendVerification mails a fresh verification link.
//
// HTTP: POST /api/auth/resend-verification {"email": "..."}
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.ResendVerification(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.AlreadyVerified {
		writeJSON(w, http.StatusOK, verifyResponse{Message: res.Message, Verified: true})
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: res.Message})
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/auth/me
// Auth: Required (RequireAuth puts the session claims in the context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		User model.PublicUser `json:"user"`
	}{User: user.Public()})
}

// HandleOAuthUsers lists every account with its sign-in methods. The
// session's own account must still exist.
//
// HTTP: GET /api/auth/oauth-users
// Auth: Required
func (h *AuthHandler) HandleOAuthUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if _, err := h.svc.Me(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Users []model.User `json:"users"`
	}{Users: users})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, res *service.AuthResult, message string) {
	auth.SetSessionCookie(w, res.Token, h.secure)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message: message,
		User:    res.User.Public(),
		Token:   res.Token,
	})
}

func (h *AuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, h.appURL+"/login?error="+url.QueryEscape(msg), http.StatusSeeOther)
}
