package http

import (
	"net/http"

	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/pkg/authsdk"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
)

// SessionHandler serves the credential and session endpoints.
type SessionHandler struct {
	Sessions *service.SessionService
}

// HandleRegister handles POST /register.
func (h *SessionHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	profile, err := h.Sessions.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":              true,
		"message":              "Registration successful. Please verify your email.",
		"user":                 profile,
		"verificationRequired": true,
	})
}

// HandleLogin handles POST /login. An account with MFA enabled and no
// mfaToken in the request gets a 200 prompt rather than an error.
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Sessions.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		MFAToken:   req.MFAToken,
		RememberMe: req.RememberMe,
	}, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.MFARequired {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":     false,
			"mfaRequired": true,
			"message":     "MFA token required",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"user":    res.User,
		"tokens":  res.Tokens,
	})
}

// HandleRefresh handles POST /refresh.
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	tokens, err := h.Sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tokens":  tokens,
	})
}

// HandleLogout handles POST /logout, behind AuthnMiddleware.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := httpx.PrincipalFrom(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.Sessions.Logout(ctx, p, httpx.BearerFrom(ctx), requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.SuccessResponse{Success: true, Message: "Logged out successfully"})
}

// HandleProfile handles GET /profile, behind AuthnMiddleware.
func (h *SessionHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	profile, err := h.Sessions.Profile(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    profile,
	})
}

// HandleVerifyEmail handles POST /verify-email.
func (h *SessionHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req authsdk.VerifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Sessions.VerifyEmail(r.Context(), req.Token, requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.SuccessResponse{Success: true, Message: "Email verified"})
}
