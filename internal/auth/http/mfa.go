package http

import (
	"net/http"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/pkg/authsdk"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
)

// MFAHandler serves the MFA settings endpoint.
type MFAHandler struct {
	MFA *service.MFAService
}

// ServeHTTP handles POST /mfa {action, token?}, behind AuthnMiddleware.
func (h *MFAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := httpx.PrincipalFrom(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req authsdk.MFARequest
	if !decode(w, r, &req) {
		return
	}

	action, ok := domain.ParseMFAAction(req.Action)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid action")
		return
	}

	switch action {
	case domain.MFAActionSetup:
		setup, err := h.MFA.Setup(ctx, p.ID, p.Email)
		if err != nil {
			writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.MFASetupResponse{
			Success:    true,
			Secret:     setup.Secret,
			OTPAuthURL: setup.OTPAuthURL,
			QRCode:     setup.QRCode,
		})

	case domain.MFAActionEnable:
		codes, err := h.MFA.Enable(ctx, p.ID, req.Token, requestMeta(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.MFAEnableResponse{Success: true, BackupCodes: codes})

	case domain.MFAActionDisable:
		if err := h.MFA.Disable(ctx, p.ID, req.Token, requestMeta(r)); err != nil {
			writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.SuccessResponse{Success: true, Message: "MFA disabled"})
	}
}
