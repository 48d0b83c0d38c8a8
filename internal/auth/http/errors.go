package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

var statusByKind = map[service.Kind]int{
	service.KindValidation:     http.StatusBadRequest,
	service.KindAuthentication: http.StatusUnauthorized,
	service.KindAuthorization:  http.StatusForbidden,
	service.KindConflict:       http.StatusConflict,
	service.KindNotFound:       http.StatusNotFound,
}

// writeError is the single mapping from service failures to responses.
// Unclassified errors never leak their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		if status, ok := statusByKind[se.Kind]; ok {
			httpx.WriteErrorCode(w, status, se.Message, se.Reason)
			return
		}
	}

	slogx.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	httpx.WriteError(w, http.StatusInternalServerError, "Internal server error")
}

// decode reads a JSON body. A malformed body is a validation failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(r, maxBodyBytes, v); err != nil {
		slogx.FromContext(r.Context()).Warn("failed to parse request", slog.Any("error", err))
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		IPAddress: httpx.IPKeyExtractor(r),
		UserAgent: r.UserAgent(),
	}
}
