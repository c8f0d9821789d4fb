// info.go — сведения о сервисе и текущем субъекте.
// GET /info, GET /version — публичные; GET /api/v1/me — после аутентификации.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/warc-manager/internal/api/errors"
	"github.com/bigkaa/warc-manager/internal/api/middleware"
	"github.com/bigkaa/warc-manager/internal/config"
	"github.com/bigkaa/warc-manager/internal/domain/rbac"
	"github.com/bigkaa/warc-manager/internal/service"
)

type versionResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type infoResponse struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	AuthEnabled   bool   `json:"auth_enabled"`
	RedisEnabled  bool   `json:"redis_enabled"`
	ManifestURL   string `json:"manifest_url"`
	ConfirmAction string `json:"confirm_action"`
}

type meResponse struct {
	Subject              string   `json:"subject"`
	SubjectType          string   `json:"subject_type"`
	Username             string   `json:"username,omitempty"`
	Email                string   `json:"email,omitempty"`
	Role                 string   `json:"role,omitempty"`
	Groups               []string `json:"groups,omitempty"`
	Scopes               []string `json:"scopes,omitempty"`
	CanInitiateDownloads bool     `json:"can_initiate_downloads"`
}

// GetVersion — GET /version.
func (h *APIHandler) GetVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{Service: serviceName, Version: config.Version})
}

// GetInfo — GET /info.
func (h *APIHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Service:       serviceName,
		Version:       config.Version,
		AuthEnabled:   h.info.AuthEnabled,
		RedisEnabled:  h.info.RedisEnabled,
		ManifestURL:   h.info.ManifestURL,
		ConfirmAction: service.ConfirmAction,
	})
}

// GetMe — GET /api/v1/me.
// Для пользователя обновляет локальный профиль и вычисляет право на загрузку.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	resp := meResponse{
		Subject:     claims.Subject,
		SubjectType: string(claims.SubjectType),
		Username:    claims.PreferredUsername,
		Email:       claims.Email,
		Role:        claims.Role,
		Groups:      claims.Groups,
		Scopes:      claims.Scopes,
	}

	if claims.SubjectType == middleware.SubjectTypeSA {
		resp.Username = claims.ClientID
		resp.CanInitiateDownloads = claims.HasScope(rbac.ScopeDownloadsWrite)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	flag := false
	if h.profiles != nil {
		profile, err := h.profiles.Touch(r.Context(), claims.Subject, claims.PreferredUsername)
		if err != nil {
			h.logger.Error("Ошибка обновления профиля пользователя",
				slog.String("subject", claims.Subject),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Не удалось обновить профиль пользователя")
			return
		}
		flag = profile.CanInitiateDownloads
	}
	resp.CanInitiateDownloads = rbac.CanInitiateDownloads(claims.Role, flag)

	writeJSON(w, http.StatusOK, resp)
}
