// handler.go — основной обработчик API WARC Manager.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/service"
)

// Workflow — протокол check → confirm (реализуется *service.Workflow).
type Workflow interface {
	CheckCollection(ctx context.Context, rawID string) service.CheckResult
	ConfirmDownload(ctx context.Context, rawID, action string) service.ConfirmResult
	ReportProgress(ctx context.Context, rawID string, ev service.ProgressEvent, notes string) (*model.Collection, error)
}

// CollectionReader — чтение записей (реализуется *service.CollectionService).
type CollectionReader interface {
	Get(ctx context.Context, rawID string) (*model.Collection, error)
	ListRecent(ctx context.Context, st *model.CollectionStatus, limit, offset int) (*service.CollectionPage, error)
}

// ProfileToucher — профиль текущего пользователя (реализуется *service.ProfileService).
type ProfileToucher interface {
	Touch(ctx context.Context, subject, username string) (*model.UserProfile, error)
}

// ServiceInfo — сведения о сервисе для /info.
type ServiceInfo struct {
	AuthEnabled  bool
	RedisEnabled bool
	ManifestURL  string
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	health      *HealthHandler
	workflow    Workflow
	collections CollectionReader
	profiles    ProfileToucher
	info        ServiceInfo
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API. profiles может быть nil.
func NewAPIHandler(
	health *HealthHandler,
	workflow Workflow,
	collections CollectionReader,
	profiles ProfileToucher,
	info ServiceInfo,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		workflow:    workflow,
		collections: collections,
		profiles:    profiles,
		info:        info,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает JSON-тело запроса не больше 1 МиБ.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst)
}
