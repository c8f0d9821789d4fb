// collections.go — обработчики /api/v1/collections.
// POST /check — обзор коллекции, POST /{collectionID}/confirm — подтверждение загрузки,
// POST /{collectionID}/progress — отчёт загрузчика, GET — список и карточка.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/warc-manager/internal/api/errors"
	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/service"
)

// --- Запросы и ответы ---

type checkRequest struct {
	CollectionID string `json:"collection_id"`
}

type confirmRequest struct {
	Action string `json:"action"`
}

type progressRequest struct {
	Event string `json:"event"`
	Notes string `json:"notes"`
}

type overviewResponse struct {
	CollectionID    string  `json:"collection_id"`
	ItemCount       int     `json:"item_count"`
	SizeInBytes     int64   `json:"size_in_bytes"`
	SizeInGigabytes float64 `json:"size_in_gigabytes"`
	Token           string  `json:"token"`
}

type confirmResponse struct {
	CollectionID string `json:"collection_id"`
	Status       string `json:"status"`
	StatusLabel  string `json:"status_label"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// blockedResponse — 409: коллекция уже запрошена, загружается или загружена.
type blockedResponse struct {
	Error        errorDetail `json:"error"`
	CollectionID string      `json:"collection_id"`
	Status       string      `json:"status"`
	StatusLabel  string      `json:"status_label"`
}

type statusChangeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type collectionResponse struct {
	ID              string                 `json:"id"`
	CollectionID    string                 `json:"collection_id"`
	ItemCount       int                    `json:"item_count"`
	SizeInBytes     *int64                 `json:"size_in_bytes"`
	SizeInGigabytes float64                `json:"size_in_gigabytes"`
	Status          string                 `json:"status"`
	StatusLabel     string                 `json:"status_label"`
	StatusHistory   []statusChangeResponse `json:"status_history"`
	Notes           string                 `json:"notes"`
	HasErrors       bool                   `json:"has_errors"`
	AllFilesOnArc   []model.FileEntry      `json:"all_files_on_arc,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

type collectionListResponse struct {
	Items  []collectionResponse `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// toCollectionResponse конвертирует доменную модель в ответ API.
func toCollectionResponse(c *model.Collection) collectionResponse {
	history := make([]statusChangeResponse, 0, len(c.StatusHistory))
	for _, ch := range c.StatusHistory {
		history = append(history, statusChangeResponse{Status: string(ch.Status), Timestamp: ch.Timestamp})
	}
	return collectionResponse{
		ID:              c.ID,
		CollectionID:    c.ArcCollectionID,
		ItemCount:       c.ItemCount,
		SizeInBytes:     c.SizeInBytes,
		SizeInGigabytes: c.SizeInGigabytes(),
		Status:          string(c.Status),
		StatusLabel:     c.Status.Label(),
		StatusHistory:   history,
		Notes:           c.Notes,
		HasErrors:       c.HasErrors,
		AllFilesOnArc:   c.AllFilesOnArc,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func writeBlocked(w http.ResponseWriter, id string, st model.CollectionStatus, reason string) {
	writeJSON(w, http.StatusConflict, blockedResponse{
		Error:        errorDetail{Code: apierrors.CodeCollectionBlocked, Message: reason},
		CollectionID: id,
		Status:       string(st),
		StatusLabel:  st.Label(),
	})
}

// --- Handlers ---

// CheckCollection — POST /api/v1/collections/check.
// 200 обзор, 409 заблокировано статусом, 404 нет данных, 400 валидация, 502/500 сбой.
func (h *APIHandler) CheckCollection(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Невалидное тело запроса: "+err.Error())
		return
	}

	res := h.workflow.CheckCollection(r.Context(), req.CollectionID)
	switch res.Kind {
	case service.CheckOverview:
		writeJSON(w, http.StatusOK, overviewResponse{
			CollectionID:    res.CollectionID,
			ItemCount:       res.ItemCount,
			SizeInBytes:     res.SizeInBytes,
			SizeInGigabytes: res.SizeInGigabytes,
			Token:           res.Token,
		})
	case service.CheckBlocked:
		writeBlocked(w, res.CollectionID, res.Status, res.Reason)
	case service.CheckNoData:
		apierrors.NotFound(w, fmt.Sprintf("Коллекция %s не найдена в удалённом архиве", res.CollectionID))
	case service.CheckValidationError:
		apierrors.ValidationError(w, errMessage(res.Err))
	default:
		if errors.Is(res.Err, service.ErrPersistence) {
			apierrors.InternalError(w, "Не удалось сохранить запись о коллекции")
			return
		}
		apierrors.RemoteUnavailable(w, errMessage(res.Err))
	}
}

// ConfirmDownload — POST /api/v1/collections/{collectionID}/confirm.
// 202 загрузка запрошена, 409 заблокировано, 405 неизвестное действие, 500 сбой.
func (h *APIHandler) ConfirmDownload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Невалидное тело запроса: "+err.Error())
		return
	}

	res := h.workflow.ConfirmDownload(r.Context(), chi.URLParam(r, "collectionID"), req.Action)
	switch res.Kind {
	case service.ConfirmStarted:
		writeJSON(w, http.StatusAccepted, confirmResponse{
			CollectionID: res.CollectionID,
			Status:       string(res.Status),
			StatusLabel:  res.Status.Label(),
		})
	case service.ConfirmBlocked:
		writeBlocked(w, res.CollectionID, res.Status, res.Reason)
	case service.ConfirmMethodNotAllowed:
		apierrors.MethodNotAllowed(w, fmt.Sprintf("Ожидается action=%s", service.ConfirmAction))
	case service.ConfirmValidationError:
		apierrors.ValidationError(w, errMessage(res.Err))
	default:
		apierrors.InternalError(w, "Не удалось подтвердить загрузку")
	}
}

// ReportProgress — POST /api/v1/collections/{collectionID}/progress.
// Доступ: Service Account загрузчика (scope downloads:report).
func (h *APIHandler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Невалидное тело запроса: "+err.Error())
		return
	}

	c, err := h.workflow.ReportProgress(r.Context(), chi.URLParam(r, "collectionID"), service.ProgressEvent(req.Event), req.Notes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionResponse(c))
}

// GetCollection — GET /api/v1/collections/{collectionID}.
func (h *APIHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.collections.Get(r.Context(), chi.URLParam(r, "collectionID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionResponse(c))
}

// ListCollections — GET /api/v1/collections?status=&limit=&offset=.
func (h *APIHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	var (
		statusParam *string
		limit       *int
		offset      *int
	)
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", q, &statusParam); err != nil {
		apierrors.ValidationError(w, "Неверный параметр status: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		apierrors.ValidationError(w, "Неверный параметр limit: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &offset); err != nil {
		apierrors.ValidationError(w, "Неверный параметр offset: "+err.Error())
		return
	}

	var st *model.CollectionStatus
	if statusParam != nil && *statusParam != "" {
		s := model.CollectionStatus(*statusParam)
		st = &s
	}
	l, o := 0, 0
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}

	page, err := h.collections.ListRecent(r.Context(), st, l, o)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]collectionResponse, 0, len(page.Items))
	for _, c := range page.Items {
		items = append(items, toCollectionResponse(c))
	}
	writeJSON(w, http.StatusOK, collectionListResponse{
		Items:  items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// writeServiceError маппит ошибки сервисного слоя в HTTP-ответы.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
