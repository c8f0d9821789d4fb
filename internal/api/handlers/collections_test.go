package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/service"
)

func TestCheckCollection(t *testing.T) {
	tests := []struct {
		name     string
		result   service.CheckResult
		wantCode int
		wantErr  string
	}{
		{
			name: "обзор",
			result: service.CheckResult{
				Kind: service.CheckOverview, CollectionID: "ARC-1",
				ItemCount: 3, SizeInBytes: 3 << 30, SizeInGigabytes: 3, Token: "ARC-1",
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "заблокировано",
			result:   service.CheckResult{Kind: service.CheckBlocked, CollectionID: "ARC-1", Status: model.StatusDownloadInProgress, Reason: "идёт загрузка"},
			wantCode: http.StatusConflict,
			wantErr:  "COLLECTION_BLOCKED",
		},
		{
			name:     "нет данных",
			result:   service.CheckResult{Kind: service.CheckNoData, CollectionID: "ARC-1", Err: service.ErrCollectionNotFound},
			wantCode: http.StatusNotFound,
			wantErr:  "NOT_FOUND",
		},
		{
			name:     "валидация",
			result:   service.CheckResult{Kind: service.CheckValidationError, Err: service.ErrValidation},
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_ERROR",
		},
		{
			name:     "сбой API",
			result:   service.CheckResult{Kind: service.CheckFailed, CollectionID: "ARC-1", Err: service.ErrIncompleteManifest},
			wantCode: http.StatusBadGateway,
			wantErr:  "REMOTE_UNAVAILABLE",
		},
		{
			name:     "сбой хранилища",
			result:   service.CheckResult{Kind: service.CheckFailed, CollectionID: "ARC-1", Err: fmt.Errorf("%w: db", service.ErrPersistence)},
			wantCode: http.StatusInternalServerError,
			wantErr:  "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &stubWorkflow{check: tt.result}
			router := newTestRouter(newTestHandler(wf, &stubCollections{}, nil))

			rec := serve(t, router, http.MethodPost, "/api/v1/collections/check", `{"collection_id":" ARC-1 "}`, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("ожидался статус %d, получен %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if wf.gotID != " ARC-1 " {
				t.Errorf("идентификатор должен передаваться как есть, получен %q", wf.gotID)
			}
			if tt.wantErr != "" {
				if code := errorCode(t, rec); code != tt.wantErr {
					t.Errorf("ожидался код %s, получен %s", tt.wantErr, code)
				}
			}
		})
	}
}

func TestCheckCollection_Bodies(t *testing.T) {
	wf := &stubWorkflow{check: service.CheckResult{
		Kind: service.CheckOverview, CollectionID: "ARC-1",
		ItemCount: 2, SizeInBytes: 1610612736, SizeInGigabytes: 1.5, Token: "ARC-1",
	}}
	router := newTestRouter(newTestHandler(wf, &stubCollections{}, nil))

	body := decodeBody(t, serve(t, router, http.MethodPost, "/api/v1/collections/check", `{"collection_id":"ARC-1"}`, nil))
	if body["item_count"] != float64(2) || body["size_in_gigabytes"] != 1.5 || body["token"] != "ARC-1" {
		t.Errorf("неверный обзор: %v", body)
	}

	wf.check = service.CheckResult{Kind: service.CheckBlocked, CollectionID: "ARC-1", Status: model.StatusDownloadComplete, Reason: "уже загружена"}
	body = decodeBody(t, serve(t, router, http.MethodPost, "/api/v1/collections/check", `{"collection_id":"ARC-1"}`, nil))
	if body["status"] != "download_complete" || body["status_label"] != "Download complete" {
		t.Errorf("неверный ответ блокировки: %v", body)
	}

	rec := serve(t, router, http.MethodPost, "/api/v1/collections/check", `{bad json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("невалидный JSON: ожидался 400, получен %d", rec.Code)
	}
}

func TestConfirmDownload(t *testing.T) {
	tests := []struct {
		name     string
		result   service.ConfirmResult
		wantCode int
		wantErr  string
	}{
		{"запущено", service.ConfirmResult{Kind: service.ConfirmStarted, CollectionID: "ARC-7", Status: model.StatusDownloadRequested}, http.StatusAccepted, ""},
		{"заблокировано", service.ConfirmResult{Kind: service.ConfirmBlocked, CollectionID: "ARC-7", Status: model.StatusDownloadRequested}, http.StatusConflict, "COLLECTION_BLOCKED"},
		{"нет записи", service.ConfirmResult{Kind: service.ConfirmBlocked, CollectionID: "ARC-7"}, http.StatusConflict, "COLLECTION_BLOCKED"},
		{"неизвестное действие", service.ConfirmResult{Kind: service.ConfirmMethodNotAllowed}, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"валидация", service.ConfirmResult{Kind: service.ConfirmValidationError, Err: service.ErrValidation}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"сбой", service.ConfirmResult{Kind: service.ConfirmFailed, Err: service.ErrPersistence}, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &stubWorkflow{confirm: tt.result}
			router := newTestRouter(newTestHandler(wf, &stubCollections{}, nil))

			rec := serve(t, router, http.MethodPost, "/api/v1/collections/ARC-7/confirm", `{"action":"really_start_download"}`, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("ожидался статус %d, получен %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if wf.gotID != "ARC-7" || wf.gotAction != service.ConfirmAction {
				t.Errorf("неверные аргументы: id=%q action=%q", wf.gotID, wf.gotAction)
			}
			if tt.wantErr != "" {
				if code := errorCode(t, rec); code != tt.wantErr {
					t.Errorf("ожидался код %s, получен %s", tt.wantErr, code)
				}
			} else if body := decodeBody(t, rec); body["status"] != "download_requested" {
				t.Errorf("ожидался status=download_requested, получен %v", body["status"])
			}
		})
	}
}

func TestConfirmDownload_EmptyBodyPassesEmptyAction(t *testing.T) {
	wf := &stubWorkflow{confirm: service.ConfirmResult{Kind: service.ConfirmMethodNotAllowed}}
	router := newTestRouter(newTestHandler(wf, &stubCollections{}, nil))

	rec := serve(t, router, http.MethodPost, "/api/v1/collections/ARC-7/confirm", `{}`, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("ожидался 405, получен %d", rec.Code)
	}
	if wf.gotAction != "" {
		t.Errorf("ожидалось пустое действие, получено %q", wf.gotAction)
	}
}

func testCollection() *model.Collection {
	size := int64(5 << 30)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Collection{
		ID:              "8f1c7c4e-2b0a-4f59-9a57-0d0f6d7d1a11",
		ArcCollectionID: "ARC-7",
		ItemCount:       4,
		SizeInBytes:     &size,
		Status:          model.StatusQueried,
		StatusHistory:   []model.StatusChange{{Status: model.StatusQueried, Timestamp: now}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestGetCollection(t *testing.T) {
	cols := &stubCollections{get: testCollection()}
	router := newTestRouter(newTestHandler(&stubWorkflow{}, cols, nil))

	rec := serve(t, router, http.MethodGet, "/api/v1/collections/ARC-7", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["collection_id"] != "ARC-7" || body["size_in_gigabytes"] != float64(5) || body["status_label"] != "Queried" {
		t.Errorf("неверная карточка: %v", body)
	}
	if h, ok := body["status_history"].([]any); !ok || len(h) != 1 {
		t.Errorf("ожидалась история из 1 записи: %v", body["status_history"])
	}

	cols.get, cols.getErr = nil, fmt.Errorf("%w: ARC-8", service.ErrNotFound)
	rec = serve(t, router, http.MethodGet, "/api/v1/collections/ARC-8", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получен %d", rec.Code)
	}

	cols.getErr = errors.New("connection reset")
	rec = serve(t, router, http.MethodGet, "/api/v1/collections/ARC-8", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("ожидался 500, получен %d", rec.Code)
	}
}

func TestListCollections(t *testing.T) {
	cols := &stubCollections{page: &service.CollectionPage{
		Items: []*model.Collection{testCollection()}, Total: 11, Limit: 5, Offset: 10,
	}}
	router := newTestRouter(newTestHandler(&stubWorkflow{}, cols, nil))

	rec := serve(t, router, http.MethodGet, "/api/v1/collections?status=queried&limit=5&offset=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if cols.gotStatus == nil || *cols.gotStatus != model.StatusQueried || cols.gotLimit != 5 || cols.gotOffset != 10 {
		t.Errorf("неверные параметры: status=%v limit=%d offset=%d", cols.gotStatus, cols.gotLimit, cols.gotOffset)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(11) {
		t.Errorf("ожидался total=11, получен %v", body["total"])
	}
	if items, ok := body["items"].([]any); !ok || len(items) != 1 {
		t.Errorf("ожидался 1 элемент: %v", body["items"])
	}

	rec = serve(t, router, http.MethodGet, "/api/v1/collections", "", nil)
	if rec.Code != http.StatusOK || cols.gotStatus != nil || cols.gotLimit != 0 {
		t.Errorf("без параметров: статус %d, status=%v limit=%d", rec.Code, cols.gotStatus, cols.gotLimit)
	}

	rec = serve(t, router, http.MethodGet, "/api/v1/collections?limit=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=abc: ожидался 400, получен %d", rec.Code)
	}

	cols.listErr = fmt.Errorf("%w: limit", service.ErrValidation)
	rec = serve(t, router, http.MethodGet, "/api/v1/collections?limit=500", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ошибка валидации сервиса: ожидался 400, получен %d", rec.Code)
	}
}

func TestReportProgress(t *testing.T) {
	c := testCollection()
	c.Status = model.StatusDownloadInProgress

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"успех", nil, http.StatusOK},
		{"валидация", fmt.Errorf("%w: событие", service.ErrValidation), http.StatusBadRequest},
		{"нет записи", fmt.Errorf("%w: ARC-7", service.ErrNotFound), http.StatusNotFound},
		{"недопустимый переход", fmt.Errorf("%w: x", service.ErrInvalidTransition), http.StatusConflict},
		{"сбой", fmt.Errorf("%w: db", service.ErrPersistence), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &stubWorkflow{progress: c, progErr: tt.err}
			if tt.err != nil {
				wf.progress = nil
			}
			router := newTestRouter(newTestHandler(wf, &stubCollections{}, nil))

			rec := serve(t, router, http.MethodPost, "/api/v1/collections/ARC-7/progress", `{"event":"in_progress","notes":"job 12"}`, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("ожидался статус %d, получен %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if wf.gotEvent != service.ProgressInProgress || wf.gotNotes != "job 12" || wf.gotID != "ARC-7" {
				t.Errorf("неверные аргументы: %q %q %q", wf.gotID, wf.gotEvent, wf.gotNotes)
			}
		})
	}
}
