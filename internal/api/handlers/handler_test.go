package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/warc-manager/internal/api/middleware"
	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/service"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubWorkflow — заглушка протокола с заранее заданными результатами.
type stubWorkflow struct {
	check    service.CheckResult
	confirm  service.ConfirmResult
	progress *model.Collection
	progErr  error

	gotID     string
	gotAction string
	gotEvent  service.ProgressEvent
	gotNotes  string
}

func (s *stubWorkflow) CheckCollection(_ context.Context, rawID string) service.CheckResult {
	s.gotID = rawID
	return s.check
}

func (s *stubWorkflow) ConfirmDownload(_ context.Context, rawID, action string) service.ConfirmResult {
	s.gotID, s.gotAction = rawID, action
	return s.confirm
}

func (s *stubWorkflow) ReportProgress(_ context.Context, rawID string, ev service.ProgressEvent, notes string) (*model.Collection, error) {
	s.gotID, s.gotEvent, s.gotNotes = rawID, ev, notes
	return s.progress, s.progErr
}

// stubCollections — заглушка чтения записей.
type stubCollections struct {
	get     *model.Collection
	getErr  error
	page    *service.CollectionPage
	listErr error

	gotStatus *model.CollectionStatus
	gotLimit  int
	gotOffset int
}

func (s *stubCollections) Get(_ context.Context, _ string) (*model.Collection, error) {
	return s.get, s.getErr
}

func (s *stubCollections) ListRecent(_ context.Context, st *model.CollectionStatus, limit, offset int) (*service.CollectionPage, error) {
	s.gotStatus, s.gotLimit, s.gotOffset = st, limit, offset
	return s.page, s.listErr
}

// stubProfiles — заглушка профилей.
type stubProfiles struct {
	profile *model.UserProfile
	err     error
	touched string
}

func (s *stubProfiles) Touch(_ context.Context, subject, username string) (*model.UserProfile, error) {
	s.touched = subject
	if s.err != nil {
		return nil, s.err
	}
	return s.profile, nil
}

// newTestRouter собирает chi-роутер с маршрутами обработчика.
func newTestRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/version", h.GetVersion)
	r.Get("/info", h.GetInfo)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Post("/collections/check", h.CheckCollection)
		r.Get("/collections", h.ListCollections)
		r.Get("/collections/{collectionID}", h.GetCollection)
		r.Post("/collections/{collectionID}/confirm", h.ConfirmDownload)
		r.Post("/collections/{collectionID}/progress", h.ReportProgress)
	})
	return r
}

func newTestHandler(wf Workflow, cols CollectionReader, profiles ProfileToucher) *APIHandler {
	return NewAPIHandler(NewHealthHandler(nil), wf, cols, profiles, ServiceInfo{ManifestURL: "https://arc.test/webdata"}, testLogger())
}

func serve(t *testing.T, h http.Handler, method, path, body string, claims *middleware.AuthClaims) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("невалидный JSON ответа: %v (%s)", err, rec.Body.String())
	}
	return m
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("ожидался объект error, получено %s", rec.Body.String())
	}
	code, _ := e["code"].(string)
	return code
}
