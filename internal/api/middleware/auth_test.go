package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/warc-manager/internal/domain/rbac"
)

const (
	testKeyID  = "test-key-wm"
	testIssuer = "https://idp.test/realms/warc"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockProfiles — мок ProfileProvider.
type mockProfiles struct {
	allowed map[string]bool
	err     error
	calls   int
}

func (m *mockProfiles) CanInitiateDownloads(_ context.Context, subject string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.allowed[subject], nil
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testMapping() rbac.GroupMapping {
	return rbac.GroupMapping{
		AdminGroups:      []string{"warc-admins"},
		DownloaderGroups: []string{"warc-downloaders"},
		ViewerGroups:     []string{"warc-viewers"},
	}
}

// newTestJWTAuth создаёт JWTAuth с mock JWKS.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testMapping(), testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// generateUserToken генерирует JWT пользователя.
func generateUserToken(t *testing.T, key *rsa.PrivateKey, sub string, groups []string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "user-" + sub,
		"email":              sub + "@test.org",
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	return signToken(t, key, claims)
}

// generateSAToken генерирует JWT Service Account.
func generateSAToken(t *testing.T, key *rsa.PrivateKey, sub, clientID, scope string) string {
	t.Helper()
	return signToken(t, key, jwt.MapClaims{
		"sub":       sub,
		"client_id": clientID,
		"scope":     scope,
		"iss":       testIssuer,
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":       jwt.NewNumericDate(time.Now()),
	})
}

func doRequest(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestJWTAuth_ValidUserToken — валидный JWT пользователя, роль из групп.
func TestJWTAuth_ValidUserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := doRequest(t, handler, generateUserToken(t, key, "u-1", []string{"warc-viewers", "warc-downloaders"}, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.SubjectType != SubjectTypeUser {
		t.Errorf("ожидался SubjectType=user, получен %s", got.SubjectType)
	}
	if got.Role != rbac.RoleDownloader {
		t.Errorf("ожидалась роль downloader, получена %q", got.Role)
	}
	if got.PreferredUsername != "user-u-1" || got.Email != "u-1@test.org" {
		t.Errorf("неверные username/email: %q %q", got.PreferredUsername, got.Email)
	}
}

// TestJWTAuth_RealmRolesFallback — роль из realm_access.roles, если группы не сопоставлены.
func TestJWTAuth_RealmRolesFallback(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))

	token := signToken(t, key, jwt.MapClaims{
		"sub":          "u-2",
		"iss":          testIssuer,
		"exp":          jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"realm_access": map[string]any{"roles": []string{"offline_access", "viewer"}},
	})
	doRequest(t, handler, token)

	if got == nil || got.Role != rbac.RoleViewer {
		t.Errorf("ожидалась роль viewer, получены claims %+v", got)
	}
}

// TestJWTAuth_ValidSAToken — валидный JWT Service Account.
func TestJWTAuth_ValidSAToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))

	doRequest(t, handler, generateSAToken(t, key, "sa-1", "warc-downloader", "openid downloads:report"))

	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.SubjectType != SubjectTypeSA {
		t.Errorf("ожидался SubjectType=service_account, получен %s", got.SubjectType)
	}
	if !got.HasScope(rbac.ScopeDownloadsReport) || got.HasScope(rbac.ScopeDownloadsWrite) {
		t.Errorf("неверные scopes: %v", got.Scopes)
	}
	if got.ClientID != "warc-downloader" {
		t.Errorf("ожидался ClientID=warc-downloader, получен %s", got.ClientID)
	}
}

// TestJWTAuth_Rejected — отказ в аутентификации.
func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(okHandler())

	wrongIssuer := signToken(t, key, jwt.MapClaims{
		"sub": "u-1",
		"iss": "https://evil.test",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noExp := signToken(t, key, jwt.MapClaims{"sub": "u-1", "iss": testIssuer})
	noSub := signToken(t, key, jwt.MapClaims{
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not-a-jwt"},
		{"просрочен", "Bearer " + generateUserToken(t, key, "u-1", nil, true)},
		{"чужой ключ", "Bearer " + generateUserToken(t, otherKey, "u-1", nil, false)},
		{"чужой issuer", "Bearer " + wrongIssuer},
		{"без exp", "Bearer " + noExp},
		{"без sub", "Bearer " + noSub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestRequireRoleOrScope проверяет доступ пользователей и Service Accounts.
func TestRequireRoleOrScope(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(RequireRoleOrScope(rbac.RoleViewer, rbac.ScopeCollectionsRead)(okHandler()))

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"viewer", generateUserToken(t, key, "u-1", []string{"warc-viewers"}, false), http.StatusOK},
		{"admin", generateUserToken(t, key, "u-2", []string{"warc-admins"}, false), http.StatusOK},
		{"без роли", generateUserToken(t, key, "u-3", []string{"hr"}, false), http.StatusForbidden},
		{"SA с scope", generateSAToken(t, key, "sa-1", "reader", rbac.ScopeCollectionsRead), http.StatusOK},
		{"SA без scope", generateSAToken(t, key, "sa-2", "reader", "openid"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doRequest(t, handler, tt.token); rec.Code != tt.want {
				t.Errorf("ожидался статус %d, получен %d", tt.want, rec.Code)
			}
		})
	}
}

// TestRequireScope проверяет, что пользователи не проходят SA-only эндпоинт.
func TestRequireScope(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(RequireScope(rbac.ScopeDownloadsReport)(okHandler()))

	if rec := doRequest(t, handler, generateSAToken(t, key, "sa-1", "dl", rbac.ScopeDownloadsReport)); rec.Code != http.StatusOK {
		t.Errorf("SA с downloads:report: ожидался 200, получен %d", rec.Code)
	}
	if rec := doRequest(t, handler, generateSAToken(t, key, "sa-1", "dl", rbac.ScopeDownloadsWrite)); rec.Code != http.StatusForbidden {
		t.Errorf("SA без downloads:report: ожидался 403, получен %d", rec.Code)
	}
	if rec := doRequest(t, handler, generateUserToken(t, key, "u-1", []string{"warc-admins"}, false)); rec.Code != http.StatusForbidden {
		t.Errorf("пользователь: ожидался 403, получен %d", rec.Code)
	}
}

// TestRequireDownloadCapability проверяет право подтверждать загрузки.
func TestRequireDownloadCapability(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	profiles := &mockProfiles{allowed: map[string]bool{"flagged": true}}
	handler := auth.Middleware()(RequireDownloadCapability(profiles, testLogger())(okHandler()))

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"downloader", generateUserToken(t, key, "u-1", []string{"warc-downloaders"}, false), http.StatusOK},
		{"viewer без флага", generateUserToken(t, key, "u-2", []string{"warc-viewers"}, false), http.StatusForbidden},
		{"viewer с флагом профиля", generateUserToken(t, key, "flagged", []string{"warc-viewers"}, false), http.StatusOK},
		{"SA с downloads:write", generateSAToken(t, key, "sa-1", "bot", rbac.ScopeDownloadsWrite), http.StatusOK},
		{"SA без downloads:write", generateSAToken(t, key, "sa-2", "bot", rbac.ScopeDownloadsReport), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doRequest(t, handler, tt.token); rec.Code != tt.want {
				t.Errorf("ожидался статус %d, получен %d, тело: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// TestRequireDownloadCapability_ProfileLookup проверяет, что профиль читается только при нехватке роли.
func TestRequireDownloadCapability_ProfileLookup(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	profiles := &mockProfiles{}
	handler := auth.Middleware()(RequireDownloadCapability(profiles, testLogger())(okHandler()))
	doRequest(t, handler, generateUserToken(t, key, "u-1", []string{"warc-admins"}, false))
	if profiles.calls != 0 {
		t.Errorf("для admin профиль не должен читаться, вызовов: %d", profiles.calls)
	}

	failing := &mockProfiles{err: errors.New("db down")}
	handler = auth.Middleware()(RequireDownloadCapability(failing, testLogger())(okHandler()))
	rec := doRequest(t, handler, generateUserToken(t, key, "u-2", []string{"warc-viewers"}, false))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("ошибка профиля: ожидался 500, получен %d", rec.Code)
	}

	handler = RequireDownloadCapability(nil, testLogger())(okHandler())
	if rec := doRequest(t, handler, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("без claims: ожидался 401, получен %d", rec.Code)
	}
}

// TestAnonymousAuth проверяет режим без аутентификации.
func TestAnonymousAuth(t *testing.T) {
	handler := AnonymousAuth()(RequireDownloadCapability(nil, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.Role != rbac.RoleAdmin {
			t.Errorf("ожидались claims администратора, получены %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	})))

	if rec := doRequest(t, handler, ""); rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

// TestJWKSReadinessChecker проверяет readiness IdP.
func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ключи есть", http.StatusOK, string(jwks), "ok"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"не JSON", http.StatusOK, "oops", "degraded"},
		{"503", http.StatusServiceUnavailable, "", "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			t.Cleanup(server.Close)

			checker, err := NewJWKSReadinessChecker(server.URL, "", time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if status, msg := checker.CheckReady(); status != tt.want {
				t.Errorf("ожидался %s, получен %s (%s)", tt.want, status, msg)
			}
		})
	}

	if _, err := NewJWKSReadinessChecker("http://x", "/nonexistent/ca.pem", time.Second); err == nil {
		t.Error("ожидалась ошибка для отсутствующего CA-сертификата")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header     string
		wantToken  string
		wantReject bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer  abc ", "abc", false},
		{"", "", true},
		{"Basic dXNlcjpwYXNz", "", true},
		{"Bearer", "", true},
		{"Bearer    ", "", true},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		token, reason := bearerToken(req)
		if token != tt.wantToken || (reason != "") != tt.wantReject {
			t.Errorf("bearerToken(%q) = %q, %q", tt.header, token, reason)
		}
	}
}

// TestNewJWTAuth_BadCA проверяет, что битый CA-сертификат IdP не даёт создать middleware.
func TestNewJWTAuth_BadCA(t *testing.T) {
	_, err := NewJWTAuth(JWTConfig{
		JWKSURL:    "https://idp.test/certs",
		CACertPath: "/nonexistent/ca.pem",
	}, testLogger())
	if err == nil {
		t.Error("ожидалась ошибка для отсутствующего CA-сертификата")
	}
}
