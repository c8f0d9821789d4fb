// auth.go — JWT middleware для аутентификации и авторизации WARC Manager.
// Извлекает claims из JWT IdP, определяет тип субъекта (пользователь / Service Account),
// маппит группы в роли. Право на запуск загрузок дополнительно учитывает
// локальный профиль пользователя (user_profiles.can_initiate_downloads).
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/warc-manager/internal/api/errors"
	"github.com/bigkaa/warc-manager/internal/domain/rbac"
	"github.com/bigkaa/warc-manager/internal/tlsutil"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// SubjectType — тип субъекта JWT.
type SubjectType string

const (
	// SubjectTypeUser — пользователь (OIDC).
	SubjectTypeUser SubjectType = "user"
	// SubjectTypeSA — Service Account (Client Credentials), например загрузчик.
	SubjectTypeSA SubjectType = "service_account"
)

// AuthClaims — обработанные claims, доступные handlers через контекст.
type AuthClaims struct {
	// Subject — sub из JWT.
	Subject string
	// SubjectType — тип субъекта.
	SubjectType SubjectType
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Email — email из JWT.
	Email string
	// Groups — группы пользователя.
	Groups []string
	// Role — роль, вычисленная из групп (viewer, downloader, admin или "").
	Role string
	// Scopes — scopes Service Account.
	Scopes []string
	// ClientID — client_id Service Account.
	ClientID string
}

// HasScope проверяет наличие указанного scope.
func (c *AuthClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// HasAnyScope проверяет наличие хотя бы одного из указанных scopes.
func (c *AuthClaims) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}

// ProfileProvider — источник локального флага can_initiate_downloads.
// Реализуется service.ProfileService.
type ProfileProvider interface {
	CanInitiateDownloads(ctx context.Context, subject string) (bool, error)
}

// idpClaims — raw claims из JWT для парсинга.
type idpClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	Email             string       `json:"email"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
	// Scope — scopes через пробел (для Service Account).
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// realmAccess — вложенная структура realm_access.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth проверяет bearer-токены IdP по ключам JWKS.
type JWTAuth struct {
	keys    keyfunc.Keyfunc
	parser  *jwt.Parser
	mapping rbac.GroupMapping
	logger  *slog.Logger
}

// JWTConfig — параметры проверки токенов (переменные WM_JWT_* и WM_JWKS_*).
type JWTConfig struct {
	JWKSURL         string
	CACertPath      string
	Issuer          string
	Mapping         rbac.GroupMapping
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// NewJWTAuth загружает JWKS в фоне и возвращает middleware.
// Недоступность IdP при старте не ошибка: ключи подтянутся при обновлении.
func NewJWTAuth(cfg JWTConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := tlsutil.HTTPClient(cfg.CACertPath, cfg.ClientTimeout)
	if err != nil {
		return nil, fmt.Errorf("HTTP-клиент JWKS: %w", err)
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ключи JWKS не обновлены",
				slog.String("url", cfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS storage: %w", err)
	}

	keys, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return newJWTAuth(keys, cfg.Issuer, cfg.Leeway, cfg.Mapping, logger), nil
}

// NewJWTAuthWithKeyfunc — вариант с готовым набором ключей (тесты, статический JWKS).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, mapping rbac.GroupMapping, logger *slog.Logger) *JWTAuth {
	return newJWTAuth(kf, issuer, 0, mapping, logger)
}

func newJWTAuth(keys keyfunc.Keyfunc, issuer string, leeway time.Duration, mapping rbac.GroupMapping, logger *slog.Logger) *JWTAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTAuth{
		keys:    keys,
		parser:  jwt.NewParser(opts...),
		mapping: mapping,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// bearerToken достаёт токен из Authorization. Вторым значением — причина отказа.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Ожидается Authorization: Bearer <token>"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// Middleware кладёт AuthClaims в контекст; без валидного токена — 401.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, reason := bearerToken(r)
			if reason != "" {
				apierrors.Unauthorized(w, reason)
				return
			}

			var parsed idpClaims
			if _, err := j.parser.ParseWithClaims(raw, &parsed, j.keys.KeyfuncCtx(r.Context())); err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if parsed.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), j.buildAuthClaims(&parsed))))
		})
	}
}

// buildAuthClaims формирует AuthClaims из raw claims.
func (j *JWTAuth) buildAuthClaims(raw *idpClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
		Email:             raw.Email,
	}

	// Service Account имеет client_id и scope, пользователь — группы.
	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.Groups = raw.Groups
	claims.Role = rbac.MapGroupsToRole(claims.Groups, j.mapping)

	// Если группы не дали роли, пробуем realm_access.roles
	if claims.Role == "" && raw.RealmAccess != nil {
		var mapped []string
		for _, r := range raw.RealmAccess.Roles {
			if rbac.IsValidRole(r) {
				mapped = append(mapped, r)
			}
		}
		claims.Role = rbac.HighestRole(mapped)
	}

	return claims
}

// AnonymousAuth — middleware для WM_AUTH_ENABLED=false.
// Каждый запрос выполняется от имени локального администратора.
func AnonymousAuth() func(http.Handler) http.Handler {
	claims := &AuthClaims{
		Subject:           "anonymous",
		SubjectType:       SubjectTypeUser,
		PreferredUsername: "anonymous",
		Role:              rbac.RoleAdmin,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// --- RBAC middleware helpers ---

// RequireScope пропускает только Service Accounts с одним из scopes.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			if claims.SubjectType != SubjectTypeSA {
				apierrors.Forbidden(w, "Доступ разрешён только для Service Accounts")
				return
			}

			if !claims.HasAnyScope(scopes...) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleOrScope пропускает пользователей с ролью не ниже minRole
// ИЛИ Service Accounts с одним из указанных scopes.
func RequireRoleOrScope(minRole string, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			switch claims.SubjectType {
			case SubjectTypeUser:
				if rbac.AtLeast(claims.Role, minRole) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, "Недостаточно прав: требуется роль "+minRole)

			case SubjectTypeSA:
				if claims.HasAnyScope(scopes...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))

			default:
				apierrors.Forbidden(w, "Неизвестный тип субъекта")
			}
		})
	}
}

// RequireDownloadCapability пропускает субъектов, которым разрешено подтверждать загрузки:
// пользователей с ролью downloader/admin или флагом профиля can_initiate_downloads,
// Service Accounts со scope downloads:write.
// Профиль запрашивается только если роли недостаточно. profiles может быть nil.
func RequireDownloadCapability(profiles ProfileProvider, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "download_capability"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			switch claims.SubjectType {
			case SubjectTypeSA:
				if claims.HasScope(rbac.ScopeDownloadsWrite) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+rbac.ScopeDownloadsWrite)
				return

			case SubjectTypeUser:
				if rbac.CanInitiateDownloads(claims.Role, false) {
					next.ServeHTTP(w, r)
					return
				}
				flag := false
				if profiles != nil {
					var err error
					flag, err = profiles.CanInitiateDownloads(r.Context(), claims.Subject)
					if err != nil {
						log.Error("Ошибка чтения профиля пользователя",
							slog.String("subject", claims.Subject),
							slog.String("error", err.Error()),
						)
						apierrors.InternalError(w, "Не удалось проверить права пользователя")
						return
					}
				}
				if rbac.CanInitiateDownloads(claims.Role, flag) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, "Пользователю не разрешено запускать загрузки")

			default:
				apierrors.Forbidden(w, "Неизвестный тип субъекта")
			}
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// WithClaims помещает claims в контекст (для тестов handlers).
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// --- Readiness IdP ---

// JWKSReadinessChecker запрашивает JWKS и считает ключи.
// Недоступный endpoint — fail, ответ без ключей — degraded.
type JWKSReadinessChecker struct {
	url    string
	client *http.Client
}

// NewJWKSReadinessChecker создаёт checker JWKS endpoint.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client, err := tlsutil.HTTPClient(caCertPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("HTTP-клиент JWKS readiness: %w", err)
	}
	return &JWKSReadinessChecker{url: jwksURL, client: client}, nil
}

// CheckReady проверяет JWKS endpoint.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	resp, err := k.client.Get(k.url) //nolint:gosec,noctx // URL из конфигурации, таймаут в клиенте
	if err != nil {
		return "fail", "JWKS недоступен: " + err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("JWKS: статус %d", resp.StatusCode)
	}

	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}
	switch err := json.NewDecoder(resp.Body).Decode(&set); {
	case err != nil:
		return "degraded", "JWKS: тело не JSON: " + err.Error()
	case len(set.Keys) == 0:
		return "degraded", "JWKS: пустой набор ключей"
	}
	return "ok", fmt.Sprintf("JWKS: ключей %d", len(set.Keys))
}
