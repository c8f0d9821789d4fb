// Пакет manifestclient — HTTP-клиент удалённого API манифестов коллекций.
// Одна операция — FetchPage: аутентифицированный GET одной страницы манифеста.
// Поддерживает Basic-аутентификацию и TLS с кастомным CA (WM_MANIFEST_CA_CERT_PATH).
// Повторных попыток нет: любая ошибка возвращается вызывающему.
package manifestclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/tlsutil"
)

// Ошибки клиента.
var (
	// ErrRemoteUnavailable — транспортная ошибка, таймаут или статус, отличный от 200.
	ErrRemoteUnavailable = errors.New("API манифестов недоступен")
	// ErrMalformedResponse — тело ответа не соответствует ожидаемой структуре.
	ErrMalformedResponse = errors.New("некорректный ответ API манифестов")
)

// maxBodyBytes — предел размера тела одной страницы.
const maxBodyBytes = 64 << 20

// Config — параметры клиента.
type Config struct {
	// BaseURL — адрес API, к которому добавляется ?collection=<id>
	BaseURL string
	// Username, Password — пара для Basic-аутентификации (пустая — без авторизации)
	Username string
	Password string
	// Timeout — таймаут одного запроса
	Timeout time.Duration
	// CACertPath — путь к CA-сертификату (пустая строка — системный пул)
	CACertPath string
}

// PageResult — одна страница манифеста.
type PageResult struct {
	// Count — общее количество файлов коллекции по данным API
	Count int
	// Files — файлы этой страницы
	Files []model.FileEntry
	// Next — абсолютный URL следующей страницы (nil — последняя страница)
	Next *string
}

// pageBody — JSON-тело ответа API.
type pageBody struct {
	Count *int              `json:"count"`
	Files []model.FileEntry `json:"files"`
	Next  *string           `json:"next"`
}

// Client — HTTP-клиент API манифестов.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	logger     *slog.Logger
}

// New создаёт клиент API манифестов.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("не задан базовый URL API манифестов")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient, err := tlsutil.HTTPClient(cfg.CACertPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("загрузка CA-сертификата API манифестов: %w", err)
	}
	if cfg.CACertPath != "" {
		logger.Info("CA-сертификат API манифестов добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		logger:     logger.With(slog.String("component", "manifest_client")),
	}, nil
}

// BaseURL возвращает базовый URL API (для мониторинга зависимостей).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CollectionURL строит URL первой страницы манифеста коллекции.
// Существующие параметры базового URL сохраняются.
func (c *Client) CollectionURL(externalID string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return strings.TrimRight(c.baseURL, "?&") + "?collection=" + url.QueryEscape(externalID)
	}
	q := u.Query()
	q.Set("collection", externalID)
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage запрашивает одну страницу манифеста по URL.
// Относительный next разрешается относительно URL запроса.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*PageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: создание запроса %s: %w", ErrRemoteUnavailable, pageURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации или ответа API
	if err != nil {
		return nil, fmt.Errorf("%w: запрос %s: %w", ErrRemoteUnavailable, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s вернул статус %d: %s",
			ErrRemoteUnavailable, pageURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body pageBody
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		// Обрыв соединения посреди тела — это недоступность, а не формат
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: чтение ответа %s: %w", ErrRemoteUnavailable, pageURL, ctx.Err())
		}
		return nil, fmt.Errorf("%w: декодирование %s: %w", ErrMalformedResponse, pageURL, err)
	}

	result, err := validatePage(&body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedResponse, pageURL, err.Error())
	}

	if result.Next != nil {
		next, err := resolveNext(req.URL, *result.Next)
		if err != nil {
			return nil, fmt.Errorf("%w: некорректный next %q: %w", ErrMalformedResponse, *result.Next, err)
		}
		result.Next = &next
	}

	c.logger.Debug("Страница манифеста получена",
		slog.String("url", pageURL),
		slog.Int("count", result.Count),
		slog.Int("files", len(result.Files)),
		slog.Bool("has_next", result.Next != nil),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// validatePage проверяет обязательные поля страницы.
func validatePage(body *pageBody) (*PageResult, error) {
	if body.Count == nil {
		return nil, errors.New("отсутствует поле count")
	}
	if *body.Count < 0 {
		return nil, fmt.Errorf("отрицательный count %d", *body.Count)
	}
	for i, f := range body.Files {
		if f.Size < 0 {
			return nil, fmt.Errorf("отрицательный size у файла #%d (%s)", i, f.Filename)
		}
	}

	next := body.Next
	if next != nil && strings.TrimSpace(*next) == "" {
		next = nil
	}

	return &PageResult{
		Count: *body.Count,
		Files: body.Files,
		Next:  next,
	}, nil
}

// resolveNext разрешает ссылку на следующую страницу относительно текущей.
func resolveNext(current *url.URL, next string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(next))
	if err != nil {
		return "", err
	}
	abs := current.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("недопустимая схема %q", abs.Scheme)
	}
	return abs.String(), nil
}

// CheckReady проверяет доступность API манифестов.
// Удалённый API — внешняя зависимость, поэтому его недоступность даёт degraded, а не fail.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, http.NoBody)
	if err != nil {
		return "degraded", "ошибка создания запроса: " + err.Error()
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return "degraded", fmt.Sprintf("API манифестов недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "degraded", fmt.Sprintf("API манифестов вернул статус %d", resp.StatusCode)
	}
	return "ok", "API манифестов отвечает"
}
