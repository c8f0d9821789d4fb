// Пакет config — загрузка и валидация конфигурации WARC Manager
// из переменных окружения (префикс WM_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации WARC Manager.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Remote manifest API ---

	// Базовый URL API манифестов (запрос: <base>?collection=<id>)
	ManifestURL string
	// Учётные данные для Basic-аутентификации (пара может быть пустой)
	ManifestUser     string
	ManifestPassword string
	// Таймаут одного запроса страницы манифеста
	ManifestTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с API (опционально)
	ManifestCACertPath string
	// Жёсткий потолок количества страниц одной агрегации
	ManifestMaxPages int

	// --- Workflow ---

	// Общий дедлайн агрегации всех страниц одной коллекции
	AggregationTimeout time.Duration
	// Максимум одновременных агрегаций (нагрузка на удалённый API)
	AggregationConcurrency int
	// Таймаут передачи задания коллаборатору загрузки
	StartTimeout time.Duration
	// TTL и размер кэша списка последних коллекций
	RecentCacheTTL  time.Duration
	RecentCacheSize int

	// --- Redis (опционально) ---

	// Адрес Redis; пустой — блокировки в памяти процесса, задания только в лог
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Имя списка Redis, в который кладутся задания на загрузку
	DownloadQueue string
	// TTL распределённой блокировки по коллекции
	LockTTL time.Duration

	// --- JWT ---

	// Включена ли JWT-аутентификация API (выключать только в dev-среде)
	AuthEnabled bool
	// Ожидаемый issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// URL JWKS endpoint
	JWTJWKSURL string
	// CA-сертификат IdP (пустой — системный пул)
	JWTCACertPath string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Маппинг групп → ролей ---

	RoleAdminGroups      []string
	RoleDownloaderGroups []string
	RoleViewerGroups     []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("WM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("WM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("WM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("WM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("WM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("WM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("WM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("WM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("WM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("WM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("WM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("WM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("WM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("WM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("WM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("WM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Remote manifest API ---

	if cfg.ManifestURL, err = getEnvRequired("WM_MANIFEST_URL"); err != nil {
		return nil, err
	}
	if u, parseErr := url.Parse(cfg.ManifestURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("WM_MANIFEST_URL: некорректный URL %q", cfg.ManifestURL)
	}
	cfg.ManifestUser = getEnvDefault("WM_MANIFEST_USER", "")
	cfg.ManifestPassword = getEnvDefault("WM_MANIFEST_PASSWORD", "")
	if (cfg.ManifestUser == "") != (cfg.ManifestPassword == "") {
		return nil, fmt.Errorf("WM_MANIFEST_USER и WM_MANIFEST_PASSWORD задаются только вместе")
	}

	cfg.ManifestTimeout, err = getEnvDuration("WM_MANIFEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_MANIFEST_TIMEOUT: %w", err)
	}
	cfg.ManifestCACertPath = getEnvDefault("WM_MANIFEST_CA_CERT_PATH", "")

	cfg.ManifestMaxPages, err = getEnvInt("WM_MANIFEST_MAX_PAGES", 10000)
	if err != nil {
		return nil, fmt.Errorf("WM_MANIFEST_MAX_PAGES: %w", err)
	}
	if cfg.ManifestMaxPages < 1 {
		return nil, fmt.Errorf("WM_MANIFEST_MAX_PAGES: значение %d должно быть больше 0", cfg.ManifestMaxPages)
	}

	// --- Workflow ---

	cfg.AggregationTimeout, err = getEnvDuration("WM_AGGREGATION_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("WM_AGGREGATION_TIMEOUT: %w", err)
	}
	cfg.AggregationConcurrency, err = getEnvInt("WM_AGGREGATION_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("WM_AGGREGATION_CONCURRENCY: %w", err)
	}
	if cfg.AggregationConcurrency < 1 || cfg.AggregationConcurrency > 64 {
		return nil, fmt.Errorf("WM_AGGREGATION_CONCURRENCY: значение %d вне допустимого диапазона 1-64", cfg.AggregationConcurrency)
	}
	cfg.StartTimeout, err = getEnvDuration("WM_START_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_START_TIMEOUT: %w", err)
	}
	cfg.RecentCacheTTL, err = getEnvDuration("WM_RECENT_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_RECENT_CACHE_TTL: %w", err)
	}
	cfg.RecentCacheSize, err = getEnvInt("WM_RECENT_CACHE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("WM_RECENT_CACHE_SIZE: %w", err)
	}

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("WM_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("WM_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("WM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("WM_REDIS_DB: %w", err)
	}
	cfg.DownloadQueue = getEnvDefault("WM_DOWNLOAD_QUEUE", "warc:downloads")
	cfg.LockTTL, err = getEnvDuration("WM_LOCK_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("WM_LOCK_TTL: %w", err)
	}
	// Блокировка не должна истечь, пока идёт агрегация под ней.
	if cfg.LockTTL <= cfg.AggregationTimeout {
		return nil, fmt.Errorf("WM_LOCK_TTL (%s) должен быть больше WM_AGGREGATION_TIMEOUT (%s)",
			cfg.LockTTL, cfg.AggregationTimeout)
	}

	// --- JWT ---

	cfg.AuthEnabled, err = getEnvBool("WM_AUTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("WM_AUTH_ENABLED: %w", err)
	}
	cfg.JWTIssuer = getEnvDefault("WM_JWT_ISSUER", "")
	if cfg.AuthEnabled {
		if cfg.JWTJWKSURL, err = getEnvRequired("WM_JWT_JWKS_URL"); err != nil {
			return nil, err
		}
	}
	cfg.JWTCACertPath = getEnvDefault("WM_JWT_CA_CERT_PATH", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("WM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("WM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("WM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("WM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_JWT_LEEWAY: %w", err)
	}

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("WM_ROLE_ADMIN_GROUPS", "warc-admins"))
	cfg.RoleDownloaderGroups = parseCSV(getEnvDefault("WM_ROLE_DOWNLOADER_GROUPS", "warc-downloaders"))
	cfg.RoleViewerGroups = parseCSV(getEnvDefault("WM_ROLE_VIEWER_GROUPS", "warc-viewers"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("WM_DEPHEALTH_GROUP", "warc-manager")
	cfg.DephealthCheckInterval, err = getEnvDuration("WM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для golang-migrate и лейблов topologymetrics.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// RedisEnabled сообщает, настроен ли Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
