// Точка входа WARC Manager — сервис получения коллекций веб-архива.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и (опционально) Redis, собирает протокол check → confirm,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/warc-manager/internal/api/handlers"
	"github.com/bigkaa/warc-manager/internal/api/middleware"
	"github.com/bigkaa/warc-manager/internal/api/spec"
	"github.com/bigkaa/warc-manager/internal/config"
	"github.com/bigkaa/warc-manager/internal/database"
	"github.com/bigkaa/warc-manager/internal/domain/rbac"
	"github.com/bigkaa/warc-manager/internal/manifestclient"
	"github.com/bigkaa/warc-manager/internal/repository"
	"github.com/bigkaa/warc-manager/internal/server"
	"github.com/bigkaa/warc-manager/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("WARC Manager запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("WM_DEPHEALTH_GROUP") == "" {
		logger.Warn("WM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	collectionRepo := repository.NewCollectionRepository(pool)
	profileRepo := repository.NewUserProfileRepository(pool)

	// 6. Readiness checkers
	checkers := map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(pool),
	}

	// 7. Блокировки и передача заданий: Redis или память процесса
	var (
		locker  service.Locker
		starter service.DownloadStarter
	)
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Redis недоступен", slog.String("addr", cfg.RedisAddr), slog.String("error", err.Error()))
			os.Exit(1)
		}
		locker = service.NewRedisLocker(rdb, cfg.LockTTL, logger)
		starter = service.NewRedisQueueStarter(rdb, cfg.DownloadQueue, logger)
		checkers["redis"] = service.NewRedisReadinessChecker(rdb)
		logger.Info("Redis подключён",
			slog.String("addr", cfg.RedisAddr),
			slog.String("queue", cfg.DownloadQueue),
		)
	} else {
		locker = service.NewKeyedMutex()
		starter = service.NewLogStarter(logger)
		logger.Warn("WM_REDIS_ADDR не задан: блокировки в памяти процесса, задания только логируются")
	}

	// 8. Клиент API манифестов и агрегатор
	manifest, err := manifestclient.New(manifestclient.Config{
		BaseURL:    cfg.ManifestURL,
		Username:   cfg.ManifestUser,
		Password:   cfg.ManifestPassword,
		Timeout:    cfg.ManifestTimeout,
		CACertPath: cfg.ManifestCACertPath,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента API манифестов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	checkers["manifest_api"] = manifest
	aggregator := service.NewAggregator(manifest, cfg.ManifestMaxPages, cfg.AggregationTimeout, logger)

	// 9. Services
	cache := service.NewRecentCache(cfg.RecentCacheSize, cfg.RecentCacheTTL)
	workflow := service.NewWorkflow(collectionRepo, aggregator, starter, locker, cache, service.WorkflowConfig{
		MaxConcurrentAggregations: cfg.AggregationConcurrency,
		StartTimeout:              cfg.StartTimeout,
	}, logger)
	collectionsSvc := service.NewCollectionService(collectionRepo, cache, logger)
	profilesSvc := service.NewProfileService(profileRepo, logger)

	// 10. Аутентификация
	auth := middleware.AnonymousAuth()
	if cfg.AuthEnabled {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTConfig{
			JWKSURL:    cfg.JWTJWKSURL,
			CACertPath: cfg.JWTCACertPath,
			Issuer:     cfg.JWTIssuer,
			Mapping: rbac.GroupMapping{
				AdminGroups:      cfg.RoleAdminGroups,
				DownloaderGroups: cfg.RoleDownloaderGroups,
				ViewerGroups:     cfg.RoleViewerGroups,
			},
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			Leeway:          cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		auth = jwtAuth.Middleware()

		jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		checkers["jwks"] = jwksChecker
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("Аутентификация отключена (WM_AUTH_ENABLED=false), все запросы выполняются от имени администратора")
	}

	validator, err := middleware.NewOpenAPIValidator(spec.OpenAPI, logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-описания", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(checkers),
		workflow,
		collectionsSvc,
		profilesSvc,
		handlers.ServiceInfo{
			AuthEnabled:  cfg.AuthEnabled,
			RedisEnabled: cfg.RedisEnabled(),
			ManifestURL:  cfg.ManifestURL,
		},
		logger,
	)

	// 12. topologymetrics — мониторинг зависимостей
	jwksURL := ""
	if cfg.AuthEnabled {
		jwksURL = cfg.JWTJWKSURL
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "warc-manager",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		ManifestURL:   cfg.ManifestURL,
		JWKSURL:       jwksURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Deps{
		Handler:   apiHandler,
		Auth:      auth,
		Validator: validator,
		Profiles:  profilesSvc,
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("WARC Manager остановлен")
}
