// aggregator.go — обход всех страниц манифеста одной коллекции.
//
// Aggregate запрашивает первую страницу (<base>?collection=<id>) и
// следует по ссылкам next до null, накапливая файлы. Частичный результат
// не возвращается никогда: ошибка на любой странице после первой
// оборачивается в ErrIncompleteManifest.
//
// Prometheus-метрики:
//   - wm_aggregation_duration_seconds — длительность агрегации
//   - wm_aggregation_pages_total — количество полученных страниц
//   - wm_aggregations_total — исходы агрегаций (outcome)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/manifestclient"
)

// Prometheus-метрики агрегации.
var (
	aggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wm_aggregation_duration_seconds",
		Help:    "Длительность агрегации манифеста коллекции",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 0.05s … ~410s
	})

	aggregationPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wm_aggregation_pages_total",
		Help: "Количество полученных страниц манифеста",
	})

	aggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wm_aggregations_total",
		Help: "Количество агрегаций по исходам",
	}, []string{"outcome"}) // ok, not_found, unavailable, malformed, incomplete
)

// DefaultMaxPages — потолок страниц, если не задан в конфигурации.
const DefaultMaxPages = 10000

// maxPreallocFiles — предел предварительного выделения под файлы.
// count приходит от удалённого API и размер буфера не определяет.
const maxPreallocFiles = 1 << 16

// PageFetcher — клиент API манифестов (реализуется *manifestclient.Client).
type PageFetcher interface {
	CollectionURL(externalID string) string
	FetchPage(ctx context.Context, pageURL string) (*manifestclient.PageResult, error)
}

// Aggregator собирает полный обзор коллекции из всех страниц манифеста.
type Aggregator struct {
	fetcher  PageFetcher
	maxPages int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAggregator создаёт агрегатор.
// timeout — общий дедлайн обхода всех страниц (0 — без дедлайна).
func NewAggregator(fetcher PageFetcher, maxPages int, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Aggregator{
		fetcher:  fetcher,
		maxPages: maxPages,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

// Aggregate возвращает обзор коллекции externalID.
//
// Ошибки:
//   - ErrCollectionNotFound — первая страница сообщила count = 0;
//   - manifestclient.ErrRemoteUnavailable / ErrMalformedResponse — сбой первой страницы;
//   - ErrIncompleteManifest — сбой любой последующей страницы, цикл next или превышение потолка страниц.
func (a *Aggregator) Aggregate(ctx context.Context, externalID string) (*model.Overview, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	ov, pages, err := a.walk(ctx, externalID)
	aggregationDuration.Observe(time.Since(start).Seconds())
	aggregationPagesTotal.Add(float64(pages))
	aggregationsTotal.WithLabelValues(aggregationOutcome(err)).Inc()

	if err != nil {
		a.logger.Warn("Агрегация манифеста не удалась",
			slog.String("collection_id", externalID),
			slog.Int("pages", pages),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	a.logger.Info("Манифест коллекции агрегирован",
		slog.String("collection_id", externalID),
		slog.Int("pages", pages),
		slog.Int("item_count", ov.ItemCount),
		slog.Int64("size_in_bytes", ov.SizeInBytes),
		slog.Duration("duration", time.Since(start)),
	)
	return ov, nil
}

// walk обходит страницы и возвращает обзор и число полученных страниц.
func (a *Aggregator) walk(ctx context.Context, externalID string) (*model.Overview, int, error) {
	pageURL := a.fetcher.CollectionURL(externalID)

	first, err := a.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, 0, fmt.Errorf("первая страница манифеста %s: %w", externalID, err)
	}
	pages := 1
	if first.Count == 0 {
		return nil, pages, fmt.Errorf("%w: %s", ErrCollectionNotFound, externalID)
	}

	ov := &model.Overview{Files: make([]model.FileEntry, 0, min(first.Count, maxPreallocFiles))}
	if err := ov.Add(first.Files); err != nil {
		return nil, pages, fmt.Errorf("%w: первая страница %s: %w", manifestclient.ErrMalformedResponse, externalID, err)
	}

	visited := map[string]struct{}{pageURL: {}}
	next := first.Next
	for next != nil {
		if ctx.Err() != nil {
			return nil, pages, fmt.Errorf("%w: %w", ErrIncompleteManifest, ctx.Err())
		}
		if _, seen := visited[*next]; seen {
			return nil, pages, fmt.Errorf("%w: %w: повторная ссылка next %s",
				ErrIncompleteManifest, manifestclient.ErrMalformedResponse, *next)
		}
		if pages >= a.maxPages {
			return nil, pages, fmt.Errorf("%w: %w: превышен предел %d страниц",
				ErrIncompleteManifest, manifestclient.ErrMalformedResponse, a.maxPages)
		}
		visited[*next] = struct{}{}

		page, err := a.fetcher.FetchPage(ctx, *next)
		if err != nil {
			return nil, pages, fmt.Errorf("%w: страница %d: %w", ErrIncompleteManifest, pages+1, err)
		}
		pages++
		if err := ov.Add(page.Files); err != nil {
			return nil, pages, fmt.Errorf("%w: %w: страница %d: %w",
				ErrIncompleteManifest, manifestclient.ErrMalformedResponse, pages, err)
		}
		next = page.Next
	}

	return ov, pages, nil
}

// aggregationOutcome — метка исхода для метрики.
func aggregationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCollectionNotFound):
		return "not_found"
	case errors.Is(err, ErrIncompleteManifest):
		return "incomplete"
	case errors.Is(err, manifestclient.ErrMalformedResponse):
		return "malformed"
	default:
		return "unavailable"
	}
}
