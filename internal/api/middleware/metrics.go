// metrics.go — Prometheus HTTP метрики WARC Manager.
// Регистрирует метрики: wm_http_requests_total, wm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wm_http_requests_total",
			Help: "Общее количество HTTP-запросов к WARC Manager",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к WARC Manager в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware собирает счётчик и гистограмму запросов.
// Метка path — шаблон маршрута chi, а для запросов мимо маршрутов — normalizePath.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recordStatus(w)

			next.ServeHTTP(rec, r)

			path, _ := routeInfo(r)
			if path == "" {
				path = normalizePath(r.URL.Path)
			}
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

const collectionsPrefix = "/api/v1/collections/"

// normalizePath заменяет идентификатор коллекции на {id}, чтобы
// произвольные идентификаторы не раздували кардинальность метрик.
// /api/v1/collections/ARC-42/confirm → /api/v1/collections/{id}/confirm
func normalizePath(path string) string {
	if path == "/api/v1/collections/check" || !strings.HasPrefix(path, collectionsPrefix) {
		return path
	}

	rest := path[len(collectionsPrefix):]
	if rest == "" {
		return path
	}
	_, suffix, found := strings.Cut(rest, "/")
	switch {
	case !found:
		return collectionsPrefix + "{id}"
	case suffix == "confirm", suffix == "progress":
		return collectionsPrefix + "{id}/" + suffix
	default:
		return collectionsPrefix + "{id}/other"
	}
}
