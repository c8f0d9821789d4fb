// starter.go — передача подтверждённой коллекции загрузчику.
//
// Сам загрузчик вне этого сервиса. RedisQueueStarter кладёт задание
// в список Redis (LPUSH), загрузчик забирает его (BRPOP) и сообщает
// о ходе работы через POST /api/v1/collections/{id}/progress.
// LogStarter только пишет задание в лог (Redis не настроен).
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var downloadsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wm_downloads_started_total",
	Help: "Количество заданий на загрузку, переданных загрузчику",
}, []string{"starter", "result"}) // result: ok, error

// DownloadStarter запускает задание на загрузку коллекции.
type DownloadStarter interface {
	Start(ctx context.Context, externalID string) error
}

// DownloadJob — задание в очереди загрузчика.
type DownloadJob struct {
	JobID        string    `json:"job_id"`
	CollectionID string    `json:"collection_id"`
	RequestedAt  time.Time `json:"requested_at"`
}

func newDownloadJob(externalID string) DownloadJob {
	return DownloadJob{
		JobID:        uuid.NewString(),
		CollectionID: externalID,
		RequestedAt:  time.Now().UTC(),
	}
}

// RedisQueueStarter кладёт задания в список Redis.
type RedisQueueStarter struct {
	client redis.UniversalClient
	queue  string
	logger *slog.Logger
}

// NewRedisQueueStarter создаёт RedisQueueStarter.
func NewRedisQueueStarter(client redis.UniversalClient, queue string, logger *slog.Logger) *RedisQueueStarter {
	return &RedisQueueStarter{
		client: client,
		queue:  queue,
		logger: logger.With(slog.String("component", "redis_starter")),
	}
}

// Start публикует задание.
func (s *RedisQueueStarter) Start(ctx context.Context, externalID string) error {
	job := newDownloadJob(externalID)
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("сериализация задания: %w", err)
	}

	if err := s.client.LPush(ctx, s.queue, payload).Err(); err != nil {
		downloadsStartedTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("публикация задания в %s: %w", s.queue, err)
	}
	downloadsStartedTotal.WithLabelValues("redis", "ok").Inc()

	s.logger.Info("Задание на загрузку опубликовано",
		slog.String("collection_id", externalID),
		slog.String("job_id", job.JobID),
		slog.String("queue", s.queue),
	)
	return nil
}

// LogStarter только логирует задание.
type LogStarter struct {
	logger *slog.Logger
}

// NewLogStarter создаёт LogStarter.
func NewLogStarter(logger *slog.Logger) *LogStarter {
	return &LogStarter{logger: logger.With(slog.String("component", "log_starter"))}
}

// Start пишет задание в лог.
func (s *LogStarter) Start(_ context.Context, externalID string) error {
	job := newDownloadJob(externalID)
	downloadsStartedTotal.WithLabelValues("log", "ok").Inc()
	s.logger.Warn("Очередь загрузчика не настроена, задание только записано в лог",
		slog.String("collection_id", externalID),
		slog.String("job_id", job.JobID),
	)
	return nil
}
