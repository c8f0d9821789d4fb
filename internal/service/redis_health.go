// redis_health.go — проверка готовности Redis для /health/ready.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReadinessChecker проверяет Redis командой PING.
type RedisReadinessChecker struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisReadinessChecker создаёт checker Redis.
func NewRedisReadinessChecker(client redis.UniversalClient) *RedisReadinessChecker {
	return &RedisReadinessChecker{client: client, timeout: 2 * time.Second}
}

// CheckReady возвращает "fail", если Redis не отвечает: без него
// нельзя ни взять блокировку, ни поставить задание в очередь.
func (c *RedisReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "Redis отвечает"
}
