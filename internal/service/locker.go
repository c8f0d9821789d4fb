// locker.go — сериализация операций над одной коллекцией.
//
// KeyedMutex — блокировки в памяти процесса (одна реплика).
// RedisLocker — распределённая блокировка (SET NX PX + снятие Lua-скриптом
// со сверкой токена), когда задан WM_REDIS_ADDR и реплик несколько.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker выдаёт эксклюзивную блокировку по ключу.
// Lock ждёт освобождения ключа или отмены ctx; unlock идемпотентен.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// --- KeyedMutex ---

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex — набор мьютексов по ключу. Запись удаляется,
// когда ключ никто не держит и не ждёт.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyedMutex создаёт KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock захватывает ключ.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("ожидание блокировки %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size — количество активных ключей (для тестов).
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// --- RedisLocker ---

// unlockScript снимает блокировку, только если она всё ещё наша.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	lockKeyPrefix   = "warc:lock:"
	lockPollMin     = 20 * time.Millisecond
	lockPollMax     = 500 * time.Millisecond
	lockReleaseWait = 3 * time.Second
)

// RedisLocker — распределённая блокировка в Redis.
// TTL ограничивает время удержания, если реплика упала с захваченной блокировкой.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker создаёт RedisLocker.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "redis_locker")),
	}
}

// Lock захватывает ключ, опрашивая Redis с растущим интервалом.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	wait := lockPollMin

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("ожидание блокировки %s: %w", key, ctx.Err())
			}
			return nil, fmt.Errorf("захват блокировки %s в Redis: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("ожидание блокировки %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, lockPollMax)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Снятие не зависит от отмены запроса
			rctx, cancel := context.WithTimeout(context.Background(), lockReleaseWait)
			defer cancel()
			n, err := unlockScript.Run(rctx, l.client, []string{redisKey}, token).Int()
			if err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("Ошибка снятия блокировки",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return
			}
			if n == 0 {
				l.logger.Warn("Блокировка истекла до снятия", slog.String("key", key))
			}
		})
	}, nil
}
