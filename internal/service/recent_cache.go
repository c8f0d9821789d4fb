// recent_cache.go — кэш страниц списка последних коллекций.
// Обёртка над hashicorp/golang-lru/v2/expirable; сбрасывается целиком
// при любом изменении записи.
package service

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/warc-manager/internal/domain/model"
)

var (
	recentCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wm_recent_cache_hits_total",
		Help: "Попадания в кэш списка коллекций",
	})
	recentCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wm_recent_cache_misses_total",
		Help: "Промахи кэша списка коллекций",
	})
)

// CollectionPage — страница списка коллекций.
type CollectionPage struct {
	Items  []*model.Collection
	Total  int
	Limit  int
	Offset int
}

// RecentCache — LRU-кэш страниц списка с TTL.
type RecentCache struct {
	cache *expirable.LRU[string, *CollectionPage]
}

// NewRecentCache создаёт кэш. size <= 0 — кэш не используется (nil).
func NewRecentCache(size int, ttl time.Duration) *RecentCache {
	if size <= 0 {
		return nil
	}
	return &RecentCache{cache: expirable.NewLRU[string, *CollectionPage](size, nil, ttl)}
}

func recentKey(st *model.CollectionStatus, limit, offset int) string {
	s := "*"
	if st != nil {
		s = string(*st)
	}
	return fmt.Sprintf("%s|%d|%d", s, limit, offset)
}

// Get возвращает закэшированную страницу.
func (c *RecentCache) Get(st *model.CollectionStatus, limit, offset int) (*CollectionPage, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.cache.Get(recentKey(st, limit, offset))
	if ok {
		recentCacheHitsTotal.Inc()
		return p, true
	}
	recentCacheMissesTotal.Inc()
	return nil, false
}

// Set сохраняет страницу.
func (c *RecentCache) Set(st *model.CollectionStatus, limit, offset int, p *CollectionPage) {
	if c == nil {
		return
	}
	c.cache.Add(recentKey(st, limit, offset), p)
}

// Purge сбрасывает кэш.
func (c *RecentCache) Purge() {
	if c == nil {
		return
	}
	c.cache.Purge()
}
