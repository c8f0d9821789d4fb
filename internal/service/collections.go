// collections.go — чтение записей о коллекциях (карточка и список последних).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/repository"
)

// Пределы пагинации списка.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// CollectionService — чтение записей о коллекциях.
type CollectionService struct {
	repo   repository.CollectionRepository
	cache  *RecentCache
	logger *slog.Logger
}

// NewCollectionService создаёт сервис. cache может быть nil.
func NewCollectionService(repo repository.CollectionRepository, cache *RecentCache, logger *slog.Logger) *CollectionService {
	return &CollectionService{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "collection_service")),
	}
}

// Get возвращает запись по идентификатору коллекции.
func (s *CollectionService) Get(ctx context.Context, rawID string) (*model.Collection, error) {
	id, err := normalizeID(rawID)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.GetByArcID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

// ListRecent возвращает последние изменённые коллекции.
// limit <= 0 заменяется на DefaultListLimit, больше MaxListLimit — ошибка валидации.
func (s *CollectionService) ListRecent(ctx context.Context, st *model.CollectionStatus, limit, offset int) (*CollectionPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		return nil, fmt.Errorf("%w: limit должен быть не больше %d", ErrValidation, MaxListLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset не может быть отрицательным", ErrValidation)
	}
	if st != nil && !st.Valid() {
		return nil, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, *st)
	}

	if p, ok := s.cache.Get(st, limit, offset); ok {
		return p, nil
	}

	items, err := s.repo.List(ctx, repository.ListFilter{Status: st, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, st)
	if err != nil {
		return nil, err
	}

	page := &CollectionPage{Items: items, Total: total, Limit: limit, Offset: offset}
	s.cache.Set(st, limit, offset, page)
	return page, nil
}
