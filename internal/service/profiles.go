// profiles.go — локальные профили пользователей и право на загрузку.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/repository"
)

// ProfileService — профили пользователей (user_profiles).
type ProfileService struct {
	repo   repository.UserProfileRepository
	logger *slog.Logger
}

// NewProfileService создаёт сервис профилей.
func NewProfileService(repo repository.UserProfileRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		repo:   repo,
		logger: logger.With(slog.String("component", "profile_service")),
	}
}

// CanInitiateDownloads возвращает флаг профиля. Нет профиля — false.
func (s *ProfileService) CanInitiateDownloads(ctx context.Context, subject string) (bool, error) {
	p, err := s.repo.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.CanInitiateDownloads, nil
}

// Touch создаёт или обновляет профиль текущего пользователя.
func (s *ProfileService) Touch(ctx context.Context, subject, username string) (*model.UserProfile, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: пустой subject", ErrValidation)
	}
	return s.repo.Touch(ctx, subject, username)
}

// SetCanInitiate выдаёт или отзывает право на загрузку.
func (s *ProfileService) SetCanInitiate(ctx context.Context, subject string, allowed bool) (*model.UserProfile, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: пустой subject", ErrValidation)
	}
	p, err := s.repo.SetCanInitiate(ctx, subject, allowed)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Право на загрузку изменено",
		slog.String("subject", subject),
		slog.Bool("can_initiate_downloads", allowed),
	)
	return p, nil
}
