package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/warc-manager/internal/domain/model"
)

// UserProfileRepository — доступ к таблице user_profiles.
type UserProfileRepository interface {
	// Get возвращает профиль по subject.
	Get(ctx context.Context, subject string) (*model.UserProfile, error)
	// Touch создаёт профиль при первом входе или обновляет username.
	// Флаг can_initiate_downloads не меняется.
	Touch(ctx context.Context, subject, username string) (*model.UserProfile, error)
	// SetCanInitiate выставляет флаг can_initiate_downloads (создаёт профиль при отсутствии).
	SetCanInitiate(ctx context.Context, subject string, allowed bool) (*model.UserProfile, error)
}

type userProfileRepo struct {
	db DBTX
}

// NewUserProfileRepository создаёт репозиторий профилей.
func NewUserProfileRepository(db DBTX) UserProfileRepository {
	return &userProfileRepo{db: db}
}

func scanProfile(row pgx.Row) (*model.UserProfile, error) {
	p := &model.UserProfile{}
	if err := row.Scan(&p.Subject, &p.Username, &p.CanInitiateDownloads, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *userProfileRepo) Get(ctx context.Context, subject string) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `
		SELECT subject, username, can_initiate_downloads, created_at, updated_at
		FROM user_profiles WHERE subject = $1`, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля %s: %w", subject, err)
	}
	return p, nil
}

func (r *userProfileRepo) Touch(ctx context.Context, subject, username string) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `
		INSERT INTO user_profiles (subject, username)
		VALUES ($1, $2)
		ON CONFLICT (subject) DO UPDATE SET username = EXCLUDED.username
		RETURNING subject, username, can_initiate_downloads, created_at, updated_at`,
		subject, username))
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения профиля %s: %w", subject, err)
	}
	return p, nil
}

func (r *userProfileRepo) SetCanInitiate(ctx context.Context, subject string, allowed bool) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `
		INSERT INTO user_profiles (subject, can_initiate_downloads)
		VALUES ($1, $2)
		ON CONFLICT (subject) DO UPDATE SET can_initiate_downloads = EXCLUDED.can_initiate_downloads
		RETURNING subject, username, can_initiate_downloads, created_at, updated_at`,
		subject, allowed))
	if err != nil {
		return nil, fmt.Errorf("ошибка изменения права загрузки для %s: %w", subject, err)
	}
	return p, nil
}
