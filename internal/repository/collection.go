package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/warc-manager/internal/domain/model"
)

// ListFilter — параметры выборки списка коллекций.
type ListFilter struct {
	// Status — фильтр по статусу (nil — все)
	Status *model.CollectionStatus
	Limit  int
	Offset int
}

// CollectionRepository — доступ к таблице collections.
type CollectionRepository interface {
	// GetByArcID возвращает запись по внешнему идентификатору коллекции.
	GetByArcID(ctx context.Context, arcID string) (*model.Collection, error)
	// UpsertQueried создаёт запись в статусе queried или обновляет обзор
	// существующей записи в статусе queried. Запись в другом статусе
	// не изменяется — возвращается ErrStatusChanged.
	UpsertQueried(ctx context.Context, arcID string, ov *model.Overview, at time.Time) (*model.Collection, bool, error)
	// CompareAndSetStatus переводит запись из from в to, только если текущий статус равен from.
	CompareAndSetStatus(ctx context.Context, arcID string, from, to model.CollectionStatus, at time.Time) (*model.Collection, error)
	// MarkError выставляет has_errors; непустые notes заменяют заметки записи.
	MarkError(ctx context.Context, arcID, notes string) error
	// List возвращает записи, отсортированные по updated_at DESC (без снимка манифеста).
	List(ctx context.Context, f ListFilter) ([]*model.Collection, error)
	// Count возвращает количество записей с фильтром по статусу.
	Count(ctx context.Context, st *model.CollectionStatus) (int, error)
}

// collectionRepo — реализация CollectionRepository.
type collectionRepo struct {
	db DBTX
}

// NewCollectionRepository создаёт репозиторий коллекций.
func NewCollectionRepository(db DBTX) CollectionRepository {
	return &collectionRepo{db: db}
}

// collectionColumns — колонки полной записи, порядок совпадает с scanCollection.
const collectionColumns = `id, arc_collection_id, item_count, size_in_bytes, status,
	status_history, notes, has_errors, all_files_on_arc, created_at, updated_at`

// listColumns — колонки для списка (без all_files_on_arc).
var listColumns = []string{
	"id", "arc_collection_id", "item_count", "size_in_bytes", "status",
	"status_history", "notes", "has_errors", "created_at", "updated_at",
}

func scanCollection(row pgx.Row, extra ...any) (*model.Collection, error) {
	c := &model.Collection{}
	var st string
	dest := []any{
		&c.ID, &c.ArcCollectionID, &c.ItemCount, &c.SizeInBytes, &st,
		&c.StatusHistory, &c.Notes, &c.HasErrors, &c.AllFilesOnArc,
		&c.CreatedAt, &c.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Status = model.CollectionStatus(st)
	return c, nil
}

// historyEntry сериализует один элемент status_history в виде JSON-массива.
func historyEntry(st model.CollectionStatus, at time.Time) ([]byte, error) {
	return jsonArray([]model.StatusChange{{Status: st, Timestamp: at.UTC()}})
}

func (r *collectionRepo) GetByArcID(ctx context.Context, arcID string) (*model.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE arc_collection_id = $1`

	c, err := scanCollection(r.db.QueryRow(ctx, query, arcID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения коллекции %s: %w", arcID, err)
	}
	return c, nil
}

func (r *collectionRepo) UpsertQueried(ctx context.Context, arcID string, ov *model.Overview, at time.Time) (*model.Collection, bool, error) {
	history, err := historyEntry(model.StatusQueried, at)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сериализации истории: %w", err)
	}
	files, err := jsonArray(ov.Files)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сериализации манифеста: %w", err)
	}

	// Условие WHERE в DO UPDATE не даёт перезаписать запись,
	// которая успела уйти из queried (подтверждение загрузки).
	query := `
		INSERT INTO collections (id, arc_collection_id, item_count, size_in_bytes,
			status, status_history, all_files_on_arc, has_errors)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, FALSE)
		ON CONFLICT (arc_collection_id) DO UPDATE
		SET item_count       = EXCLUDED.item_count,
		    size_in_bytes    = EXCLUDED.size_in_bytes,
		    all_files_on_arc = EXCLUDED.all_files_on_arc,
		    status_history   = collections.status_history || EXCLUDED.status_history,
		    has_errors       = FALSE
		WHERE collections.status = $5
		RETURNING ` + collectionColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	c, err := scanCollection(r.db.QueryRow(ctx, query,
		uuid.New().String(), arcID, ov.ItemCount, ov.SizeInBytes,
		string(model.StatusQueried), history, files,
	), &inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: коллекция %s не в статусе queried", ErrStatusChanged, arcID)
		}
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("%w: %s", ErrConflict, arcID)
		}
		return nil, false, fmt.Errorf("ошибка сохранения обзора коллекции %s: %w", arcID, err)
	}
	return c, inserted, nil
}

func (r *collectionRepo) CompareAndSetStatus(ctx context.Context, arcID string, from, to model.CollectionStatus, at time.Time) (*model.Collection, error) {
	history, err := historyEntry(to, at)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации истории: %w", err)
	}

	query := `
		UPDATE collections
		SET status         = $3,
		    status_history = status_history || $4::jsonb,
		    has_errors     = FALSE
		WHERE arc_collection_id = $1 AND status = $2
		RETURNING ` + collectionColumns

	c, err := scanCollection(r.db.QueryRow(ctx, query, arcID, string(from), string(to), history))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка смены статуса коллекции %s: %w", arcID, err)
	}

	// UPDATE не применился: записи нет или статус уже другой
	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM collections WHERE arc_collection_id = $1`, arcID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения статуса коллекции %s: %w", arcID, err)
	}
	return nil, fmt.Errorf("%w: ожидался %q, текущий %q", ErrStatusChanged, from, current)
}

func (r *collectionRepo) MarkError(ctx context.Context, arcID, notes string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE collections
		SET has_errors = TRUE,
		    notes      = CASE WHEN $2::text = '' THEN notes ELSE $2::text END
		WHERE arc_collection_id = $1`, arcID, notes)
	if err != nil {
		return fmt.Errorf("ошибка установки флага ошибки для %s: %w", arcID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *collectionRepo) List(ctx context.Context, f ListFilter) ([]*model.Collection, error) {
	q := psql.Select(listColumns...).
		From("collections").
		OrderBy("updated_at DESC", "arc_collection_id").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))
	if f.Status != nil {
		q = q.Where(sq.Eq{"status": string(*f.Status)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса списка коллекций: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка коллекций: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Collection, 0, f.Limit)
	for rows.Next() {
		c := &model.Collection{}
		var st string
		if err := rows.Scan(
			&c.ID, &c.ArcCollectionID, &c.ItemCount, &c.SizeInBytes, &st,
			&c.StatusHistory, &c.Notes, &c.HasErrors, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования коллекции: %w", err)
		}
		c.Status = model.CollectionStatus(st)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *collectionRepo) Count(ctx context.Context, st *model.CollectionStatus) (int, error) {
	q := psql.Select("COUNT(*)").From("collections")
	if st != nil {
		q = q.Where(sq.Eq{"status": string(*st)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта коллекций: %w", err)
	}
	return count, nil
}
