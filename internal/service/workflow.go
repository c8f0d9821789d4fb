// workflow.go — двухфазный протокол получения коллекции.
//
// CheckCollection: агрегирует манифест и сохраняет обзор (статус queried),
// если коллекция не находится в блокирующем статусе.
// ConfirmDownload: переводит queried → download_requested и передаёт
// задание загрузчику ровно один раз.
// ReportProgress: отчёты загрузчика (in_progress, complete, error).
//
// Операции над одной коллекцией сериализуются Locker; смена статуса в БД —
// условный UPDATE, поэтому даже без Locker подтверждение выигрывает одно.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/domain/status"
	"github.com/bigkaa/warc-manager/internal/manifestclient"
	"github.com/bigkaa/warc-manager/internal/repository"
)

// ConfirmAction — значение action, подтверждающее запуск загрузки.
const ConfirmAction = "really_start_download"

var workflowResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wm_workflow_results_total",
	Help: "Результаты операций протокола получения коллекций",
}, []string{"operation", "result"})

// CheckKind — вид результата CheckCollection.
type CheckKind int

const (
	CheckOverview CheckKind = iota + 1
	CheckBlocked
	CheckNoData
	CheckFailed
	CheckValidationError
)

func (k CheckKind) String() string {
	switch k {
	case CheckOverview:
		return "overview"
	case CheckBlocked:
		return "blocked"
	case CheckNoData:
		return "no_data"
	case CheckFailed:
		return "failed"
	case CheckValidationError:
		return "validation_error"
	default:
		return "unknown"
	}
}

// CheckResult — результат проверки коллекции.
type CheckResult struct {
	Kind         CheckKind
	CollectionID string
	// Поля обзора (Kind == CheckOverview)
	ItemCount       int
	SizeInBytes     int64
	SizeInGigabytes float64
	// Token передаётся в ConfirmDownload (совпадает с идентификатором коллекции)
	Token string
	// Status и Reason заполняются для CheckBlocked
	Status model.CollectionStatus
	Reason string
	// Err — причина для CheckNoData, CheckFailed, CheckValidationError
	Err error
}

// ConfirmKind — вид результата ConfirmDownload.
type ConfirmKind int

const (
	ConfirmStarted ConfirmKind = iota + 1
	ConfirmBlocked
	ConfirmMethodNotAllowed
	ConfirmFailed
	ConfirmValidationError
)

func (k ConfirmKind) String() string {
	switch k {
	case ConfirmStarted:
		return "started"
	case ConfirmBlocked:
		return "blocked"
	case ConfirmMethodNotAllowed:
		return "method_not_allowed"
	case ConfirmFailed:
		return "failed"
	case ConfirmValidationError:
		return "validation_error"
	default:
		return "unknown"
	}
}

// ConfirmResult — результат подтверждения загрузки.
type ConfirmResult struct {
	Kind         ConfirmKind
	CollectionID string
	Status       model.CollectionStatus
	Reason       string
	Err          error
}

// ProgressEvent — отчёт загрузчика о ходе задания.
type ProgressEvent string

const (
	ProgressInProgress ProgressEvent = "in_progress"
	ProgressComplete   ProgressEvent = "complete"
	ProgressError      ProgressEvent = "error"
)

// OverviewAggregator — источник обзора коллекции (реализуется *Aggregator).
type OverviewAggregator interface {
	Aggregate(ctx context.Context, externalID string) (*model.Overview, error)
}

// WorkflowConfig — параметры Workflow.
type WorkflowConfig struct {
	// MaxConcurrentAggregations — предел одновременных агрегаций
	MaxConcurrentAggregations int
	// StartTimeout — дедлайн передачи задания загрузчику
	StartTimeout time.Duration
}

// Workflow — протокол check → confirm.
type Workflow struct {
	repo         repository.CollectionRepository
	aggregator   OverviewAggregator
	starter      DownloadStarter
	locker       Locker
	cache        *RecentCache
	sem          *semaphore.Weighted
	startTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewWorkflow создаёт Workflow. cache может быть nil.
func NewWorkflow(
	repo repository.CollectionRepository,
	aggregator OverviewAggregator,
	starter DownloadStarter,
	locker Locker,
	cache *RecentCache,
	cfg WorkflowConfig,
	logger *slog.Logger,
) *Workflow {
	concurrency := cfg.MaxConcurrentAggregations
	if concurrency <= 0 {
		concurrency = 1
	}
	startTimeout := cfg.StartTimeout
	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	return &Workflow{
		repo:         repo,
		aggregator:   aggregator,
		starter:      starter,
		locker:       locker,
		cache:        cache,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		startTimeout: startTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "workflow")),
	}
}

// MaxCollectionIDLength — предел длины идентификатора в символах
// (столбец arc_collection_id VARCHAR(255)).
const MaxCollectionIDLength = 255

// normalizeID обрезает пробелы и проверяет идентификатор: непустой
// и не длиннее MaxCollectionIDLength символов.
func normalizeID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: пустой идентификатор коллекции", ErrValidation)
	}
	if n := utf8.RuneCountInString(id); n > MaxCollectionIDLength {
		return "", fmt.Errorf("%w: идентификатор коллекции длиннее %d символов (%d)",
			ErrValidation, MaxCollectionIDLength, n)
	}
	return id, nil
}

// --- CheckCollection ---

// CheckCollection проверяет коллекцию и сохраняет её обзор.
func (w *Workflow) CheckCollection(ctx context.Context, rawID string) CheckResult {
	res := w.checkCollection(ctx, rawID)
	workflowResultsTotal.WithLabelValues("check", res.Kind.String()).Inc()
	return res
}

func (w *Workflow) checkCollection(ctx context.Context, rawID string) CheckResult {
	id, err := normalizeID(rawID)
	if err != nil {
		return CheckResult{Kind: CheckValidationError, Err: err}
	}

	unlock, err := w.locker.Lock(ctx, id)
	if err != nil {
		return w.checkFailed(id, err)
	}
	defer unlock()

	current := model.StatusNone
	rec, err := w.repo.GetByArcID(ctx, id)
	switch {
	case err == nil:
		current = rec.Status
	case errors.Is(err, repository.ErrNotFound):
		rec = nil
	default:
		return w.checkFailed(id, fmt.Errorf("%w: %w", ErrPersistence, err))
	}

	if status.IsBlocking(current) {
		w.logger.Info("Проверка коллекции заблокирована статусом",
			slog.String("collection_id", id),
			slog.String("status", string(current)),
		)
		return blockedCheck(id, current)
	}

	ov, err := w.aggregate(ctx, id)
	if err != nil {
		if isNoData(err) {
			return CheckResult{Kind: CheckNoData, CollectionID: id, Err: err}
		}
		if rec != nil {
			w.flagError(id, "")
		}
		return w.checkFailed(id, err)
	}

	if _, err := status.Next(current, status.EventAggregated); err != nil {
		return w.checkFailed(id, fmt.Errorf("%w: %w", ErrInvalidTransition, err))
	}

	saved, created, err := w.repo.UpsertQueried(ctx, id, ov, w.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			// Статус изменила другая реплика между чтением и записью
			return w.blockedAfterRace(ctx, id)
		}
		return w.checkFailed(id, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	w.cache.Purge()

	w.logger.Info("Обзор коллекции сохранён",
		slog.String("collection_id", id),
		slog.String("record_id", saved.ID),
		slog.Bool("created", created),
		slog.Int("item_count", ov.ItemCount),
		slog.Int64("size_in_bytes", ov.SizeInBytes),
	)

	return CheckResult{
		Kind:            CheckOverview,
		CollectionID:    id,
		ItemCount:       ov.ItemCount,
		SizeInBytes:     ov.SizeInBytes,
		SizeInGigabytes: model.BytesToGigabytes(ov.SizeInBytes),
		Token:           id,
		Status:          model.StatusQueried,
	}
}

// aggregate выполняет агрегацию в пределах семафора.
func (w *Workflow) aggregate(ctx context.Context, id string) (*model.Overview, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ожидание слота агрегации: %w", err)
	}
	defer w.sem.Release(1)
	return w.aggregator.Aggregate(ctx, id)
}

// isNoData: коллекции нет в архиве или архив недоступен на первой странице.
// Неполный манифест — это сбой, а не отсутствие данных.
func isNoData(err error) bool {
	if errors.Is(err, ErrIncompleteManifest) {
		return false
	}
	return errors.Is(err, ErrCollectionNotFound) || errors.Is(err, manifestclient.ErrRemoteUnavailable)
}

func blockedCheck(id string, st model.CollectionStatus) CheckResult {
	return CheckResult{
		Kind:         CheckBlocked,
		CollectionID: id,
		Status:       st,
		Reason:       status.BlockedReason(st),
	}
}

func (w *Workflow) blockedAfterRace(ctx context.Context, id string) CheckResult {
	rec, err := w.repo.GetByArcID(ctx, id)
	if err != nil {
		return w.checkFailed(id, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	return blockedCheck(id, rec.Status)
}

func (w *Workflow) checkFailed(id string, err error) CheckResult {
	w.logger.Error("Проверка коллекции не удалась",
		slog.String("collection_id", id),
		slog.String("error", err.Error()),
	)
	return CheckResult{Kind: CheckFailed, CollectionID: id, Err: err}
}

// flagError выставляет has_errors; ошибка записи флага только логируется.
func (w *Workflow) flagError(id, notes string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.repo.MarkError(ctx, id, notes); err != nil {
		w.logger.Warn("Не удалось отметить ошибку коллекции",
			slog.String("collection_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	w.cache.Purge()
}

// --- ConfirmDownload ---

// ConfirmDownload подтверждает загрузку коллекции.
func (w *Workflow) ConfirmDownload(ctx context.Context, rawID, action string) ConfirmResult {
	res := w.confirmDownload(ctx, rawID, action)
	workflowResultsTotal.WithLabelValues("confirm", res.Kind.String()).Inc()
	return res
}

func (w *Workflow) confirmDownload(ctx context.Context, rawID, action string) ConfirmResult {
	if action != ConfirmAction {
		return ConfirmResult{
			Kind:   ConfirmMethodNotAllowed,
			Reason: fmt.Sprintf("неизвестное действие %q", action),
		}
	}

	id, err := normalizeID(rawID)
	if err != nil {
		return ConfirmResult{Kind: ConfirmValidationError, Err: err}
	}

	res := w.transitionToRequested(ctx, id)
	if res.Kind != ConfirmStarted {
		return res
	}

	// Переход сохранён, поэтому исход уже Started: сбой передачи задания
	// отмечается флагом ошибки, статус не откатывается.
	startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.startTimeout)
	defer cancel()
	if err := w.starter.Start(startCtx, id); err != nil {
		w.logger.Error("Не удалось передать задание загрузчику",
			slog.String("collection_id", id),
			slog.String("error", err.Error()),
		)
		w.flagError(id, "Не удалось передать задание загрузчику: "+err.Error())
	}
	return res
}

// transitionToRequested выполняет queried → download_requested под блокировкой.
func (w *Workflow) transitionToRequested(ctx context.Context, id string) ConfirmResult {
	unlock, err := w.locker.Lock(ctx, id)
	if err != nil {
		return w.confirmFailed(id, err)
	}
	defer unlock()

	rec, err := w.repo.GetByArcID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return blockedConfirm(id, model.StatusNone)
		}
		return w.confirmFailed(id, fmt.Errorf("%w: %w", ErrPersistence, err))
	}

	next, err := status.Next(rec.Status, status.EventConfirmed)
	if err != nil {
		return blockedConfirm(id, rec.Status)
	}

	if _, err := w.repo.CompareAndSetStatus(ctx, id, rec.Status, next, w.now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return blockedConfirm(id, model.StatusNone)
		case errors.Is(err, repository.ErrStatusChanged):
			cur, gerr := w.repo.GetByArcID(ctx, id)
			if gerr != nil {
				return w.confirmFailed(id, fmt.Errorf("%w: %w", ErrPersistence, gerr))
			}
			return blockedConfirm(id, cur.Status)
		default:
			return w.confirmFailed(id, fmt.Errorf("%w: %w", ErrPersistence, err))
		}
	}
	w.cache.Purge()

	w.logger.Info("Загрузка коллекции подтверждена",
		slog.String("collection_id", id),
		slog.String("status", string(next)),
	)
	return ConfirmResult{Kind: ConfirmStarted, CollectionID: id, Status: next}
}

func blockedConfirm(id string, st model.CollectionStatus) ConfirmResult {
	return ConfirmResult{
		Kind:         ConfirmBlocked,
		CollectionID: id,
		Status:       st,
		Reason:       status.BlockedReason(st),
	}
}

func (w *Workflow) confirmFailed(id string, err error) ConfirmResult {
	w.logger.Error("Подтверждение загрузки не удалось",
		slog.String("collection_id", id),
		slog.String("error", err.Error()),
	)
	return ConfirmResult{Kind: ConfirmFailed, CollectionID: id, Err: err}
}

// --- ReportProgress ---

// ReportProgress применяет отчёт загрузчика и возвращает обновлённую запись.
//
// Ошибки: ErrValidation, ErrNotFound, ErrInvalidTransition, ErrPersistence.
func (w *Workflow) ReportProgress(ctx context.Context, rawID string, ev ProgressEvent, notes string) (*model.Collection, error) {
	id, err := normalizeID(rawID)
	if err != nil {
		return nil, err
	}

	var event status.Event
	switch ev {
	case ProgressInProgress:
		event = status.EventJobAccepted
	case ProgressComplete:
		event = status.EventJobSucceeded
	case ProgressError:
	default:
		return nil, fmt.Errorf("%w: неизвестное событие %q", ErrValidation, ev)
	}

	unlock, err := w.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := w.repo.GetByArcID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if ev == ProgressError {
		if status.IsTerminal(rec.Status) {
			return nil, fmt.Errorf("%w: статус %s терминальный", ErrInvalidTransition, rec.Status)
		}
		if err := w.repo.MarkError(ctx, id, notes); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		w.cache.Purge()
		w.logger.Warn("Загрузчик сообщил об ошибке",
			slog.String("collection_id", id),
			slog.String("status", string(rec.Status)),
			slog.String("notes", notes),
		)
		return w.reload(ctx, id)
	}

	next, err := status.Next(rec.Status, event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	updated, err := w.repo.CompareAndSetStatus(ctx, id, rec.Status, next, w.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	w.cache.Purge()

	w.logger.Info("Статус загрузки обновлён",
		slog.String("collection_id", id),
		slog.String("from", string(rec.Status)),
		slog.String("to", string(next)),
	)
	return updated, nil
}

func (w *Workflow) reload(ctx context.Context, id string) (*model.Collection, error) {
	rec, err := w.repo.GetByArcID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return rec, nil
}
