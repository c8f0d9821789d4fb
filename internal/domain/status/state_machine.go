// Пакет status — конечный автомат статусов получения коллекции.
//
// Жизненный цикл:
//
//	(нет записи) → queried → download_requested → download_in_progress → download_complete
//
// queried → queried допустим (повторная проверка обновляет обзор).
// download_complete — терминальное состояние.
// Флаг ошибки (has_errors) не является состоянием и переходов не вызывает.
//
// Автомат не хранит текущее состояние: оно живёт в БД, а проверка
// выполняется перед условным UPDATE в репозитории.
package status

import (
	"fmt"

	"github.com/bigkaa/warc-manager/internal/domain/model"
)

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTerminal          = "TERMINAL_STATE"
)

// Event — событие, вызывающее переход.
type Event string

const (
	// EventAggregated — успешная агрегация манифеста (count > 0).
	EventAggregated Event = "aggregated"
	// EventConfirmed — пользователь подтвердил загрузку.
	EventConfirmed Event = "confirmed"
	// EventJobAccepted — загрузчик принял задание.
	EventJobAccepted Event = "job_accepted"
	// EventJobSucceeded — загрузчик сообщил об успехе.
	EventJobSucceeded Event = "job_succeeded"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — событие → целевой статус.
var validTransitions = map[model.CollectionStatus]map[Event]model.CollectionStatus{
	model.StatusNone: {
		EventAggregated: model.StatusQueried,
	},
	model.StatusQueried: {
		EventAggregated: model.StatusQueried,
		EventConfirmed:  model.StatusDownloadRequested,
	},
	model.StatusDownloadRequested: {
		EventJobAccepted: model.StatusDownloadInProgress,
	},
	model.StatusDownloadInProgress: {
		EventJobSucceeded: model.StatusDownloadComplete,
	},
	model.StatusDownloadComplete: {},
}

// blocking — статусы, при которых повторная проверка коллекции запрещена.
var blocking = map[model.CollectionStatus]bool{
	model.StatusDownloadRequested:  true,
	model.StatusDownloadInProgress: true,
	model.StatusDownloadComplete:   true,
}

// TransitionError — ошибка недопустимого перехода.
type TransitionError struct {
	Code    string
	From    model.CollectionStatus
	Event   Event
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Next возвращает целевой статус для события из текущего статуса.
func Next(from model.CollectionStatus, ev Event) (model.CollectionStatus, error) {
	transitions, ok := validTransitions[from]
	if !ok {
		return from, &TransitionError{
			Code:    CodeInvalidTransition,
			From:    from,
			Event:   ev,
			Message: fmt.Sprintf("неизвестный статус %q", from),
		}
	}
	if len(transitions) == 0 {
		return from, &TransitionError{
			Code:    CodeTerminal,
			From:    from,
			Event:   ev,
			Message: fmt.Sprintf("статус %s терминальный", from),
		}
	}
	to, ok := transitions[ev]
	if !ok {
		return from, &TransitionError{
			Code:    CodeInvalidTransition,
			From:    from,
			Event:   ev,
			Message: fmt.Sprintf("событие %s недопустимо в статусе %q", ev, from),
		}
	}
	return to, nil
}

// CanTransition проверяет, допустим ли переход from → to каким-либо событием.
func CanTransition(from, to model.CollectionStatus) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsBlocking сообщает, блокирует ли статус повторную проверку коллекции.
func IsBlocking(s model.CollectionStatus) bool {
	return blocking[s]
}

// IsTerminal сообщает, является ли статус терминальным.
func IsTerminal(s model.CollectionStatus) bool {
	t, ok := validTransitions[s]
	return ok && len(t) == 0
}

// BlockedReason возвращает человекочитаемую причину блокировки повторного запроса.
func BlockedReason(s model.CollectionStatus) string {
	switch s {
	case model.StatusDownloadRequested:
		return "Загрузка коллекции уже запрошена"
	case model.StatusDownloadInProgress:
		return "Загрузка коллекции выполняется"
	case model.StatusDownloadComplete:
		return "Коллекция уже загружена"
	case model.StatusQueried:
		return "Загрузка коллекции не запрошена"
	default:
		return "Коллекция ещё не проверялась"
	}
}
