// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — запись о коллекции не найдена.
	ErrNotFound = errors.New("коллекция не найдена")
	// ErrCollectionNotFound — API манифестов не знает коллекцию (count = 0).
	ErrCollectionNotFound = errors.New("коллекция отсутствует в удалённом архиве")
	// ErrIncompleteManifest — ошибка после первой страницы, обзор неполный.
	ErrIncompleteManifest = errors.New("манифест получен не полностью")
	// ErrPersistence — ошибка записи в хранилище.
	ErrPersistence = errors.New("ошибка сохранения записи о коллекции")
	// ErrInvalidTransition — недопустимая смена статуса.
	ErrInvalidTransition = errors.New("недопустимая смена статуса")
)
