package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// CollectionStatus — статус жизненного цикла получения коллекции.
// Значения совпадают с кодами в столбце collections.status.
type CollectionStatus string

const (
	// StatusNone — записи ещё нет (начальное состояние автомата).
	StatusNone CollectionStatus = ""
	// StatusQueried — обзор получен, загрузка не запрошена.
	StatusQueried CollectionStatus = "queried"
	// StatusDownloadRequested — пользователь подтвердил загрузку, задание ещё не запущено.
	StatusDownloadRequested CollectionStatus = "download_requested"
	// StatusDownloadInProgress — задание выполняется внешним загрузчиком.
	StatusDownloadInProgress CollectionStatus = "download_in_progress"
	// StatusDownloadComplete — загрузка завершена (терминальное состояние).
	StatusDownloadComplete CollectionStatus = "download_complete"
)

// statusLabels — человекочитаемые названия статусов.
var statusLabels = map[CollectionStatus]string{
	StatusQueried:            "Queried",
	StatusDownloadRequested:  "Download requested",
	StatusDownloadInProgress: "Download in progress",
	StatusDownloadComplete:   "Download complete",
}

// Label возвращает человекочитаемое название статуса.
func (s CollectionStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Not requested"
}

// Valid сообщает, является ли значение допустимым сохраняемым статусом.
func (s CollectionStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseStatus преобразует строку в CollectionStatus.
func ParseStatus(s string) (CollectionStatus, bool) {
	st := CollectionStatus(s)
	return st, st.Valid()
}

// StatusChange — элемент журнала status_history.
type StatusChange struct {
	Status    CollectionStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// FileEntry — файл из манифеста удалённого архива.
type FileEntry struct {
	Filename  string            `json:"filename,omitempty"`
	Filetype  string            `json:"filetype,omitempty"`
	Size      int64             `json:"size"`
	Checksums map[string]string `json:"checksums,omitempty"`
	CrawlTime string            `json:"crawl_time,omitempty"`
	Locations []string          `json:"locations,omitempty"`
}

// Collection — запись о получении одной коллекции.
// Хранится в таблице collections.
type Collection struct {
	// ID — UUID записи
	ID string
	// ArcCollectionID — идентификатор коллекции в удалённом архиве (уникальный)
	ArcCollectionID string
	// ItemCount — количество файлов в манифесте на момент последней агрегации
	ItemCount int
	// SizeInBytes — суммарный размер файлов (nil до первой успешной агрегации)
	SizeInBytes *int64
	// Status — текущий статус
	Status CollectionStatus
	// StatusHistory — журнал смен статуса (только добавление)
	StatusHistory []StatusChange
	// Notes — произвольные заметки
	Notes string
	// HasErrors — последняя попытка завершилась ошибкой
	HasErrors bool
	// AllFilesOnArc — снимок манифеста последней успешной агрегации
	AllFilesOnArc []FileEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SizeInGigabytes возвращает размер в гигабайтах (1024^3), округлённый до 2 знаков.
func (c *Collection) SizeInGigabytes() float64 {
	if c.SizeInBytes == nil {
		return 0
	}
	return BytesToGigabytes(*c.SizeInBytes)
}

// BytesToGigabytes переводит байты в гигабайты с округлением до сотых.
func BytesToGigabytes(b int64) float64 {
	return math.Round(float64(b)/(1<<30)*100) / 100
}

// Overview — результат полной агрегации манифеста.
type Overview struct {
	ItemCount   int
	SizeInBytes int64
	Files       []FileEntry
}

// ErrSizeOverflow — суммарный размер манифеста не помещается в int64.
var ErrSizeOverflow = errors.New("суммарный размер превышает int64")

// Add добавляет файлы очередной страницы манифеста к обзору.
// При переполнении суммы или отрицательном размере обзор не меняется.
func (o *Overview) Add(files []FileEntry) error {
	total := o.SizeInBytes
	for i, f := range files {
		if f.Size < 0 {
			return fmt.Errorf("отрицательный size у файла #%d (%s)", i, f.Filename)
		}
		if f.Size > math.MaxInt64-total {
			return fmt.Errorf("%w: файл #%d (%s)", ErrSizeOverflow, i, f.Filename)
		}
		total += f.Size
	}
	o.Files = append(o.Files, files...)
	o.SizeInBytes = total
	o.ItemCount = len(o.Files)
	return nil
}
