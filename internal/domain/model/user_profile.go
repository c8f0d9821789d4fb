package model

import "time"

// UserProfile — локальный профиль пользователя.
// Хранится в таблице user_profiles, ключ — sub из JWT.
type UserProfile struct {
	// Subject — идентификатор пользователя в IdP (sub)
	Subject string
	// Username — preferred_username на момент последнего входа
	Username string
	// CanInitiateDownloads — пользователь может подтверждать загрузки
	CanInitiateDownloads bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
