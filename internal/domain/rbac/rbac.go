// Пакет rbac — определение роли пользователя и права на запуск загрузок.
// Роль вычисляется из групп IdP; право на загрузку даёт роль не ниже
// downloader либо локальный флаг профиля can_initiate_downloads.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleViewer     = "viewer"
	RoleDownloader = "downloader"
	RoleAdmin      = "admin"
)

// Scopes для Service Accounts.
const (
	// ScopeCollectionsRead — чтение и проверка коллекций.
	ScopeCollectionsRead = "collections:read"
	// ScopeDownloadsWrite — подтверждение загрузок.
	ScopeDownloadsWrite = "downloads:write"
	// ScopeDownloadsReport — отчёты загрузчика о ходе задания.
	ScopeDownloadsReport = "downloads:report"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleViewer:     1,
	RoleDownloader: 2,
	RoleAdmin:      3,
}

// GroupMapping — соответствие групп IdP ролям.
type GroupMapping struct {
	AdminGroups      []string
	DownloaderGroups []string
	ViewerGroups     []string
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя по его группам IdP.
// Возвращает максимальную роль из всех совпадений или пустую строку.
func MapGroupsToRole(groups []string, m GroupMapping) string {
	adminSet := toSet(m.AdminGroups)
	downloaderSet := toSet(m.DownloaderGroups)
	viewerSet := toSet(m.ViewerGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if downloaderSet[g] {
			roles = append(roles, RoleDownloader)
		}
		if viewerSet[g] {
			roles = append(roles, RoleViewer)
		}
	}

	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// AtLeast сообщает, не ниже ли роль role требуемой required.
func AtLeast(role, required string) bool {
	w, ok := roleWeight[role]
	return ok && w >= roleWeight[required]
}

// CanInitiateDownloads — право подтверждать загрузку коллекций.
// profileFlag — значение user_profiles.can_initiate_downloads.
func CanInitiateDownloads(role string, profileFlag bool) bool {
	return profileFlag || AtLeast(role, RoleDownloader)
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
