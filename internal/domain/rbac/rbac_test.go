package rbac

import "testing"

func testMapping() GroupMapping {
	return GroupMapping{
		AdminGroups:      []string{"warc-admins"},
		DownloaderGroups: []string{"warc-downloaders", "library-staff"},
		ViewerGroups:     []string{"warc-viewers"},
	}
}

func TestMapGroupsToRole(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{"нет групп", nil, ""},
		{"чужие группы", []string{"hr"}, ""},
		{"viewer", []string{"warc-viewers"}, RoleViewer},
		{"downloader по второй группе", []string{"library-staff"}, RoleDownloader},
		{"viewer + downloader → downloader", []string{"warc-viewers", "warc-downloaders"}, RoleDownloader},
		{"admin побеждает", []string{"warc-viewers", "warc-admins", "library-staff"}, RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapGroupsToRole(tt.groups, testMapping()); got != tt.want {
				t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", tt.groups, got, tt.want)
			}
		})
	}
}

func TestCanInitiateDownloads(t *testing.T) {
	tests := []struct {
		name string
		role string
		flag bool
		want bool
	}{
		{"без роли и флага", "", false, false},
		{"viewer", RoleViewer, false, false},
		{"viewer с флагом профиля", RoleViewer, true, true},
		{"без роли с флагом профиля", "", true, true},
		{"downloader", RoleDownloader, false, true},
		{"admin", RoleAdmin, false, true},
		{"неизвестная роль", "superuser", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanInitiateDownloads(tt.role, tt.flag); got != tt.want {
				t.Errorf("CanInitiateDownloads(%q, %v) = %v, хотели %v", tt.role, tt.flag, got, tt.want)
			}
		})
	}
}

func TestHighestRole(t *testing.T) {
	if HighestRole(nil) != "" {
		t.Error("пустой набор должен давать пустую роль")
	}
	if got := HighestRole([]string{RoleViewer, RoleAdmin, RoleDownloader}); got != RoleAdmin {
		t.Errorf("HighestRole = %q, хотели admin", got)
	}
	if !IsValidRole(RoleDownloader) || IsValidRole("readonly") {
		t.Error("IsValidRole: неверный набор ролей")
	}
}
