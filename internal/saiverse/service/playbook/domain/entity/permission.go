package entity

// PermissionLevel controls whether EXEC may run a named playbook.
type PermissionLevel string

const (
	PermissionBlocked      PermissionLevel = "blocked"
	PermissionAskEveryTime PermissionLevel = "ask_every_time"
	PermissionUserOnly     PermissionLevel = "user_only"
	PermissionAutoAllow    PermissionLevel = "auto_allow"
)

// Valid reports whether the level is one of the recognized values.
func (l PermissionLevel) Valid() bool {
	switch l {
	case PermissionBlocked, PermissionAskEveryTime, PermissionUserOnly, PermissionAutoAllow:
		return true
	}
	return false
}

// Permission is one per-city permission record.
type Permission struct {
	CityID       string          `json:"city_id"`
	PlaybookName string          `json:"playbook_name"`
	Level        PermissionLevel `json:"permission_level"`
}
