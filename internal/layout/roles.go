package layout

import "sort"

// Role is a stable logical label for a monitor. Snapshots reference roles
// instead of output names so a layout captured on three monitors still
// restores on one.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
	RoleTertiary  Role = "tertiary"
)

// MonitorConfig records one output as seen at capture time.
type MonitorConfig struct {
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Rect      Rect   `json:"rect"`
	Primary   bool   `json:"primary,omitempty"`
	Workspace int    `json:"workspace,omitempty"`
}

// AssignRoles orders monitors (primary flag first, then left to right) and
// labels them primary, secondary, tertiary. Outputs beyond the third share
// the tertiary role.
func AssignRoles(monitors []MonitorConfig) []MonitorConfig {
	out := append([]MonitorConfig(nil), monitors...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Primary != out[j].Primary {
			return out[i].Primary
		}
		return out[i].Rect.X < out[j].Rect.X
	})
	roles := []Role{RolePrimary, RoleSecondary, RoleTertiary}
	for i := range out {
		if i < len(roles) {
			out[i].Role = roles[i]
		} else {
			out[i].Role = RoleTertiary
		}
	}
	return out
}

// ResolveRole maps a captured role onto the current monitor set. Missing
// roles collapse toward primary: tertiary falls back to secondary, secondary
// to primary. The boolean reports whether the exact role was present.
func ResolveRole(role Role, current []MonitorConfig) (MonitorConfig, bool) {
	byRole := make(map[Role]MonitorConfig, len(current))
	for _, m := range current {
		if _, seen := byRole[m.Role]; !seen {
			byRole[m.Role] = m
		}
	}
	if m, ok := byRole[role]; ok {
		return m, true
	}
	if role == RoleTertiary {
		if m, ok := byRole[RoleSecondary]; ok {
			return m, false
		}
	}
	return byRole[RolePrimary], false
}
