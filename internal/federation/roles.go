package federation

import "strings"

// Role is the authorization level derived from external group membership.
// Provider group names are never trusted as free-form authorization
// strings; anything outside the known set maps to RoleUnknown.
type Role int

const (
	RoleUnknown Role = iota
	RoleMember
	RoleModerator
	RoleAdmin
)

// String returns the persisted role name
func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}

// ParseRole maps a role name to its enum value, RoleUnknown on anything else
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember
	case "moderator":
		return RoleModerator
	case "admin":
		return RoleAdmin
	}
	return RoleUnknown
}

// ParseGroupRoles parses the configured group-to-role mapping, a
// comma-separated list of "groupID:role" pairs. Entries with an unknown
// role name are dropped.
func ParseGroupRoles(raw string) map[string]Role {
	mapping := make(map[string]Role)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		role := ParseRole(parts[1])
		if role == RoleUnknown {
			continue
		}
		mapping[strings.TrimSpace(parts[0])] = role
	}
	return mapping
}

// DeriveRole picks the role of the mapped group with the highest
// provider-reported position. Groups without a configured mapping are
// ignored; no mapped group at all yields RoleMember.
func DeriveRole(groups []Group, mapping map[string]Role) Role {
	best := RoleMember
	bestPosition := -1
	for _, group := range groups {
		role, ok := mapping[group.ID]
		if !ok {
			continue
		}
		if group.Position > bestPosition {
			best = role
			bestPosition = group.Position
		}
	}
	return best
}
