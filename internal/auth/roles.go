// SPDX-License-Identifier: MIT

package auth

// Roles, in descending order of privilege.
const (
	RoleAdmin     = "admin"
	RoleJudge     = "judge"
	RoleViewer    = "viewer"
	RoleSpectator = "spectator"
)

func containsBox(boxes []int, boxID int) bool {
	for _, b := range boxes {
		if b == boxID {
			return true
		}
	}
	return false
}

// CanCommand reports whether the claims allow mutating the given box.
func CanCommand(c *Claims, boxID int) bool {
	if c == nil {
		return false
	}
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleJudge:
		return containsBox(c.Boxes, boxID)
	default:
		return false
	}
}

// CanRead reports whether the claims allow reading the given box
// (snapshots and the per-box socket). Viewers with an explicit box list
// are held to it.
func CanRead(c *Claims, boxID int) bool {
	if c == nil {
		return false
	}
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleJudge:
		return containsBox(c.Boxes, boxID)
	case RoleViewer:
		if len(c.Boxes) == 0 {
			return true
		}
		return containsBox(c.Boxes, boxID)
	default:
		return false
	}
}

// CanPublic reports whether the claims may use the public plane. Every
// authenticated role qualifies, including spectators.
func CanPublic(c *Claims) bool {
	if c == nil {
		return false
	}
	switch c.Role {
	case RoleAdmin, RoleJudge, RoleViewer, RoleSpectator:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the claims carry the admin role.
func IsAdmin(c *Claims) bool {
	return c != nil && c.Role == RoleAdmin
}
