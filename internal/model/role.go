package model

import (
	"fmt"
	"strings"
)

// Role is the caller's role as carried in the bearer token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleMember  Role = "member"
)

// ParseRole maps a raw claim onto the closed set of roles.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTrainer:
		return RoleTrainer, nil
	case RoleMember:
		return RoleMember, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// CanOperateDesk reports whether the role may scan codes and read other
// members' attendance.
func (r Role) CanOperateDesk() bool {
	switch r {
	case RoleAdmin, RoleTrainer:
		return true
	default:
		return false
	}
}
