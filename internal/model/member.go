package model

import (
	"fmt"
	"strings"
	"time"
)

// MemberStatus is the membership state that gates check-in.
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusInactive MemberStatus = "inactive"
	MemberStatusExpired  MemberStatus = "expired"
)

// ParseMemberStatus maps a raw status string onto the closed set of statuses.
func ParseMemberStatus(raw string) (MemberStatus, error) {
	switch MemberStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case MemberStatusActive:
		return MemberStatusActive, nil
	case MemberStatusInactive:
		return MemberStatusInactive, nil
	case MemberStatusExpired:
		return MemberStatusExpired, nil
	}
	return "", fmt.Errorf("unknown member status %q", raw)
}

// Member sources.
const (
	SourceLocal     = "local"
	SourceDirectory = "directory"
)

// Member is a gym member as known to the check-in desk.
type Member struct {
	ID        string       `gorm:"primaryKey;size:64" json:"id"`
	FullName  string       `gorm:"size:256;not null" json:"full_name"`
	Email     string       `gorm:"size:256;index" json:"email,omitempty"`
	Phone     string       `gorm:"size:32" json:"phone,omitempty"`
	Status    MemberStatus `gorm:"size:16;not null;index" json:"status"`
	Code      *string      `gorm:"uniqueIndex;size:128" json:"code,omitempty"`
	Source    string       `gorm:"size:16;not null;default:local;index" json:"source"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// IsActive reports whether the member may check in or out.
func (m Member) IsActive() bool {
	return m.Status == MemberStatusActive
}
