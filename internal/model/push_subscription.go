package model

import "time"

// PushSubscription holds a member's browser push endpoint for visit receipts.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	MemberID  string    `gorm:"size:64;not null;index"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Member *Member `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
}
