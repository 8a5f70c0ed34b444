package model

import "time"

// DateLayout is the calendar-day format stored in AttendanceRecord.Date.
const DateLayout = "2006-01-02"

// AttendanceRecord is one visit. A nil CheckOutTime means the member is inside.
//
// The partial unique index allows at most one open record per member per day.
type AttendanceRecord struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	MemberID     string     `gorm:"size:64;not null;index;uniqueIndex:idx_attendance_open,where:check_out_time IS NULL" json:"member_id"`
	Date         string     `gorm:"size:10;not null;index;uniqueIndex:idx_attendance_open,where:check_out_time IS NULL" json:"date"`
	CheckInTime  time.Time  `gorm:"not null" json:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time"`
	Notes        string     `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`

	// Associations
	Member *Member `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsOpen reports whether the visit has not been checked out yet.
func (r AttendanceRecord) IsOpen() bool {
	return r.CheckOutTime == nil
}

// Duration is the length of a completed visit, zero while open.
func (r AttendanceRecord) Duration() time.Duration {
	if r.CheckOutTime == nil {
		return 0
	}
	return r.CheckOutTime.Sub(r.CheckInTime)
}
