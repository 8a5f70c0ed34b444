package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrOpenRecordExists is returned when an insert would give a member a
	// second open visit on the same day.
	ErrOpenRecordExists = errors.New("member already has an open attendance record for this day")
	// ErrRecordClosed is returned when a check-out targets a visit that was
	// closed in the meantime.
	ErrRecordClosed = errors.New("attendance record is already checked out")
	// ErrCodeTaken is returned when a member code collides with another member's.
	ErrCodeTaken = errors.New("member code already in use")
)

// isUniqueViolation recognises unique-index failures from postgres and sqlite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
