package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gym-checkin-backend/internal/model"
)

// AttendanceFilter narrows ListRecords. Empty fields are ignored; dates are
// inclusive calendar days in model.DateLayout.
type AttendanceFilter struct {
	MemberID string
	DateFrom string
	DateTo   string
	OpenOnly bool
	Limit    int
}

// DailyCount is one row of the attendance report.
type DailyCount struct {
	Date    string `json:"date"`
	Visits  int64  `json:"visits"`
	Members int64  `json:"members"`
}

// Stats are the counters shown on the admin dashboard.
type Stats struct {
	TotalMembers    int64 `json:"total_members"`
	ActiveMembers   int64 `json:"active_members"`
	TodayVisits     int64 `json:"today_attendance"`
	CurrentlyInside int64 `json:"currently_inside"`
}

// Store defines the interface for all database operations.
type Store interface {
	ResolveCode(ctx context.Context, code string) (*model.Member, error)
	GetMember(ctx context.Context, id string) (*model.Member, error)
	ListMembers(ctx context.Context, status model.MemberStatus) ([]model.Member, error)
	CreateMember(ctx context.Context, member *model.Member) error
	UpdateMemberStatus(ctx context.Context, id string, status model.MemberStatus) (*model.Member, error)
	SetMemberCode(ctx context.Context, id, code string) (*model.Member, error)
	UpsertDirectoryMembers(ctx context.Context, members []model.Member) error
	DeactivateMissing(ctx context.Context, source string, keepIDs []string) (int64, error)

	FindOpenRecord(ctx context.Context, memberID, date string) (*model.AttendanceRecord, error)
	InsertRecord(ctx context.Context, record *model.AttendanceRecord) error
	CloseRecord(ctx context.Context, record *model.AttendanceRecord) error
	ListRecords(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error)
	DailyCounts(ctx context.Context, from, to string) ([]DailyCount, error)
	Stats(ctx context.Context, date string) (Stats, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint, memberID string) error
	SubscriptionsForMember(ctx context.Context, memberID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// --- Member directory ---

// ResolveCode finds the member holding exactly this code.
func (s *gormStore) ResolveCode(ctx context.Context, code string) (*model.Member, error) {
	var member model.Member
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&member).Error
	if err != nil {
		return nil, notFound(err, "resolve code")
	}
	return &member, nil
}

func (s *gormStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	var member model.Member
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&member).Error; err != nil {
		return nil, notFound(err, "get member "+id)
	}
	return &member, nil
}

func (s *gormStore) ListMembers(ctx context.Context, status model.MemberStatus) ([]model.Member, error) {
	q := s.db.WithContext(ctx).Order("full_name ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var members []model.Member
	if err := q.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *gormStore) CreateMember(ctx context.Context, member *model.Member) error {
	if member.Source == "" {
		member.Source = model.SourceLocal
	}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create member %s: %w", member.ID, ErrCodeTaken)
		}
		return fmt.Errorf("create member %s: %w", member.ID, err)
	}
	return nil
}

func (s *gormStore) UpdateMemberStatus(ctx context.Context, id string, status model.MemberStatus) (*model.Member, error) {
	res := s.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("update status of member %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("update status of member %s: %w", id, ErrNotFound)
	}
	return s.GetMember(ctx, id)
}

// SetMemberCode replaces the member's code; the previous code stops resolving
// immediately.
func (s *gormStore) SetMemberCode(ctx context.Context, id, code string) (*model.Member, error) {
	res := s.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Update("code", code)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, fmt.Errorf("set code of member %s: %w", id, ErrCodeTaken)
		}
		return nil, fmt.Errorf("set code of member %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("set code of member %s: %w", id, ErrNotFound)
	}
	return s.GetMember(ctx, id)
}

// UpsertDirectoryMembers writes members pulled from the upstream directory.
// A member sent without a code keeps the one already on file.
func (s *gormStore) UpsertDirectoryMembers(ctx context.Context, members []model.Member) error {
	if len(members) == 0 {
		return nil
	}
	updates := append(
		clause.AssignmentColumns([]string{"full_name", "email", "phone", "status", "source", "updated_at"}),
		clause.Assignment{Column: clause.Column{Name: "code"}, Value: gorm.Expr("COALESCE(excluded.code, members.code)")},
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: updates,
		}).CreateInBatches(&members, 100).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upsert directory members: %w", ErrCodeTaken)
		}
		return fmt.Errorf("upsert directory members: %w", err)
	}
	return nil
}

// DeactivateMissing marks active members of source that are not in keepIDs
// as inactive and returns how many were changed.
func (s *gormStore) DeactivateMissing(ctx context.Context, source string, keepIDs []string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Member{}).
		Where("source = ? AND status = ?", source, model.MemberStatusActive)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	res := q.Update("status", model.MemberStatusInactive)
	if res.Error != nil {
		return 0, fmt.Errorf("deactivate missing %s members: %w", source, res.Error)
	}
	return res.RowsAffected, nil
}

// --- Attendance ---

// FindOpenRecord returns the member's open visit for date, or nil when the
// member is not inside.
func (s *gormStore) FindOpenRecord(ctx context.Context, memberID, date string) (*model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND date = ? AND check_out_time IS NULL", memberID, date).
		Order("check_in_time DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open record for member %s: %w", memberID, err)
	}
	return &record, nil
}

// InsertRecord persists a new open visit. The partial unique index turns a
// concurrent second check-in into ErrOpenRecordExists.
func (s *gormStore) InsertRecord(ctx context.Context, record *model.AttendanceRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert record for member %s: %w", record.MemberID, ErrOpenRecordExists)
		}
		return fmt.Errorf("insert record for member %s: %w", record.MemberID, err)
	}
	return nil
}

// CloseRecord writes record.CheckOutTime, but only while the row is still open.
func (s *gormStore) CloseRecord(ctx context.Context, record *model.AttendanceRecord) error {
	if record.CheckOutTime == nil {
		return fmt.Errorf("close record %s: check-out time is not set", record.ID)
	}
	res := s.db.WithContext(ctx).Model(&model.AttendanceRecord{}).
		Where("id = ? AND check_out_time IS NULL", record.ID).
		Updates(map[string]any{
			"check_out_time": *record.CheckOutTime,
			"notes":          record.Notes,
		})
	if res.Error != nil {
		return fmt.Errorf("close record %s: %w", record.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("close record %s: %w", record.ID, ErrRecordClosed)
	}
	return nil
}

func (s *gormStore) ListRecords(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error) {
	q := s.db.WithContext(ctx).Model(&model.AttendanceRecord{})
	if filter.MemberID != "" {
		q = q.Where("member_id = ?", filter.MemberID)
	}
	if filter.DateFrom != "" {
		q = q.Where("date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		q = q.Where("date <= ?", filter.DateTo)
	}
	if filter.OpenOnly {
		q = q.Where("check_out_time IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []model.AttendanceRecord
	if err := q.Order("check_in_time DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}

// DailyCounts aggregates visits per day in [from, to].
func (s *gormStore) DailyCounts(ctx context.Context, from, to string) ([]DailyCount, error) {
	var rows []DailyCount
	err := s.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Select("date AS date, COUNT(*) AS visits, COUNT(DISTINCT member_id) AS members").
		Where("date >= ? AND date <= ?", from, to).
		Group("date").
		Order("date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate daily attendance: %w", err)
	}
	return rows, nil
}

func (s *gormStore) Stats(ctx context.Context, date string) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Member{}).Count(&st.TotalMembers).Error; err != nil {
		return st, fmt.Errorf("count members: %w", err)
	}
	if err := db.Model(&model.Member{}).Where("status = ?", model.MemberStatusActive).Count(&st.ActiveMembers).Error; err != nil {
		return st, fmt.Errorf("count active members: %w", err)
	}
	if err := db.Model(&model.AttendanceRecord{}).Where("date = ?", date).Count(&st.TodayVisits).Error; err != nil {
		return st, fmt.Errorf("count visits: %w", err)
	}
	if err := db.Model(&model.AttendanceRecord{}).Where("date = ? AND check_out_time IS NULL", date).Count(&st.CurrentlyInside).Error; err != nil {
		return st, fmt.Errorf("count open visits: %w", err)
	}
	return st, nil
}

// --- Push subscriptions ---

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "member_id"}),
	}).Create(sub).Error
}

// DeleteSubscription removes the endpoint; a non-empty memberID restricts the
// delete to that member's subscription.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint, memberID string) error {
	q := s.db.WithContext(ctx).Where("endpoint = ?", endpoint)
	if memberID != "" {
		q = q.Where("member_id = ?", memberID)
	}
	return q.Delete(&model.PushSubscription{}).Error
}

func (s *gormStore) SubscriptionsForMember(ctx context.Context, memberID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("subscriptions for member %s: %w", memberID, err)
	}
	return subs, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
