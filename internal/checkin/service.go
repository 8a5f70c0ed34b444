// Package checkin decides whether a scanned member code is a check-in or a
// check-out and records the visit.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"gym-checkin-backend/internal/codes"
	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/store"
)

// DefaultDebounceWindow is how long a repeat scan of the same member is
// treated as a double trigger.
const DefaultDebounceWindow = 2 * time.Second

// Action is the outcome of a successful scan.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// MemberDirectory resolves scanned codes to members.
type MemberDirectory interface {
	ResolveCode(ctx context.Context, code string) (*model.Member, error)
	GetMember(ctx context.Context, id string) (*model.Member, error)
}

// AttendanceStore persists visits.
type AttendanceStore interface {
	FindOpenRecord(ctx context.Context, memberID, date string) (*model.AttendanceRecord, error)
	InsertRecord(ctx context.Context, record *model.AttendanceRecord) error
	CloseRecord(ctx context.Context, record *model.AttendanceRecord) error
}

// Notifier receives an Event after every recorded check-in or check-out.
// Notify must not block.
type Notifier interface {
	Notify(ev Event)
}

// Event describes a recorded visit change.
type Event struct {
	MemberID   string
	MemberName string
	Action     Action
	RecordID   string
	At         time.Time
}

// ScanRequest is one presentation of a code. Notes are stored on the visit
// but never influence the decision.
type ScanRequest struct {
	Code  string
	Notes string
}

// ScanResult reports what a scan did. Duplicate is set when the scan was
// absorbed as a double trigger and nothing was written.
type ScanResult struct {
	Action    Action
	Message   string
	Member    model.Member
	Record    model.AttendanceRecord
	Duplicate bool
}

// Presence is a member's attendance state for today.
type Presence struct {
	Member    model.Member
	CheckedIn bool
	Record    *model.AttendanceRecord
}

type lastScan struct {
	at     time.Time
	result ScanResult
}

// Service is the attendance toggle engine.
type Service struct {
	members  MemberDirectory
	records  AttendanceStore
	locker   Locker
	issuer   *codes.Issuer
	notifier Notifier
	log      *zap.Logger

	loc    *time.Location
	now    func() time.Time
	window time.Duration
	recent *cache.Cache
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone that decides which calendar day a scan
// belongs to.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithDebounce sets the double-trigger window; zero or negative disables it.
func WithDebounce(window time.Duration) Option {
	return func(s *Service) { s.window = window }
}

// WithLocker replaces the in-process per-member lock.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithNotifier registers a receiver for visit events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithIssuer lets the engine recognise codes that were replaced by a reissue.
func WithIssuer(issuer *codes.Issuer) Option {
	return func(s *Service) { s.issuer = issuer }
}

// NewService creates the engine.
func NewService(members MemberDirectory, records AttendanceStore, opts ...Option) *Service {
	s := &Service{
		members: members,
		records: records,
		locker:  NewLocalLocker(),
		log:     zap.NewNop(),
		loc:     time.UTC,
		now:     time.Now,
		window:  DefaultDebounceWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.window > 0 {
		s.recent = cache.New(s.window, 10*s.window)
	}
	return s
}

// Today returns the current calendar day in the engine's timezone.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(model.DateLayout)
}

// ProcessScan resolves code, then checks the member in or out depending only
// on the visits already stored for today. Scans of the same member are
// serialized; scans of different members run independently.
func (s *Service) ProcessScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	code := codes.Normalize(req.Code)
	if code == "" {
		return nil, newError(InvalidInput, "", nil)
	}

	member, err := s.members.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.unknownCode(ctx, code)
		}
		return nil, s.storageError("resolve code", err)
	}

	if !member.IsActive() {
		s.log.Info("scan rejected: member not active",
			zap.String("member_id", member.ID), zap.String("status", string(member.Status)))
		return nil, newError(MemberNotActive,
			fmt.Sprintf("%s's membership is %s. Only active members can check in.", member.FullName, member.Status), nil)
	}

	unlock, err := s.locker.Lock(ctx, member.ID)
	if err != nil {
		return nil, s.storageError("lock member "+member.ID, err)
	}
	defer unlock()

	now := s.now()
	date := now.In(s.loc).Format(model.DateLayout)

	if res, ok := s.recentScan(member.ID, date, now); ok {
		s.log.Info("duplicate scan absorbed", zap.String("member_id", member.ID), zap.String("action", string(res.Action)))
		return res, nil
	}

	open, err := s.records.FindOpenRecord(ctx, member.ID, date)
	if err != nil {
		return nil, s.storageError("find open record", err)
	}

	var result *ScanResult
	if open == nil {
		result, err = s.checkIn(ctx, member, date, now, req.Notes)
	} else {
		result, err = s.checkOut(ctx, member, open, now, req.Notes)
	}
	if err != nil {
		return nil, err
	}

	s.remember(member.ID, date, now, result)
	if !result.Duplicate {
		s.log.Info("attendance recorded",
			zap.String("member_id", member.ID),
			zap.String("action", string(result.Action)),
			zap.String("record_id", result.Record.ID),
			zap.String("date", date))
		if s.notifier != nil {
			s.notifier.Notify(Event{
				MemberID:   member.ID,
				MemberName: member.FullName,
				Action:     result.Action,
				RecordID:   result.Record.ID,
				At:         now,
			})
		}
	}
	return result, nil
}

func (s *Service) checkIn(ctx context.Context, member *model.Member, date string, now time.Time, notes string) (*ScanResult, error) {
	record := model.AttendanceRecord{
		ID:          uuid.NewString(),
		MemberID:    member.ID,
		Date:        date,
		CheckInTime: now.UTC(),
		Notes:       notes,
	}
	if err := s.records.InsertRecord(ctx, &record); err != nil {
		if errors.Is(err, store.ErrOpenRecordExists) {
			return s.concurrentCheckIn(ctx, member, date)
		}
		return nil, s.storageError("insert record", err)
	}
	return &ScanResult{
		Action:  ActionCheckIn,
		Message: fmt.Sprintf("%s checked in successfully", member.FullName),
		Member:  *member,
		Record:  record,
	}, nil
}

func (s *Service) checkOut(ctx context.Context, member *model.Member, open *model.AttendanceRecord, now time.Time, notes string) (*ScanResult, error) {
	out := now.UTC()
	if out.Before(open.CheckInTime) {
		out = open.CheckInTime
	}
	record := *open
	record.CheckOutTime = &out
	if notes != "" {
		record.Notes = notes
	}
	if err := s.records.CloseRecord(ctx, &record); err != nil {
		if errors.Is(err, store.ErrRecordClosed) {
			s.log.Warn("open record closed concurrently", zap.String("record_id", open.ID))
			return &ScanResult{
				Action:    ActionCheckOut,
				Message:   fmt.Sprintf("%s is already checked out", member.FullName),
				Member:    *member,
				Record:    record,
				Duplicate: true,
			}, nil
		}
		return nil, s.storageError("close record", err)
	}
	return &ScanResult{
		Action:  ActionCheckOut,
		Message: fmt.Sprintf("%s checked out successfully", member.FullName),
		Member:  *member,
		Record:  record,
	}, nil
}

// concurrentCheckIn handles an insert that lost the race to another instance.
func (s *Service) concurrentCheckIn(ctx context.Context, member *model.Member, date string) (*ScanResult, error) {
	open, err := s.records.FindOpenRecord(ctx, member.ID, date)
	if err != nil {
		return nil, s.storageError("re-read open record", err)
	}
	if open == nil {
		return nil, s.storageError("re-read open record", store.ErrOpenRecordExists)
	}
	s.log.Warn("concurrent check-in absorbed", zap.String("member_id", member.ID), zap.String("record_id", open.ID))
	return &ScanResult{
		Action:    ActionCheckIn,
		Message:   fmt.Sprintf("%s is already checked in", member.FullName),
		Member:    *member,
		Record:    *open,
		Duplicate: true,
	}, nil
}

// Status reports whether the member is currently checked in today.
func (s *Service) Status(ctx context.Context, memberID string) (*Presence, error) {
	member, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(UnknownCode, "member not found", err)
		}
		return nil, s.storageError("get member", err)
	}
	open, err := s.records.FindOpenRecord(ctx, member.ID, s.Today())
	if err != nil {
		return nil, s.storageError("find open record", err)
	}
	return &Presence{Member: *member, CheckedIn: open != nil, Record: open}, nil
}

func (s *Service) recentScan(memberID, date string, now time.Time) (*ScanResult, bool) {
	if s.recent == nil {
		return nil, false
	}
	v, ok := s.recent.Get(memberID + ":" + date)
	if !ok {
		return nil, false
	}
	last := v.(lastScan)
	if now.Before(last.at) || now.Sub(last.at) >= s.window {
		return nil, false
	}
	res := last.result
	res.Duplicate = true
	res.Message = fmt.Sprintf("Scan ignored: %s was just processed", res.Member.FullName)
	return &res, true
}

func (s *Service) remember(memberID, date string, now time.Time, result *ScanResult) {
	if s.recent == nil {
		return
	}
	s.recent.Set(memberID+":"+date, lastScan{at: now, result: *result}, cache.DefaultExpiration)
}

func (s *Service) unknownCode(ctx context.Context, code string) error {
	if s.issuer != nil {
		if memberID, ok := s.issuer.Parse(code); ok {
			if _, err := s.members.GetMember(ctx, memberID); err == nil {
				s.log.Info("scan rejected: replaced code", zap.String("member_id", memberID))
				return newError(UnknownCode, "This card has been replaced. Please use the member's current code.", nil)
			}
		}
	}
	s.log.Info("scan rejected: unknown code")
	return newError(UnknownCode, "", nil)
}

func (s *Service) storageError(op string, err error) error {
	s.log.Error("attendance storage failure", zap.String("op", op), zap.Error(err))
	return newError(StorageError, "", fmt.Errorf("%s: %w", op, err))
}
