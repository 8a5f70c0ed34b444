package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/store"
)

// memStore is an in-memory MemberDirectory and AttendanceStore that enforces
// the one-open-visit rule the way the database index does.
type memStore struct {
	mu      sync.Mutex
	members map[string]*model.Member
	records []*model.AttendanceRecord

	insertErr error
	blockFind bool
	calls     int
}

func newMemStore() *memStore {
	return &memStore{members: make(map[string]*model.Member)}
}

func (m *memStore) addMember(id, name, code string, status model.MemberStatus) *model.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem := &model.Member{ID: id, FullName: name, Status: status}
	if code != "" {
		mem.Code = &code
	}
	m.members[id] = mem
	return mem
}

func (m *memStore) ResolveCode(_ context.Context, code string) (*model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, mem := range m.members {
		if mem.Code != nil && *mem.Code == code {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("resolve code: %w", store.ErrNotFound)
}

func (m *memStore) GetMember(_ context.Context, id string) (*model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok {
		return nil, fmt.Errorf("get member %s: %w", id, store.ErrNotFound)
	}
	cp := *mem
	return &cp, nil
}

func (m *memStore) FindOpenRecord(ctx context.Context, memberID, date string) (*model.AttendanceRecord, error) {
	if m.blockFind {
		<-ctx.Done()
		return nil, fmt.Errorf("find open record: %w", ctx.Err())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.MemberID == memberID && r.Date == date && r.CheckOutTime == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertRecord(_ context.Context, record *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return fmt.Errorf("insert record: %w", m.insertErr)
	}
	for _, r := range m.records {
		if r.MemberID == record.MemberID && r.Date == record.Date && r.CheckOutTime == nil {
			return fmt.Errorf("insert record: %w", store.ErrOpenRecordExists)
		}
	}
	cp := *record
	m.records = append(m.records, &cp)
	return nil
}

func (m *memStore) CloseRecord(_ context.Context, record *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID != record.ID {
			continue
		}
		if r.CheckOutTime != nil {
			return fmt.Errorf("close record: %w", store.ErrRecordClosed)
		}
		out := *record.CheckOutTime
		r.CheckOutTime = &out
		r.Notes = record.Notes
		return nil
	}
	return fmt.Errorf("close record: %w", store.ErrRecordClosed)
}

func (m *memStore) snapshot() []model.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AttendanceRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}
