package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-checkin-backend/config"
	"gym-checkin-backend/internal/model"
)

// mockStore is a mock implementation of DirectoryStore.
type mockStore struct {
	UpsertFunc     func(ctx context.Context, members []model.Member) error
	DeactivateFunc func(ctx context.Context, source string, keepIDs []string) (int64, error)
}

func (m *mockStore) UpsertDirectoryMembers(ctx context.Context, members []model.Member) error {
	return m.UpsertFunc(ctx, members)
}

func (m *mockStore) DeactivateMissing(ctx context.Context, source string, keepIDs []string) (int64, error) {
	return m.DeactivateFunc(ctx, source, keepIDs)
}

func strPtr(s string) *string { return &s }

// pagedDirectory serves items two per page; failFrom > 0 makes that page and
// every later one return 500.
func pagedDirectory(t *testing.T, items []ApiItem, failFrom int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		if failFrom > 0 && page >= failFrom {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		start := (page - 1) * size
		end := start + size
		if start > len(items) {
			start = len(items)
		}
		if end > len(items) {
			end = len(items)
		}
		json.NewEncoder(w).Encode(ApiResponse{
			Code: 0,
			Data: ApiData{Page: page, PageSize: size, Total: len(items), Items: items[start:end]},
		})
	}))
}

func testConfig(url string) config.DirectorySyncConfig {
	return config.DirectorySyncConfig{
		Enabled:  true,
		URL:      url,
		PageSize: 2,
		Interval: time.Hour,
		Headers:  map[string]string{"X-Api-Key": "secret"},
	}
}

var directoryItems = []ApiItem{
	{ID: "d1", FullName: " Dee One ", Status: "active", Code: strPtr("GYM-d1-aaaaaaaa")},
	{ID: "d2", FullName: "Dee Two", Status: "EXPIRED"},
	{ID: "", FullName: "No Id", Status: "active"},
	{ID: "d4", FullName: "Dee Four", Status: "suspended"},
	{ID: "d5", FullName: "Dee Five", Status: "active", Code: strPtr("  ")},
}

func TestSyncOnce_CompleteFeed(t *testing.T) {
	server := pagedDirectory(t, directoryItems, 0)
	defer server.Close()

	var upserted []model.Member
	var keep []string
	s := NewService(testConfig(server.URL), &mockStore{
		UpsertFunc: func(ctx context.Context, members []model.Member) error {
			upserted = members
			return nil
		},
		DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
			assert.Equal(t, model.SourceDirectory, source)
			keep = keepIDs
			return 3, nil
		},
	}, nil)

	res, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 4, res.Upserted)
	assert.Equal(t, int64(3), res.Deactivated)
	assert.Equal(t, []string{"d1", "d2", "d4", "d5"}, keep)

	require.Len(t, upserted, 4)
	assert.Equal(t, "Dee One", upserted[0].FullName)
	assert.Equal(t, model.SourceDirectory, upserted[0].Source)
	require.NotNil(t, upserted[0].Code)
	assert.Equal(t, "GYM-d1-aaaaaaaa", *upserted[0].Code)
	assert.Equal(t, model.MemberStatusExpired, upserted[1].Status)
	assert.Equal(t, model.MemberStatusInactive, upserted[2].Status, "unknown statuses are not active")
	assert.Nil(t, upserted[3].Code, "blank codes are dropped")
}

func TestSyncOnce_PartialFeedSkipsDeactivation(t *testing.T) {
	server := pagedDirectory(t, directoryItems, 2)
	defer server.Close()

	var deactivated int32
	s := NewService(testConfig(server.URL), &mockStore{
		UpsertFunc: func(ctx context.Context, members []model.Member) error {
			assert.Len(t, members, 2)
			return nil
		},
		DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
			atomic.AddInt32(&deactivated, 1)
			return 0, nil
		},
	}, nil)

	res, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 2, res.Upserted)
	assert.Zero(t, atomic.LoadInt32(&deactivated))
}

// truncatedDirectory reports total members but serves only the first page;
// every later page comes back empty.
func truncatedDirectory(t *testing.T, items []ApiItem, total int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		data := ApiData{Page: page, PageSize: 2, Total: total}
		if page == 1 {
			data.Items = items
		}
		json.NewEncoder(w).Encode(ApiResponse{Code: 0, Data: data})
	}))
}

func TestSyncOnce_TruncatedFeedSkipsDeactivation(t *testing.T) {
	server := truncatedDirectory(t, directoryItems[:2], 6)
	defer server.Close()

	var changes int32
	s := NewService(testConfig(server.URL), &mockStore{
		UpsertFunc: func(ctx context.Context, members []model.Member) error {
			assert.Len(t, members, 2)
			return nil
		},
		DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
			t.Fatalf("deactivate must not run for a truncated feed, keep=%v", keepIDs)
			return 0, nil
		},
	}, nil)
	s.OnChange(func() { atomic.AddInt32(&changes, 1) })

	res, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&changes), "upserted members still count as a change")
}

func TestSyncOnce_EmptyFeedChangesNothing(t *testing.T) {
	testCases := []struct {
		name  string
		total int
	}{
		{name: "zero total", total: 0},
		{name: "total without items", total: 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := truncatedDirectory(t, nil, tc.total)
			defer server.Close()

			s := NewService(testConfig(server.URL), &mockStore{
				UpsertFunc: func(ctx context.Context, members []model.Member) error {
					t.Fatal("upsert must not run")
					return nil
				},
				DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
					t.Fatal("deactivate must not run")
					return 0, nil
				},
			}, nil)
			s.OnChange(func() { t.Fatal("nothing changed") })

			res, err := s.SyncOnce(context.Background())
			require.NoError(t, err)
			assert.False(t, res.Complete)
			assert.Zero(t, res.Fetched)
		})
	}
}

func TestSyncOnce_OnChangeAfterCompleteFeed(t *testing.T) {
	server := pagedDirectory(t, directoryItems, 0)
	defer server.Close()

	var changes int32
	s := NewService(testConfig(server.URL), &mockStore{
		UpsertFunc: func(ctx context.Context, members []model.Member) error { return nil },
		DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
			assert.Zero(t, atomic.LoadInt32(&changes), "hook runs after deactivation")
			return 1, nil
		},
	}, nil)
	s.OnChange(func() { atomic.AddInt32(&changes, 1) })

	res, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, int32(1), atomic.LoadInt32(&changes))
}

func TestSyncOnce_FailedFetchChangesNothing(t *testing.T) {
	server := pagedDirectory(t, directoryItems, 1)
	defer server.Close()

	s := NewService(testConfig(server.URL), &mockStore{
		UpsertFunc: func(ctx context.Context, members []model.Member) error {
			t.Fatal("upsert must not run")
			return nil
		},
		DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
			t.Fatal("deactivate must not run")
			return 0, nil
		},
	}, nil)

	_, err := s.SyncOnce(context.Background())
	assert.Error(t, err)
}

func TestSyncOnce_ApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ApiResponse{Code: 401, Message: "bad key"})
	}))
	defer server.Close()

	s := NewService(testConfig(server.URL), &mockStore{}, nil)
	_, err := s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestRun_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Enabled = false
	s := NewService(cfg, &mockStore{}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when disabled")
	}
}

func TestRun_SyncsUntilCancelled(t *testing.T) {
	server := pagedDirectory(t, directoryItems[:1], 0)
	defer server.Close()

	var cycles int32
	s := NewService(testConfig(server.URL), &mockStore{
		UpsertFunc: func(ctx context.Context, members []model.Member) error {
			atomic.AddInt32(&cycles, 1)
			return nil
		},
		DeactivateFunc: func(ctx context.Context, source string, keepIDs []string) (int64, error) {
			return 0, nil
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&cycles) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
