package internal

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gym-checkin-backend/config"
	"gym-checkin-backend/internal/api"
	"gym-checkin-backend/internal/checkin"
	"gym-checkin-backend/internal/codes"
	"gym-checkin-backend/internal/db"
	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/mw"
	"gym-checkin-backend/internal/notification"
	"gym-checkin-backend/internal/store"
	"gym-checkin-backend/internal/syncer"
)

type directoryFeed struct {
	mu    sync.Mutex
	items []syncer.ApiItem
}

func (f *directoryFeed) set(items ...syncer.ApiItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

func (f *directoryFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	json.NewEncoder(w).Encode(syncer.ApiResponse{
		Data: syncer.ApiData{Page: 1, PageSize: 50, Total: len(f.items), Items: f.items},
	})
}

type pushInbox struct {
	mu       sync.Mutex
	received []string
}

func (p *pushInbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.received = append(p.received, r.URL.Path)
	p.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (p *pushInbox) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

// browserKeys returns a subscription key pair the way a browser would.
func browserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func TestCheckinLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Test Setup ---
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()
	st := store.NewGormStore(gormDB)

	feed := &directoryFeed{}
	feed.set(
		syncer.ApiItem{ID: "alice", FullName: "Alice Smith", Status: "active", Code: ptr("GYM-alice-0a1b2c3d")},
		syncer.ApiItem{ID: "bob", FullName: "Bob Jones", Status: "expired", Code: ptr("GYM-bob-11111111")},
	)
	directory := httptest.NewServer(feed)
	defer directory.Close()

	dirSync := syncer.NewService(config.DirectorySyncConfig{Enabled: true, URL: directory.URL, PageSize: 50}, st, nil)
	res, err := dirSync.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)

	inbox := &pushInbox{}
	pushServer := httptest.NewServer(inbox)
	defer pushServer.Close()

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	pushOpts := &webpush.Options{
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		Subscriber:      "mailto:desk@example.com",
		TTL:             60,
	}
	pool := notification.NewWorkerPool(1, 8, st, pushOpts, time.UTC, nil)
	pool.Start(ctx)

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	setClock := func(t time.Time) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = t
	}

	issuer := codes.NewIssuer("GYM")
	engine := checkin.NewService(st, st,
		checkin.WithClock(clock),
		checkin.WithIssuer(issuer),
		checkin.WithNotifier(pool),
	)
	secret := []byte("integration-secret")
	router := api.NewRouter(api.Deps{
		Store:               st,
		Engine:              engine,
		Issuer:              issuer,
		WebPush:             pushOpts,
		JWTSecret:           secret,
		RateLimitPerSec:     100,
		RateLimitBurst:      100,
		ScanRateLimitPerSec: 100,
		RequestTimeout:      time.Second,
	})

	tok := func(sub string, role model.Role) string {
		s, err := mw.IssueToken(secret, "", sub, role, time.Hour)
		require.NoError(t, err)
		return s
	}
	call := func(method, path, bearer string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	scan := func(code string) (int, map[string]any) {
		w := call(http.MethodPost, "/api/attendance/scan", tok("desk", model.RoleTrainer), map[string]string{"code": code})
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return w.Code, body
	}

	// --- Alice subscribes for receipts ---
	p256dh, auth := browserKeys(t)
	w := call(http.MethodPut, "/api/subscriptions", tok("alice", model.RoleMember), map[string]string{
		"endpoint": pushServer.URL + "/alice",
		"p256dh":   p256dh,
		"auth":     auth,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// --- 09:00 check-in ---
	status, body := scan("GYM-alice-0a1b2c3d")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "check_in", body["action"])
	assert.Eventually(t, func() bool { return inbox.count() == 1 }, 2*time.Second, 20*time.Millisecond)

	// --- Expired member is refused ---
	status, body = scan("GYM-bob-11111111")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "MemberNotActive", body["error_kind"])

	// --- 10:30 check-out ---
	setClock(time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC))
	status, body = scan("GYM-alice-0a1b2c3d")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "check_out", body["action"])
	assert.Eventually(t, func() bool { return inbox.count() == 2 }, 2*time.Second, 20*time.Millisecond)

	// --- 14:00 second visit ---
	setClock(time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC))
	status, body = scan("GYM-alice-0a1b2c3d")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "check_in", body["action"])

	records, err := st.ListRecords(ctx, store.AttendanceFilter{MemberID: "alice"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	open := 0
	for _, r := range records {
		if r.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open, "at most one open visit per day")

	// --- Alice leaves the directory and can no longer check in ---
	feed.set(syncer.ApiItem{ID: "bob", FullName: "Bob Jones", Status: "active", Code: ptr("GYM-bob-11111111")})
	res, err = dirSync.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deactivated)

	setClock(time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC))
	status, _ = scan("GYM-alice-0a1b2c3d")
	assert.Equal(t, http.StatusForbidden, status)
	status, body = scan("GYM-bob-11111111")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "check_in", body["action"])

	cancel()
	pool.Wait()
}

func ptr(s string) *string { return &s }
