// Package notification pushes check-in and check-out receipts to the member's
// subscribed browsers.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"gym-checkin-backend/internal/checkin"
	"gym-checkin-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the part of the store the workers need.
type SubscriptionStore interface {
	SubscriptionsForMember(ctx context.Context, memberID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint, memberID string) error
}

// Payload is the JSON body delivered to the service worker.
type Payload struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Action   string    `json:"action"`
	RecordID string    `json:"record_id"`
	At       time.Time `json:"at"`
}

// WorkerPool delivers visit events on a fixed number of goroutines.
type WorkerPool struct {
	size    int
	jobs    chan checkin.Event
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
	loc     *time.Location
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. Events beyond queueSize are dropped.
func NewWorkerPool(size, queueSize int, s SubscriptionStore, webpushOptions *webpush.Options, loc *time.Location, log *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan checkin.Event, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		loc:     loc,
		log:     log.Named("notification"),
	}
}

// Start launches the worker goroutines. They exit when ctx is done.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.log.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case ev := <-wp.jobs:
			wp.sendNotificationsForEvent(ctx, ev)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Notify queues ev without blocking the scan that produced it.
func (wp *WorkerPool) Notify(ev checkin.Event) {
	select {
	case wp.jobs <- ev:
	default:
		wp.log.Warn("notification queue full, dropping event",
			zap.String("member_id", ev.MemberID), zap.String("action", string(ev.Action)))
	}
}

func (wp *WorkerPool) buildPayload(ev checkin.Event) ([]byte, error) {
	at := ev.At.In(wp.loc).Format("15:04")
	p := Payload{
		Action:   string(ev.Action),
		RecordID: ev.RecordID,
		At:       ev.At.UTC(),
	}
	switch ev.Action {
	case checkin.ActionCheckIn:
		p.Title = "Checked in"
		p.Body = fmt.Sprintf("Welcome, %s. Checked in at %s.", ev.MemberName, at)
	default:
		p.Title = "Checked out"
		p.Body = fmt.Sprintf("See you soon, %s. Checked out at %s.", ev.MemberName, at)
	}
	return json.Marshal(p)
}

func (wp *WorkerPool) sendNotificationsForEvent(ctx context.Context, ev checkin.Event) {
	subscriptions, err := wp.store.SubscriptionsForMember(ctx, ev.MemberID)
	if err != nil {
		wp.log.Error("failed to load subscriptions", zap.String("member_id", ev.MemberID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := wp.buildPayload(ev)
	if err != nil {
		wp.log.Error("failed to encode payload", zap.Error(err))
		return
	}

	wp.log.Debug("sending notifications", zap.String("member_id", ev.MemberID), zap.Int("count", len(subscriptions)))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint, ""); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
