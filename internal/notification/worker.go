package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
)

const jobsPerWorker = 64

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

// Message is the push payload shown to a requester.
type Message struct {
	Title     string              `json:"title"`
	Body      string              `json:"body"`
	RequestID int64               `json:"requestId"`
	Status    model.RequestStatus `json:"status"`
}

// Job is one notification addressed to every subscription of a user.
type Job struct {
	UserID  string
	Message Message
}

// WorkerPool sends push notifications to requesters when their requests are
// answered. It subscribes to the event stream and never blocks it.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*jobsPerWorker),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForUser(ctx, job)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Deliver turns request answers into jobs. A full queue drops the job rather
// than stall event delivery.
func (wp *WorkerPool) Deliver(env *events.Envelope) bool {
	job, ok := jobFor(env.Event)
	if !ok {
		return true
	}
	select {
	case wp.jobs <- job:
	default:
		log.Printf("Notification queue full, dropping %s notification for request %d", env.Event.Type(), job.Message.RequestID)
	}
	return true
}

func jobFor(ev model.Event) (Job, bool) {
	var (
		req model.Request
		msg Message
	)
	switch e := ev.(type) {
	case model.RequestResolved:
		req = e.Request
		if req.Status == model.RequestApproved {
			msg.Title = "Bay request approved"
			msg.Body = fmt.Sprintf("%s is cleared for bay %d.", req.FlightCallsign, req.RequestedBayID)
		} else {
			msg.Title = "Bay request denied"
			msg.Body = fmt.Sprintf("Request for %s at bay %d was denied.", req.FlightCallsign, req.RequestedBayID)
		}
	case model.AlternativeSuggested:
		req = e.Request
		if req.SuggestedBayID == nil {
			return Job{}, false
		}
		msg.Title = "Alternative bay suggested"
		msg.Body = fmt.Sprintf("Bay %d is suggested for %s instead of bay %d.", *req.SuggestedBayID, req.FlightCallsign, req.RequestedBayID)
	default:
		return Job{}, false
	}
	if req.UserID == "" {
		return Job{}, false
	}
	msg.RequestID = req.ID
	msg.Status = req.Status
	return Job{UserID: req.UserID, Message: msg}, true
}

func (wp *WorkerPool) sendNotificationsForUser(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Where("user_id = ?", job.UserID).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for user %s: %v", job.UserID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(job.Message)
	if err != nil {
		log.Printf("Error encoding notification for request %d: %v", job.Message.RequestID, err)
		return
	}

	log.Printf("Sending %d notifications for request %d", len(subscriptions), job.Message.RequestID)
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
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
