// Package push delivers web-push notifications to subscriptions
// registered by clients that want delivery while disconnected.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// ErrSubscriptionGone signals that the push service rejected the
// subscription permanently and it should be dropped.
var ErrSubscriptionGone = errors.New("push subscription gone")

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact address reported to the push service.
	Subscriber string
}

type Sender struct {
	cfg Config
}

func NewSender(cfg Config) *Sender {
	return &Sender{cfg: cfg}
}

// Enabled reports whether VAPID keys were configured. A disabled
// sender silently drops sends so chat delivery never depends on it.
func (s *Sender) Enabled() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

// Send pushes the notification payload to a single subscription.
func (s *Sender) Send(ctx context.Context, sub models.PushSubscription, notification models.Notification) error {
	if !s.Enabled() {
		return nil
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             int((24 * time.Hour).Seconds()),
	})
	if err != nil {
		return fmt.Errorf("push send failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusGone, http.StatusNotFound:
		return ErrSubscriptionGone
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
