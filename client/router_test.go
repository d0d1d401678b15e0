package client

import (
	"encoding/json"
	"testing"

	"github.com/ltmoamin/RentalCar/internal/models"
)

func TestRouter_DispatchesToExactlyOneChannel(t *testing.T) {
	var (
		messages      []models.Message
		receipts      []models.ReadReceipt
		typing        []models.TypingIndicator
		notifications []models.Notification
	)
	r := &router{
		onMessage:      func(m models.Message) { messages = append(messages, m) },
		onReadReceipt:  func(rr models.ReadReceipt) { receipts = append(receipts, rr) },
		onTyping:       func(ti models.TypingIndicator) { typing = append(typing, ti) },
		onNotification: func(n models.Notification) { notifications = append(notifications, n) },
	}

	dispatch := func(channel models.Channel, payload any) {
		frame, err := models.NewFrame(channel, payload)
		if err != nil {
			t.Fatal(err)
		}
		r.dispatch(frame)
	}

	dispatch(models.ChannelMessages, models.Message{ID: "m1", ConversationID: "c1"})
	dispatch(models.ChannelReadReceipts, models.ReadReceipt{ConversationID: "c1"})
	dispatch(models.ChannelTyping, models.TypingIndicator{ConversationID: "c1", IsTyping: true})
	dispatch(models.ChannelNotifications, models.Notification{ID: "n1", Type: models.NotificationTypeChat})

	if len(messages) != 1 || len(receipts) != 1 || len(typing) != 1 || len(notifications) != 1 {
		t.Errorf("expected one event per channel, got %d/%d/%d/%d",
			len(messages), len(receipts), len(typing), len(notifications))
	}
	if messages[0].ID != "m1" {
		t.Errorf("message payload lost: %+v", messages[0])
	}
}

func TestRouter_DropsMalformedAndUnknown(t *testing.T) {
	var messages []models.Message
	r := &router{
		onMessage:      func(m models.Message) { messages = append(messages, m) },
		onReadReceipt:  func(models.ReadReceipt) {},
		onTyping:       func(models.TypingIndicator) {},
		onNotification: func(models.Notification) {},
	}

	// Malformed payload: dropped, no panic
	r.dispatch(models.Frame{Channel: models.ChannelMessages, Payload: json.RawMessage(`{"id": 42`)})

	// Unknown channel: dropped
	r.dispatch(models.Frame{Channel: "presence", Payload: json.RawMessage(`{}`)})

	// The stream keeps working afterwards
	frame, err := models.NewFrame(models.ChannelMessages, models.Message{ID: "m2"})
	if err != nil {
		t.Fatal(err)
	}
	r.dispatch(frame)

	if len(messages) != 1 || messages[0].ID != "m2" {
		t.Errorf("valid frame after malformed one was not processed: %+v", messages)
	}
}
