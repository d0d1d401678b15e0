package client

import (
	"encoding/json"
	"log/slog"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// router demultiplexes inbound frames into the four typed channels.
// Each frame reaches exactly one handler. A malformed payload is
// dropped so one bad frame cannot break the stream for the rest.
type router struct {
	onMessage      func(models.Message)
	onReadReceipt  func(models.ReadReceipt)
	onTyping       func(models.TypingIndicator)
	onNotification func(models.Notification)
}

func (r *router) dispatch(frame models.Frame) {
	switch frame.Channel {
	case models.ChannelMessages:
		var msg models.Message
		if r.decode(frame, &msg) {
			r.onMessage(msg)
		}
	case models.ChannelReadReceipts:
		var receipt models.ReadReceipt
		if r.decode(frame, &receipt) {
			r.onReadReceipt(receipt)
		}
	case models.ChannelTyping:
		var indicator models.TypingIndicator
		if r.decode(frame, &indicator) {
			r.onTyping(indicator)
		}
	case models.ChannelNotifications:
		var notification models.Notification
		if r.decode(frame, &notification) {
			r.onNotification(notification)
		}
	default:
		slog.Debug("dropping frame for unknown channel", "channel", frame.Channel)
	}
}

func (r *router) decode(frame models.Frame, v any) bool {
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		slog.Debug("dropping malformed frame", "channel", frame.Channel, "error", err)
		return false
	}
	return true
}
