package notify

import (
	"context"
	"fmt"

	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/logger"
)

type jsonPublisher interface {
	PublishJSON(ctx context.Context, key, messageID string, v any) error
}

// MQSink forwards events to the message bus for the notifier worker.
type MQSink struct {
	pub jsonPublisher
}

func NewMQSink(pub jsonPublisher) *MQSink {
	return &MQSink{pub: pub}
}

func (s *MQSink) Name() string { return "mq" }

func (s *MQSink) Notify(ctx context.Context, event events.SessionCreated) error {
	return s.pub.PublishJSON(ctx, events.RKSessionCreated, event.EventID, event)
}

type pusher interface {
	PushToUsers(payload any, userIDs ...int64) error
}

// HubSink pushes events to the coach's and client's open websocket connections.
type HubSink struct {
	hub pusher
}

func NewHubSink(hub pusher) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Notify(_ context.Context, event events.SessionCreated) error {
	return s.hub.PushToUsers(map[string]any{
		"type":  events.RKSessionCreated,
		"event": event,
	}, event.Session.CoachID, event.Session.ClientID)
}

type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(_ context.Context, event events.SessionCreated) error {
	logger.Info("session created", map[string]any{
		"event_id":   event.EventID,
		"session_id": event.Session.ID,
		"coach_id":   event.Session.CoachID,
		"client_id":  event.Session.ClientID,
		"window":     fmt.Sprintf("%s/%s", event.Session.StartTime.Format("2006-01-02T15:04Z07:00"), event.Session.EndTime.Format("2006-01-02T15:04Z07:00")),
	})
	return nil
}
