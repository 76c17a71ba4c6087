package services

import (
	"context"
	"log/slog"

	"deskbook/utils"

	pubnub "github.com/pubnub/go/v7"
)

// PubNub channels consumed by the frontend.
const (
	ChannelSeatUpdates = "seat-updates"
	ChannelSpecialDays = "special-days"
)

// NotifyService pushes change notifications to the realtime sink.
// Delivery is fire-and-forget: publishes run off the request path, are
// never awaited and a failed publish only gets logged. The circuit
// breaker keeps a flapping sink from piling up doomed publish attempts.
type NotifyService struct {
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewNotifyService(pn *pubnub.PubNub) *NotifyService {
	return &NotifyService{
		pn:      pn,
		breaker: utils.NewCircuitBreaker("pubnub"),
	}
}

// SeatUpdate announces a booking mutation for a date. kind is "book" or
// "release".
func (s *NotifyService) SeatUpdate(date, kind string) {
	s.publish(ChannelSeatUpdates, map[string]any{
		"date": date,
		"type": kind,
	})
}

// SpecialDayUpdate announces a special-day override change. An empty kind
// means the override was removed and the date reverts to its default
// classification.
func (s *NotifyService) SpecialDayUpdate(date, kind string) {
	var t any
	if kind != "" {
		t = kind
	}
	s.publish(ChannelSpecialDays, map[string]any{
		"date": date,
		"type": t,
	})
}

func (s *NotifyService) publish(channel string, message map[string]any) {
	if s == nil || s.pn == nil {
		// no sink configured (development without PubNub keys)
		return
	}

	go func() {
		_, err := s.breaker.Execute(context.Background(), func() (any, error) {
			_, _, err := s.pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return nil, err
		})
		if err != nil {
			slog.Error("Dropping change notification",
				"channel", channel, "message", message, "error", err)
		}
	}()
}
