package service

import (
	"context"

	"github.com/dotabod/backend-sub002/internal/domain/events"
	"github.com/dotabod/backend-sub002/internal/domain/session"
)

// Overlay event names.
const (
	OverlayRoshanKilled  = "roshan-killed"
	OverlayAegisPickedUp = "aegis-picked-up"
	OverlayPaused        = "paused"
)

// Respawn and expiry windows, in game seconds.
const (
	roshanRespawnMin = 8 * 60
	roshanRespawnMax = 11 * 60
	aegisDuration    = 5 * 60
)

// RoshanTimer is the respawn window shown after roshan dies.
type RoshanTimer struct {
	MinS int `json:"minS"`
	MaxS int `json:"maxS"`
}

// AegisTimer is when the picked up aegis expires.
type AegisTimer struct {
	ExpireS  int `json:"expireS"`
	PlayerID int `json:"playerId,omitempty"`
}

// PausedState mirrors the game's pause flag.
type PausedState struct {
	Paused bool `json:"paused"`
}

func registerOverlay(reg *events.Registry[*session.Session]) error {
	if err := reg.Register(events.GameEventPrefix+"roshan_killed", onRoshanKilled); err != nil {
		return err
	}
	if err := reg.Register(events.GameEventPrefix+"aegis_picked_up", onAegisPickedUp); err != nil {
		return err
	}
	return reg.Register(events.NamePaused, onPaused)
}

// delaySeconds shifts game-clock timers by the stream delay so the overlay
// counts down in step with what viewers see.
func delaySeconds(s *session.Session) int {
	return int(s.Settings().StreamDelay().Seconds())
}

func onRoshanKilled(ctx context.Context, s *session.Session, ev events.Event) error {
	ge, ok := ev.(events.GameEventOccurred)
	if !ok {
		return nil
	}
	at := ge.Event.GameTime + delaySeconds(s)
	return s.Publish(ctx, OverlayRoshanKilled, RoshanTimer{MinS: at + roshanRespawnMin, MaxS: at + roshanRespawnMax})
}

func onAegisPickedUp(ctx context.Context, s *session.Session, ev events.Event) error {
	ge, ok := ev.(events.GameEventOccurred)
	if !ok {
		return nil
	}
	t := AegisTimer{ExpireS: ge.Event.GameTime + delaySeconds(s) + aegisDuration}
	if id, ok := ge.Event.Payload.Path("player_id").Int(); ok {
		t.PlayerID = id
	}
	return s.Publish(ctx, OverlayAegisPickedUp, t)
}

func onPaused(ctx context.Context, s *session.Session, ev events.Event) error {
	p, ok := ev.(events.Paused)
	if !ok {
		return nil
	}
	return s.Publish(ctx, OverlayPaused, PausedState{Paused: p.Paused})
}
