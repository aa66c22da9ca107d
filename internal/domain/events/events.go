// Package events turns telemetry envelopes into named events and dispatches
// them to registered handlers.
package events

import (
	"strings"

	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
)

// Separator joins the path segments of a flattened event name.
const Separator = ":"

// Well-known event names.
const (
	NameNewData   = "newdata"
	NameMatchID   = "map" + Separator + "matchid"
	NameGameState = "map" + Separator + "game_state"
	NameWinTeam   = "map" + Separator + "win_team"
	NamePaused    = "map" + Separator + "paused"
	// GameEventPrefix prefixes entries of the events list, e.g. "event:roshan_killed".
	GameEventPrefix = "event" + Separator
)

// Event is one of the variants below. The set is closed: only this package
// implements it.
type Event interface {
	Name() string
	Payload() telemetry.Value
	isEvent()
}

// Raw is a flattened path that has no typed variant.
type Raw struct {
	Path  string
	Value telemetry.Value
}

// NewData carries the whole envelope for handlers that need full context.
type NewData struct {
	Envelope *telemetry.Envelope
}

// MatchID reports a change of map.matchid.
type MatchID struct {
	ID    string
	Value telemetry.Value
}

// GameState reports a change of map.game_state.
type GameState struct {
	State string
	Value telemetry.Value
}

// WinTeam reports a change of map.win_team.
type WinTeam struct {
	Team  string
	Value telemetry.Value
}

// Paused reports a change of map.paused.
type Paused struct {
	Paused bool
	Value  telemetry.Value
}

// GameEventOccurred is a new entry of the events list.
type GameEventOccurred struct {
	Event telemetry.GameEvent
}

func (e Raw) Name() string                           { return e.Path }
func (e Raw) Payload() telemetry.Value               { return e.Value }
func (NewData) Name() string                         { return NameNewData }
func (e NewData) Payload() telemetry.Value           { return e.Envelope.Root }
func (MatchID) Name() string                         { return NameMatchID }
func (e MatchID) Payload() telemetry.Value           { return e.Value }
func (GameState) Name() string                       { return NameGameState }
func (e GameState) Payload() telemetry.Value         { return e.Value }
func (WinTeam) Name() string                         { return NameWinTeam }
func (e WinTeam) Payload() telemetry.Value           { return e.Value }
func (Paused) Name() string                          { return NamePaused }
func (e Paused) Payload() telemetry.Value            { return e.Value }
func (e GameEventOccurred) Name() string             { return GameEventPrefix + e.Event.EventType }
func (e GameEventOccurred) Payload() telemetry.Value { return e.Event.Payload }

func (Raw) isEvent()               {}
func (NewData) isEvent()           {}
func (MatchID) isEvent()           {}
func (GameState) isEvent()         {}
func (WinTeam) isEvent()           {}
func (Paused) isEvent()            {}
func (GameEventOccurred) isEvent() {}

// Classify upgrades a raw flattened path to its typed variant when one exists.
func Classify(r Raw) Event {
	switch r.Path {
	case NameMatchID:
		return MatchID{ID: r.Value.Text(), Value: r.Value}
	case NameGameState:
		return GameState{State: r.Value.Text(), Value: r.Value}
	case NameWinTeam:
		return WinTeam{Team: strings.ToLower(r.Value.Text()), Value: r.Value}
	case NamePaused:
		paused, _ := r.Value.Boolean()
		return Paused{Paused: paused, Value: r.Value}
	default:
		return r
	}
}
