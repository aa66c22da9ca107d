package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Section names carried at the top level of an envelope.
const (
	SectionMap        = "map"
	SectionPlayer     = "player"
	SectionHero       = "hero"
	SectionAbilities  = "abilities"
	SectionItems      = "items"
	SectionBuildings  = "buildings"
	SectionDraft      = "draft"
	SectionEvents     = "events"
	SectionPreviously = "previously"
	SectionAdded      = "added"
	SectionAuth       = "auth"
)

// Game states reported in map.game_state.
const (
	StateHeroSelection   = "DOTA_GAMERULES_STATE_HERO_SELECTION"
	StateStrategyTime    = "DOTA_GAMERULES_STATE_STRATEGY_TIME"
	StateTeamShowcase    = "DOTA_GAMERULES_STATE_TEAM_SHOWCASE"
	StateWaitForMapLoad  = "DOTA_GAMERULES_STATE_WAIT_FOR_MAP_TO_LOAD"
	StatePreGame         = "DOTA_GAMERULES_STATE_PRE_GAME"
	StateGameInProgress  = "DOTA_GAMERULES_STATE_GAME_IN_PROGRESS"
	StatePostGame        = "DOTA_GAMERULES_STATE_POST_GAME"
	StateDisconnect      = "DOTA_GAMERULES_STATE_DISCONNECT"
	StateWaitForPlayers  = "DOTA_GAMERULES_STATE_WAIT_FOR_PLAYERS_TO_LOAD"
	StateCustomGameSetup = "DOTA_GAMERULES_STATE_CUSTOM_GAME_SETUP"
)

// WinTeamNone is the map.win_team value while no side has won.
const WinTeamNone = "none"

var activePlayStates = map[string]struct{}{
	StateHeroSelection:  {},
	StateStrategyTime:   {},
	StateTeamShowcase:   {},
	StateWaitForMapLoad: {},
	StatePreGame:        {},
	StateGameInProgress: {},
}

// IsActivePlay reports whether state means a match is being played.
func IsActivePlay(state string) bool {
	_, ok := activePlayStates[state]
	return ok
}

// ErrMalformedEnvelope is returned when the body is not a JSON object.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one telemetry POST body.
type Envelope struct {
	// Token travels in the body because the game client cannot set headers.
	Token string
	// Root is the whole decoded document, including previously/added.
	Root Value
	// Events is the decoded events list.
	Events []GameEvent
}

// ParseEnvelope decodes a POST body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var root Value
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: body is a %s", ErrMalformedEnvelope, root.Kind())
	}
	env := &Envelope{
		Token: strings.TrimSpace(root.Path(SectionAuth, "token").Text()),
		Root:  root,
	}
	if list, ok := root.Get(SectionEvents); ok {
		for _, item := range list.Items() {
			if ev, ok := parseGameEvent(item); ok {
				env.Events = append(env.Events, ev)
			}
		}
	}
	return env, nil
}

// Section returns a top-level section or Null.
func (e *Envelope) Section(name string) Value {
	if e == nil {
		return Value{}
	}
	return e.Root.Path(name)
}

// Previously returns the sender-computed previous values of changed fields.
func (e *Envelope) Previously() Value { return e.Section(SectionPreviously) }

// Added returns the sender-computed flags of newly present fields.
func (e *Envelope) Added() Value { return e.Section(SectionAdded) }

// MatchID returns map.matchid, "" when absent or "0".
func (e *Envelope) MatchID() string {
	id := e.Section(SectionMap).Path("matchid").Text()
	if id == "0" {
		return ""
	}
	return id
}

// GameState returns map.game_state.
func (e *Envelope) GameState() string { return e.Section(SectionMap).Path("game_state").Text() }

// WinTeam returns map.win_team.
func (e *Envelope) WinTeam() string { return e.Section(SectionMap).Path("win_team").Text() }

// ClockTime returns map.clock_time in seconds.
func (e *Envelope) ClockTime() (int, bool) { return e.Section(SectionMap).Path("clock_time").Int() }

// MyTeam returns player.team_name, lower-cased.
func (e *Envelope) MyTeam() string {
	return strings.ToLower(e.Section(SectionPlayer).Path("team_name").Text())
}

// IsSpectating reports whether the client is watching rather than playing.
func (e *Envelope) IsSpectating() bool {
	return e.MyTeam() == "spectator" || !e.Section("hero").Path("team2").IsNull()
}

// AccountID returns player.accountid.
func (e *Envelope) AccountID() string { return e.Section(SectionPlayer).Path("accountid").Text() }

// HeroName returns hero.name.
func (e *Envelope) HeroName() string { return e.Section(SectionHero).Path("name").Text() }

// RadiantScore and DireScore return the kill scores from the map section.
func (e *Envelope) RadiantScore() (int, bool) {
	return e.Section(SectionMap).Path("radiant_score").Int()
}

func (e *Envelope) DireScore() (int, bool) {
	return e.Section(SectionMap).Path("dire_score").Int()
}

// GameEvent is one entry of the events list.
type GameEvent struct {
	GameTime  int
	EventType string
	Payload   Value
}

// Key identifies the event within one match.
func (g GameEvent) Key() string {
	return fmt.Sprintf("%d:%s", g.GameTime, g.EventType)
}

func parseGameEvent(v Value) (GameEvent, bool) {
	eventType := v.Path("event_type").Text()
	if eventType == "" {
		return GameEvent{}, false
	}
	gameTime, ok := v.Path("game_time").Int()
	if !ok {
		return GameEvent{}, false
	}
	return GameEvent{GameTime: gameTime, EventType: eventType, Payload: v}, true
}
