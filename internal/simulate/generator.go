package simulate

import (
	"crypto/rand"
	"math/big"
	"strconv"

	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
)

// Game clock marks of the scripted match, in seconds.
const (
	roshanAt    = 1260
	aegisAt     = 1275
	pausedAt    = 1500
	gameEndsAt  = 2400
	matchIDBase = 7_000_000_000
	matchIDSpan = 999_999_999
)

var heroes = []string{
	"npc_dota_hero_axe",
	"npc_dota_hero_anti_mage",
	"npc_dota_hero_crystal_maiden",
	"npc_dota_hero_pudge",
	"npc_dota_hero_invoker",
	"npc_dota_hero_juggernaut",
}

func randomInt(n int64) int64 {
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// NewMatchID returns a random match id in the range the game network uses.
func NewMatchID() string {
	return strconv.FormatInt(matchIDBase+randomInt(matchIDSpan), 10)
}

// Match describes one scripted match.
type Match struct {
	Token     string
	MatchID   string
	AccountID string
	Team      string
	Hero      string
	Winner    string
}

// RandomMatch picks a hero, a side and a winner for token.
func RandomMatch(token, accountID string) Match {
	team, winner := "radiant", "radiant"
	if randomInt(2) == 1 {
		team = "dire"
	}
	if randomInt(2) == 1 {
		winner = "dire"
	}
	return Match{
		Token:     token,
		MatchID:   NewMatchID(),
		AccountID: accountID,
		Team:      team,
		Hero:      heroes[randomInt(int64(len(heroes)))],
		Winner:    winner,
	}
}

// Script returns the frames a game client posts over the course of m:
// draft, pre game, play with a roshan kill and a pause, then the result.
func Script(m Match) []Frame {
	frames := []Frame{
		m.frame(telemetry.StateHeroSelection, -60, telemetry.WinTeamNone, Frame{
			"map": Frame{"game_state": telemetry.StateStrategyTime},
		}),
		m.frame(telemetry.StatePreGame, -30, telemetry.WinTeamNone, Frame{
			"map": Frame{"game_state": telemetry.StateHeroSelection},
		}),
		m.frame(telemetry.StateGameInProgress, 0, telemetry.WinTeamNone, Frame{
			"map": Frame{"game_state": telemetry.StatePreGame},
		}),
	}

	rosh := m.frame(telemetry.StateGameInProgress, roshanAt, telemetry.WinTeamNone, Frame{
		"map": Frame{"clock_time": roshanAt - 1},
	})
	rosh["events"] = []Frame{{"game_time": roshanAt, "event_type": "roshan_killed", "killed_by_team": m.Team}}
	frames = append(frames, rosh)

	aegis := m.frame(telemetry.StateGameInProgress, aegisAt, telemetry.WinTeamNone, Frame{
		"map": Frame{"clock_time": aegisAt - 1},
	})
	aegis["events"] = []Frame{
		{"game_time": roshanAt, "event_type": "roshan_killed", "killed_by_team": m.Team},
		{"game_time": aegisAt, "event_type": "aegis_picked_up", "player_id": 0},
	}
	frames = append(frames, aegis)

	paused := m.frame(telemetry.StateGameInProgress, pausedAt, telemetry.WinTeamNone, Frame{
		"map": Frame{"paused": false},
	})
	paused["map"].(Frame)["paused"] = true
	resumed := m.frame(telemetry.StateGameInProgress, pausedAt, telemetry.WinTeamNone, Frame{
		"map": Frame{"paused": true},
	})
	resumed["map"].(Frame)["paused"] = false
	frames = append(frames, paused, resumed)

	frames = append(frames, m.frame(telemetry.StatePostGame, gameEndsAt, m.Winner, Frame{
		"map": Frame{"game_state": telemetry.StateGameInProgress, "win_team": telemetry.WinTeamNone},
	}))
	return frames
}

func (m Match) frame(state string, clock int, winTeam string, previously Frame) Frame {
	f := Frame{
		"auth": Frame{"token": m.Token},
		"map": Frame{
			"matchid":    m.MatchID,
			"game_state": state,
			"clock_time": clock,
			"win_team":   winTeam,
			"paused":     false,
		},
		"player": Frame{"accountid": m.AccountID, "team_name": m.Team},
		"hero":   Frame{"name": m.Hero},
	}
	if previously != nil {
		f["previously"] = previously
	}
	return f
}
