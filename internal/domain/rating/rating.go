// Package rating computes the tracked rating change after a ranked match.
package rating

import "math"

// Ranked lobby type as reported by match stats.
const LobbyRanked = 7

// Default adjustment constants.
const (
	DefaultStep            = 25
	DefaultPartyMultiplier = 0.8
	minRating              = 0
)

// Option applies a configuration option to an Adjuster.
type Option func(*Adjuster)

// WithStep sets the solo rating change.
func WithStep(step int) Option {
	return func(a *Adjuster) {
		if step > 0 {
			a.step = step
		}
	}
}

// WithPartyMultiplier scales the step for party matches.
func WithPartyMultiplier(m float64) Option {
	return func(a *Adjuster) {
		if m >= 0 {
			a.partyMultiplier = m
		}
	}
}

// Adjuster applies a fixed rating step per ranked result.
type Adjuster struct {
	step            int
	partyMultiplier float64
}

// NewAdjuster creates an Adjuster.
func NewAdjuster(opts ...Option) *Adjuster {
	a := &Adjuster{step: DefaultStep, partyMultiplier: DefaultPartyMultiplier}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Eligible reports whether a lobby type moves the rating.
func Eligible(lobbyType *int) bool {
	return lobbyType != nil && *lobbyType == LobbyRanked
}

// Delta returns the signed change for one result.
func (a *Adjuster) Delta(won, isParty bool) int {
	step := float64(a.step)
	if isParty {
		step = math.Round(step * a.partyMultiplier)
	}
	if !won {
		step = -step
	}
	return int(step)
}

// Apply returns current adjusted by one result, never below zero.
func (a *Adjuster) Apply(current int, won, isParty bool) int {
	return max(minRating, current+a.Delta(won, isParty))
}
