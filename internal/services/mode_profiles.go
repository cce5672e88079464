package services

import (
	"fmt"

	"github.com/quantfold/papertrade/internal/models"
)

// Mode keys. Registry order matters: adaptive tie-breaks follow it.
const (
	ModeBurst    = "burst"
	ModeScalper  = "scalper"
	ModeTrend    = "trend"
	ModeAdaptive = "adaptive"
)

// ModeProfile is one strategy archetype: a bundle of risk, sizing, and
// timing parameters. Profiles are static and never mutated at runtime.
type ModeProfile struct {
	Key  string
	Name string

	// Concurrency limits.
	MaxPerSymbol       int
	MaxConcurrentTotal int
	MaxEntriesPerTick  int
	// BurstClusterSize > 0 marks a high-frequency profile whose per-tick
	// entries share one batch identifier.
	BurstClusterSize int

	// Sizing.
	BaseRiskPercent float64
	MinSizeFactor   float64
	MaxSizeFactor   float64

	// Entry quality gates.
	EntryScoreThreshold float64
	MinEdgeConfidence   float64
	MinSessionQuality   float64

	// Exit parameters, all in percent of entry price.
	StopPercent        float64
	TargetMultiplier   float64
	TrailingActivation float64
	TrailingDistance   float64
	CutLoserThreshold  float64

	// Timing, minutes.
	MaxHoldMinutes  float64
	CooldownMinutes float64

	// Regime preferences. Empty PreferredStructures means regime-agnostic.
	PreferredStructures []models.MarketStructure
	PreferredVolatility []models.VolatilityLevel
}

// RegimeAgnostic reports whether the profile trades any market structure.
func (p ModeProfile) RegimeAgnostic() bool {
	return len(p.PreferredStructures) == 0
}

// PrefersStructure reports whether the regime structure suits the profile.
func (p ModeProfile) PrefersStructure(s models.MarketStructure) bool {
	for _, pref := range p.PreferredStructures {
		if pref == s {
			return true
		}
	}
	return false
}

// PrefersVolatility reports whether the volatility level suits the profile.
// An empty preference list accepts every level.
func (p ModeProfile) PrefersVolatility(v models.VolatilityLevel) bool {
	if len(p.PreferredVolatility) == 0 {
		return true
	}
	for _, pref := range p.PreferredVolatility {
		if pref == v {
			return true
		}
	}
	return false
}

// modeRegistry holds the concrete archetypes in declaration order. The
// adaptive meta profile picks among these each tick.
var modeRegistry = []ModeProfile{
	{
		Key:                 ModeBurst,
		Name:                "High-Frequency Burst",
		MaxPerSymbol:        3,
		MaxConcurrentTotal:  12,
		MaxEntriesPerTick:   4,
		BurstClusterSize:    4,
		BaseRiskPercent:     0.5,
		MinSizeFactor:       0.5,
		MaxSizeFactor:       1.5,
		EntryScoreThreshold: 45,
		MinEdgeConfidence:   0.35,
		MinSessionQuality:   0.2,
		StopPercent:         0.8,
		TargetMultiplier:    1.5,
		TrailingActivation:  0.6,
		TrailingDistance:    0.3,
		CutLoserThreshold:   -0.5,
		MaxHoldMinutes:      45,
		CooldownMinutes:     1,
		// Any structure, any volatility.
	},
	{
		Key:                 ModeScalper,
		Name:                "Fast Scalper",
		MaxPerSymbol:        2,
		MaxConcurrentTotal:  6,
		MaxEntriesPerTick:   2,
		BaseRiskPercent:     0.75,
		MinSizeFactor:       0.6,
		MaxSizeFactor:       1.3,
		EntryScoreThreshold: 55,
		MinEdgeConfidence:   0.45,
		MinSessionQuality:   0.4,
		StopPercent:         0.6,
		TargetMultiplier:    1.8,
		TrailingActivation:  0.5,
		TrailingDistance:    0.25,
		CutLoserThreshold:   -0.4,
		MaxHoldMinutes:      30,
		CooldownMinutes:     3,
		PreferredVolatility: []models.VolatilityLevel{models.VolatilityNormal, models.VolatilityHigh},
	},
	{
		Key:                 ModeTrend,
		Name:                "Trend Follower",
		MaxPerSymbol:        1,
		MaxConcurrentTotal:  3,
		MaxEntriesPerTick:   1,
		BaseRiskPercent:     1.0,
		MinSizeFactor:       0.8,
		MaxSizeFactor:       1.2,
		EntryScoreThreshold: 65,
		MinEdgeConfidence:   0.55,
		MinSessionQuality:   0.5,
		StopPercent:         2.0,
		TargetMultiplier:    2.5,
		TrailingActivation:  1.5,
		TrailingDistance:    0.7,
		CutLoserThreshold:   -1.2,
		MaxHoldMinutes:      240,
		CooldownMinutes:     10,
		PreferredStructures: []models.MarketStructure{models.StructureTrending},
		PreferredVolatility: []models.VolatilityLevel{models.VolatilityLow, models.VolatilityNormal},
	},
}

// adaptiveProfile is the meta archetype. Its own trading parameters are
// never used; resolution substitutes the winning sub-mode each tick.
var adaptiveProfile = ModeProfile{
	Key:  ModeAdaptive,
	Name: "Adaptive Meta",
}

// Profiles returns every registered profile, concrete archetypes first.
func Profiles() []ModeProfile {
	out := make([]ModeProfile, 0, len(modeRegistry)+1)
	out = append(out, modeRegistry...)
	out = append(out, adaptiveProfile)
	return out
}

// ProfileByKey looks up a profile.
func ProfileByKey(key string) (ModeProfile, error) {
	for _, p := range Profiles() {
		if p.Key == key {
			return p, nil
		}
	}
	return ModeProfile{}, fmt.Errorf("unknown mode profile: %q", key)
}

// adaptivePerfLookback is how many recent trades feed per-archetype
// performance scoring.
const adaptivePerfLookback = 20

// ResolveAdaptive scores the concrete archetypes against the current regime,
// session quality, thermostat aggression, and trailing per-archetype
// performance, returning the winner and a selection confidence. Deterministic
// for identical inputs; ties resolve to registry order.
func ResolveAdaptive(regime models.RegimeSnapshot, sessionQuality float64, thermo ThermostatState, recent []models.Trade) (ModeProfile, float64) {
	perf := archetypePerformance(recent)

	var (
		winner      ModeProfile
		bestScore   = -1.0
		secondScore = -1.0
	)
	for _, p := range modeRegistry {
		score := adaptiveScore(p, regime, sessionQuality, thermo, perf[p.Key])
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			winner = p
		} else if score > secondScore {
			secondScore = score
		}
	}

	confidence := clamp((bestScore-secondScore)/50+0.5, 0, 1)
	return winner, confidence
}

func adaptiveScore(p ModeProfile, regime models.RegimeSnapshot, sessionQuality float64, thermo ThermostatState, perf float64) float64 {
	score := 0.0

	// Regime fit.
	if p.RegimeAgnostic() {
		score += 5
	} else if p.PrefersStructure(regime.Structure) {
		score += 10
	}
	if p.PrefersVolatility(regime.Volatility) {
		score += 5
	}

	score += sessionQuality * 10

	// Aggression affinity: burst thrives on high aggression, trend on
	// patience, scalper sits in between.
	switch p.Key {
	case ModeBurst:
		score += thermo.Aggression * 10
	case ModeScalper:
		score += 5
	case ModeTrend:
		score += (1 - thermo.Aggression) * 10
	}

	score += perf * 5
	return score
}

// archetypePerformance sums +1 per win and -0.5 per loss for each archetype
// over the trailing trade window.
func archetypePerformance(recent []models.Trade) map[string]float64 {
	if adaptivePerfLookback < len(recent) {
		recent = recent[:adaptivePerfLookback]
	}
	out := make(map[string]float64, len(modeRegistry))
	for _, tr := range recent {
		if tr.IsWin() {
			out[tr.Mode] += 1
		} else if tr.RealizedPnL.IsNegative() {
			out[tr.Mode] -= 0.5
		}
	}
	return out
}
