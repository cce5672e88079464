package services

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/quantfold/papertrade/internal/models"
)

// Candidate is a scored, directional entry idea for one symbol.
type Candidate struct {
	Symbol     string
	Side       models.PositionSide
	Score      float64
	Confidence float64
	Regime     models.RegimeSnapshot
}

// DirectionSource provides the fallback direction when regime bias is too
// weak to carry an opinion. Injectable so tests can pin outcomes; the
// production source is a seeded PRNG.
type DirectionSource interface {
	Direction(symbol string) models.PositionSide
}

// RandDirectionSource picks a pseudo-random side. Safe for concurrent use.
type RandDirectionSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandDirectionSource seeds a direction source.
func NewRandDirectionSource(seed int64) *RandDirectionSource {
	return &RandDirectionSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandDirectionSource) Direction(string) models.PositionSide {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Intn(2) == 0 {
		return models.SideLong
	}
	return models.SideShort
}

// FixedDirectionSource always answers with one side. Test helper.
type FixedDirectionSource struct {
	Side models.PositionSide
}

func (s FixedDirectionSource) Direction(string) models.PositionSide {
	return s.Side
}

// biasConfidenceFloor is the regime confidence below which the directional
// bias is ignored and the fallback direction source decides.
const biasConfidenceFloor = 0.35

// CandidateScorer scores every tradable symbol against the active profile
// and the current regime, then ranks survivors.
type CandidateScorer struct {
	direction DirectionSource
}

// NewCandidateScorer builds a scorer around a direction source.
func NewCandidateScorer(direction DirectionSource) *CandidateScorer {
	return &CandidateScorer{direction: direction}
}

// ScoreSymbol scores one symbol. Returns false when the symbol is rejected
// outright (per-symbol concurrency cap reached).
func (s *CandidateScorer) ScoreSymbol(
	profile ModeProfile,
	regime models.RegimeSnapshot,
	thermo ThermostatState,
	sessionQuality float64,
	openInSymbol int,
) (Candidate, bool) {
	if openInSymbol >= profile.MaxPerSymbol {
		return Candidate{}, false
	}

	score := 40.0
	score += regimeSuitability(profile, regime) * 0.3
	score += volatilityFit(profile, regime) * 15
	if profile.PrefersStructure(models.StructureTrending) {
		score += regime.TrendStrength / 100 * 20
	}
	score += regime.Confidence * 10
	if sessionQuality >= profile.MinSessionQuality {
		score += 5
	}

	score *= 0.7 + thermo.Aggression*0.3
	score -= 10 * float64(openInSymbol)

	side := s.chooseDirection(regime)

	return Candidate{
		Symbol:     regime.Symbol,
		Side:       side,
		Score:      score,
		Confidence: clamp(0.5+(score-50)/100, 0.3, 0.95),
		Regime:     regime,
	}, true
}

// Rank scores every symbol with a valid snapshot and returns the survivors
// ordered by descending score. openBySymbol counts positions per symbol
// after this tick's exits have been removed.
func (s *CandidateScorer) Rank(
	profile ModeProfile,
	market models.MarketData,
	regimes map[string]models.RegimeSnapshot,
	thermo ThermostatState,
	openBySymbol map[string]int,
) []Candidate {
	candidates := make([]Candidate, 0, len(regimes))
	for symbol, regime := range regimes {
		if _, ok := market.Snapshot(symbol); !ok {
			continue
		}
		cand, ok := s.ScoreSymbol(profile, regime, thermo, market.SessionQuality, openBySymbol[symbol])
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].Symbol < candidates[j].Symbol
		}
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// chooseDirection follows the regime bias when it is confident enough,
// otherwise falls back to the injected source so the engine always carries
// a directional opinion.
func (s *CandidateScorer) chooseDirection(regime models.RegimeSnapshot) models.PositionSide {
	if regime.Confidence > biasConfidenceFloor {
		switch regime.Bias {
		case models.BiasBullish:
			return models.SideLong
		case models.BiasBearish:
			return models.SideShort
		}
	}
	return s.direction.Direction(regime.Symbol)
}

// regimeSuitability is the raw structure/volatility/bias fit, weighted 0.3
// by the caller.
func regimeSuitability(profile ModeProfile, regime models.RegimeSnapshot) float64 {
	score := 0.0

	if profile.RegimeAgnostic() {
		score += 10
	} else if profile.PrefersStructure(regime.Structure) {
		score += 25
	} else {
		score -= 15
	}

	if profile.PrefersVolatility(regime.Volatility) {
		score += 20
	} else {
		score += 5
	}

	if regime.Bias != models.BiasNeutral {
		score += 10
	}
	return score
}

func volatilityFit(profile ModeProfile, regime models.RegimeSnapshot) float64 {
	if len(profile.PreferredVolatility) == 0 {
		return 0.7
	}
	if profile.PrefersVolatility(regime.Volatility) {
		return 1.0
	}
	return 0.3
}
