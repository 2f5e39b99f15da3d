// Package retrieval implements the query side of the knowledge engine: the
// single-index retrieval pipeline, recency reweighting, and the fan-out
// assembly of references across questions and indexes.
package retrieval

import (
	"math"
	"time"
)

// DefaultDecayDays is the half-life-like decay constant used when a recency
// config enables time weighting without specifying one.
const DefaultDecayDays = 30

// RecencyConfig controls how document freshness blends into ranking.
type RecencyConfig struct {
	// Enabled turns recency blending on.
	Enabled bool `json:"enabled"`

	// TimeWeight is the fraction of the final score attributed to recency,
	// in [0, 1].
	TimeWeight float64 `json:"time_weight"`

	// DecayDays controls how fast the recency score decays with age.
	DecayDays float64 `json:"decay_days"`
}

// Reweight blends a semantic similarity score with an exponential-decay
// recency score. A zero ts means the source's age is unknown and is treated
// as current, so items without provenance are not penalized. Disabled config
// returns the score unchanged. Pure and deterministic.
func Reweight(score float32, ts, now time.Time, cfg RecencyConfig) float32 {
	if !cfg.Enabled {
		return score
	}

	weight := cfg.TimeWeight
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}

	decay := cfg.DecayDays
	if decay <= 0 {
		decay = DefaultDecayDays
	}

	ageDays := 0.0
	if !ts.IsZero() {
		ageDays = now.Sub(ts).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
	}

	timeScore := math.Exp(-ageDays / decay)
	final := float64(score)*(1-weight) + timeScore*weight

	if final < 0 {
		final = 0
	}
	if final > 1 {
		final = 1
	}
	return float32(final)
}
