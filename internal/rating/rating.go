// Package rating converts raw battle aggregates into the normalized
// personal rating and the ordinal tier buckets used on the read path.
// Everything here is pure and total.
package rating

import (
	"math"

	"warship-tracker/internal/domain"
)

// NoRating is the sentinel for "not enough data to rate".
const NoRating = -1

// ShipAggregate is the per-ship input to the rating formula.
type ShipAggregate struct {
	Battles int64
	Wins    int64
	Damage  int64
	Frags   int64
}

// ServerBaseline is the server-wide expected performance for one ship.
type ServerBaseline struct {
	WinRate   float64 // percent
	AvgDamage float64
	AvgFrags  float64
}

func (b ServerBaseline) zero() bool {
	return b.WinRate == 0 || b.AvgDamage == 0 || b.AvgFrags == 0
}

// PersonalRating computes the accumulable personal rating contributed
// by one ship: the weighted, floor-normalized ratios of actual to
// expected performance, multiplied by the battle count so that many
// ships can be summed and divided by total battles for an average.
// Returns NoRating when there are no battles or no usable baseline.
func PersonalRating(mode domain.BattleMode, agg ShipAggregate, base ServerBaseline) float64 {
	if agg.Battles <= 0 || base.zero() {
		return NoRating
	}
	battles := float64(agg.Battles)
	actualWins := float64(agg.Wins) / battles * 100
	actualDmg := float64(agg.Damage) / battles
	actualFrags := float64(agg.Frags) / battles

	rWins := actualWins / base.WinRate
	rDmg := actualDmg / base.AvgDamage
	rFrags := actualFrags / base.AvgFrags

	nWins := math.Max(0, (rWins-0.7)/(1-0.7))
	nDmg := math.Max(0, (rDmg-0.4)/(1-0.4))
	nFrags := math.Max(0, (rFrags-0.1)/(1-0.1))

	var pr float64
	if mode.Ranked() {
		pr = 600*nDmg + 350*nFrags + 400*nWins
	} else {
		pr = 700*nDmg + 300*nFrags + 150*nWins
	}
	return round6(pr * battles)
}

// DamageRating is the damage ratio scaled by battles, accumulable like
// PersonalRating.
func DamageRating(agg ShipAggregate, base ServerBaseline) float64 {
	if agg.Battles <= 0 || base.zero() {
		return NoRating
	}
	battles := float64(agg.Battles)
	return round6(float64(agg.Damage) / battles / base.AvgDamage * battles)
}

// FragsRating is the frags ratio scaled by battles.
func FragsRating(agg ShipAggregate, base ServerBaseline) float64 {
	if agg.Battles <= 0 || base.zero() {
		return NoRating
	}
	battles := float64(agg.Battles)
	return round6(float64(agg.Frags) / battles / base.AvgFrags * battles)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Threshold tables. Buckets are ascending and compared with strict
// less-than; a NoRating input always maps to bucket 0.
var (
	prThresholds        = []float64{750, 1100, 1350, 1550, 1750, 2100, 2450}
	prEliteThresholds   = []float64{750, 1100, 1350, 1550, 1750, 2100, 2450, 3250}
	winRateThresholds   = []float64{40, 45, 50, 52.5, 55, 60, 67}
	damageRatioBuckets  = []float64{0.8, 0.95, 1.0, 1.1, 1.2, 1.4, 1.7}
	fragsRatioBuckets   = []float64{0.2, 0.3, 0.6, 1.0, 1.3, 1.5, 2.0}
	contentClassBuckets = [][]float64{winRateThresholds, damageRatioBuckets, fragsRatioBuckets, prThresholds}
)

func classify(value float64, thresholds []float64) (int, float64) {
	for i, t := range thresholds {
		if value < t {
			return i + 1, t - value
		}
	}
	return len(thresholds) + 1, value - thresholds[len(thresholds)-1]
}

// PRTier maps a personal rating into the 8-bucket ordinal scale,
// returning the bucket and the distance to the next threshold (or past
// the last one for the top bucket).
func PRTier(value float64) (int, float64) {
	if value == NoRating {
		return 0, 1
	}
	return classify(value, prThresholds)
}

// PRTierElite is the 9-bucket variant with the extra top bucket.
func PRTierElite(value float64) (int, float64) {
	if value == NoRating {
		return 0, 1
	}
	return classify(value, prEliteThresholds)
}

// WinRateTier maps a win-rate percentage into the 8-bucket scale.
func WinRateTier(value float64) (int, float64) {
	if value == NoRating {
		return 0, 0
	}
	return classify(value, winRateThresholds)
}

// DamageRatioTier maps an actual/expected damage ratio into the
// 8-bucket scale.
func DamageRatioTier(value float64) (int, float64) {
	if value == NoRating {
		return 0, 0
	}
	return classify(value, damageRatioBuckets)
}

// FragsRatioTier maps an actual/expected frags ratio into the 8-bucket
// scale.
func FragsRatioTier(value float64) (int, float64) {
	if value == NoRating {
		return 0, 0
	}
	return classify(value, fragsRatioBuckets)
}

// ContentClass buckets an arbitrary indexed metric (0 win rate,
// 1 damage ratio, 2 frags ratio, 3 personal rating) without the
// distance component.
func ContentClass(index int, value float64) int {
	if value == NoRating {
		return 0
	}
	tier, _ := classify(value, contentClassBuckets[index])
	return tier
}
