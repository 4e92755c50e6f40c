// Package scoring folds a time-ordered event stream into a bounded
// relationship score with exponential temporal decay. Everything here is a
// pure function of its inputs; nothing is persisted, so repeated calls with
// later reference times compose naturally.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/bubbleone/kindred/event"
)

// Band is the coarse score tier.
type Band string

const (
	BandGood     Band = "good"
	BandFading   Band = "fading"
	BandCritical Band = "critical"
)

// RiskLevel combines score and anomaly state into an urgency classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// HyperParams tune the decay model. Zero value is not usable; start from
// DefaultHyperParams.
type HyperParams struct {
	LambdaDecay           float64
	RecencyGamma          float64
	SentimentWeight       float64
	InteractionMultiplier float64
	MinScore              float64
	MaxScore              float64
}

// DefaultHyperParams returns the production defaults.
func DefaultHyperParams() HyperParams {
	return HyperParams{
		LambdaDecay:           0.08,
		RecencyGamma:          0.05,
		SentimentWeight:       6.0,
		InteractionMultiplier: 1.0,
		MinScore:              0.0,
		MaxScore:              100.0,
	}
}

// interactionWeights is a fixed table. A missing interaction type is a
// programming error (events are enum-validated before they get here), so the
// lookup panics rather than silently contributing zero.
var interactionWeights = map[event.InteractionType]float64{
	event.InteractionCall:           8.0,
	event.InteractionText:           4.0,
	event.InteractionIgnoredMessage: -7.0,
	event.InteractionAutoNudge:      2.0,
	event.InteractionMissedCall:     -3.0,
}

// intentWeights maps intent labels to additive weight. Unknown intents fall
// back to a small positive default.
var intentWeights = map[string]float64{
	"support":      2.5,
	"check_in":     1.2,
	"plan_event":   2.0,
	"small_talk":   0.5,
	"follow_up":    1.5,
	"request_help": 1.0,
}

const unknownIntentWeight = 0.5

// ClampScore bounds value to [low, high].
func ClampScore(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}

// BandForScore classifies a score into its tier.
func BandForScore(score float64) Band {
	switch {
	case score >= 75:
		return BandGood
	case score >= 45:
		return BandFading
	default:
		return BandCritical
	}
}

// RiskLevelForScore escalates to high whenever an anomaly is flagged,
// regardless of score.
func RiskLevelForScore(score float64, anomalyDetected bool) RiskLevel {
	switch {
	case anomalyDetected || score < 45:
		return RiskHigh
	case score < 70:
		return RiskMedium
	default:
		return RiskLow
	}
}

// daysBetween returns the non-negative day count from b to a.
func daysBetween(a, b time.Time) float64 {
	return math.Max(a.Sub(b).Seconds()/86400.0, 0.0)
}

// InteractionImpact computes the additive contribution of one event, scaled
// down by how far the event sits behind the reference time.
func InteractionImpact(e event.MetadataEvent, referenceTime time.Time, hp HyperParams) float64 {
	baseWeight, ok := interactionWeights[e.Interaction]
	if !ok {
		panic(fmt.Sprintf("scoring: no weight for interaction type %q", e.Interaction))
	}
	intentWeight, ok := intentWeights[e.Intent]
	if !ok {
		intentWeight = unknownIntentWeight
	}
	sentimentTerm := hp.SentimentWeight * e.Sentiment

	daysOld := daysBetween(referenceTime, e.Timestamp)
	recencyMultiplier := math.Exp(-hp.RecencyGamma * daysOld)

	return (baseWeight + intentWeight + sentimentTerm) * hp.InteractionMultiplier * recencyMultiplier
}

// TrainTemporalDecay adapts the decay rate to a contact's cadence: sparse or
// irregular contact decays the remembered score faster, dense regular contact
// slower. With fewer than two events the base rate is returned unchanged.
// Output is always within [0.03, 0.2], rounded to 4 decimals.
func TrainTemporalDecay(events []event.MetadataEvent, baseLambda float64) float64 {
	sorted := event.SortByTime(events)
	if len(sorted) < 2 {
		return round4(baseLambda)
	}

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, daysBetween(sorted[i].Timestamp, sorted[i-1].Timestamp))
	}

	var sum, minGap, maxGap float64
	minGap = gaps[0]
	maxGap = gaps[0]
	for _, g := range gaps {
		sum += g
		minGap = math.Min(minGap, g)
		maxGap = math.Max(maxGap, g)
	}
	avgGap := sum / float64(len(gaps))
	variability := maxGap - minGap

	trained := baseLambda + 0.01*math.Min(avgGap, 7.0) + 0.003*math.Min(variability, 7.0)
	trained = math.Max(0.03, math.Min(0.2, trained))
	return round4(trained)
}

// UpdateScore decays oldScore across deltaDays, then adds the event's impact
// and clamps to the configured bounds.
func UpdateScore(oldScore float64, e event.MetadataEvent, deltaDays float64, referenceTime time.Time, hp HyperParams) float64 {
	decayed := oldScore * math.Exp(-hp.LambdaDecay*math.Max(deltaDays, 0.0))
	impact := InteractionImpact(e, referenceTime, hp)
	return ClampScore(decayed+impact, hp.MinScore, hp.MaxScore)
}

// ComputeRelationshipScore folds events (sorted ascending, stable on ties)
// into previousScore. Each step decays across the gap to the previous event;
// after the fold a final tail decay covers the gap from the last event to
// asOf. Omitting the tail decay would understate staleness for old streams.
// A zero asOf means "now". Result is rounded to 2 decimals.
func ComputeRelationshipScore(events []event.MetadataEvent, previousScore float64, asOf time.Time, hp HyperParams) float64 {
	sorted := event.SortByTime(events)

	if len(sorted) == 0 {
		return round2(ClampScore(previousScore, hp.MinScore, hp.MaxScore))
	}

	now := asOf
	if now.IsZero() {
		now = time.Now().UTC()
	}
	score := ClampScore(previousScore, hp.MinScore, hp.MaxScore)

	prevTS := sorted[0].Timestamp
	for _, e := range sorted {
		deltaDays := daysBetween(e.Timestamp, prevTS)
		score = UpdateScore(score, e, deltaDays, now, hp)
		prevTS = e.Timestamp
	}

	tailDays := daysBetween(now, prevTS)
	score = score * math.Exp(-hp.LambdaDecay*tailDays)

	return round2(ClampScore(score, hp.MinScore, hp.MaxScore))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
