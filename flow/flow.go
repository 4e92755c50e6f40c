// Package flow is the control skeleton binding the scoring engine to the
// vector memory and the planner collaborator: detect anomalous relationship
// drift, optionally retrieve similar historical context, plan, schedule.
//
// The flow is an explicit finite-state machine: an enum of states, a pure
// transition function, and a small driver loop. Every stage is deterministic
// given its inputs except the planner call, which is guarded by the planner
// package's fallback policy. The flow itself performs no retries.
package flow

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/embed"
	"github.com/bubbleone/kindred/event"
	"github.com/bubbleone/kindred/planner"
	"github.com/bubbleone/kindred/ragstore"
	"github.com/bubbleone/kindred/scoring"
)

// State names one node of the machine.
type State string

const (
	StateAnalyzeAnomaly State = "analyze_anomaly"
	StateQueryMemory    State = "query_memory"
	StatePlanAction     State = "plan_action"
	StateScheduleAction State = "schedule_action"
	StateDone           State = "done"
)

const (
	// scoreDropThreshold flags a sharp decline between the previous and
	// current score.
	scoreDropThreshold = 15.0
	// negativeSentimentThreshold flags strongly negative recent events.
	negativeSentimentThreshold = -0.35

	memoryResultCount    = 4
	querySummaryWindow   = 3
	plannerEventWindow   = 5
	defaultScheduleHours = 24
)

// Anomaly reason tags, in priority order.
const (
	ReasonDropAndNegative = "drop_and_negative_sentiment"
	ReasonScoreDrop       = "score_drop"
	ReasonNegative        = "negative_sentiment"
	ReasonNone            = "none"
)

// Context messages used when memory lookup yields nothing. The field is
// always populated, never absent.
const (
	noContextMessage   = "No historical context found."
	noNeighborsMessage = "No similar past summaries in vector memory."
)

// FlowState is the tagged state threaded through the machine. All fields are
// always present; stages fill them in as they run.
type FlowState struct {
	ContactHash   string                `json:"contact_hash"`
	Alias         string                `json:"alias"`
	CurrentScore  float64               `json:"current_score"`
	PreviousScore float64               `json:"previous_score"`
	RecentEvents  []event.MetadataEvent `json:"recent_metadata"`

	Band      scoring.Band      `json:"band"`
	RiskLevel scoring.RiskLevel `json:"risk_level"`

	AnomalyDetected bool   `json:"anomaly_detected"`
	AnomalyReason   string `json:"anomaly_reason"`

	RagContext string       `json:"rag_context"`
	Plan       planner.Plan `json:"plan"`
	ScheduleAt time.Time    `json:"schedule_at"`
}

// Flow wires the stages to their collaborators.
type Flow struct {
	store    *ragstore.MemoryStore
	embedder embed.Embedder
	planner  planner.Planner
	now      func() time.Time
	logger   zerolog.Logger
}

// NewFlow constructs a flow. The planner may be nil; the rule-based fallback
// then plans every contact.
func NewFlow(store *ragstore.MemoryStore, embedder embed.Embedder, pl planner.Planner, logger zerolog.Logger) *Flow {
	return &Flow{
		store:    store,
		embedder: embedder,
		planner:  pl,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "anomaly_flow").Logger(),
	}
}

// WithClock overrides the flow's clock. Test hook.
func (f *Flow) WithClock(now func() time.Time) *Flow {
	f.now = now
	return f
}

// Next is the pure transition function. An anomaly routes through the memory
// lookup; a quiet contact goes straight to planning.
func Next(state State, fs FlowState) State {
	switch state {
	case StateAnalyzeAnomaly:
		if fs.AnomalyDetected {
			return StateQueryMemory
		}
		return StatePlanAction
	case StateQueryMemory:
		return StatePlanAction
	case StatePlanAction:
		return StateScheduleAction
	case StateScheduleAction:
		return StateDone
	default:
		return StateDone
	}
}

// Run drives the machine from AnalyzeAnomaly to completion and returns the
// final state.
func (f *Flow) Run(ctx context.Context, fs FlowState) (FlowState, error) {
	state := StateAnalyzeAnomaly
	for state != StateDone {
		switch state {
		case StateAnalyzeAnomaly:
			f.analyzeAnomaly(&fs)
		case StateQueryMemory:
			f.queryMemory(ctx, &fs)
		case StatePlanAction:
			f.planAction(ctx, &fs)
		case StateScheduleAction:
			f.scheduleAction(&fs)
		}
		state = Next(state, fs)
	}

	f.logger.Info().
		Str("contactHash", fs.ContactHash).
		Float64("score", fs.CurrentScore).
		Str("band", string(fs.Band)).
		Str("risk", string(fs.RiskLevel)).
		Bool("anomaly", fs.AnomalyDetected).
		Str("reason", fs.AnomalyReason).
		Str("actionType", string(fs.Plan.ActionType)).
		Time("scheduleAt", fs.ScheduleAt).
		Msg("flow completed")
	return fs, nil
}

func (f *Flow) analyzeAnomaly(fs *FlowState) {
	scoreDrop := fs.PreviousScore - fs.CurrentScore
	dropped := scoreDrop >= scoreDropThreshold

	negative := false
	for _, e := range fs.RecentEvents {
		if e.Sentiment <= negativeSentimentThreshold {
			negative = true
			break
		}
	}

	fs.AnomalyDetected = dropped || negative
	switch {
	case dropped && negative:
		fs.AnomalyReason = ReasonDropAndNegative
	case dropped:
		fs.AnomalyReason = ReasonScoreDrop
	case negative:
		fs.AnomalyReason = ReasonNegative
	default:
		fs.AnomalyReason = ReasonNone
	}

	fs.Band = scoring.BandForScore(fs.CurrentScore)
	fs.RiskLevel = scoring.RiskLevelForScore(fs.CurrentScore, fs.AnomalyDetected)
}

// queryMemory builds a query from the most recent summaries and looks up
// similar past context scoped to the contact. Collaborator trouble degrades
// to the literal no-context messages; it never fails the flow.
func (f *Flow) queryMemory(ctx context.Context, fs *FlowState) {
	var summaries []string
	for _, e := range fs.RecentEvents {
		if e.Summary != "" {
			summaries = append(summaries, e.Summary)
		}
	}
	if len(summaries) == 0 {
		fs.RagContext = noContextMessage
		return
	}
	if len(summaries) > querySummaryWindow {
		summaries = summaries[len(summaries)-querySummaryWindow:]
	}

	queryVec, err := f.embedder.Embed(ctx, strings.Join(summaries, " "))
	if err != nil {
		f.logger.Warn().Err(err).Str("contactHash", fs.ContactHash).Msg("embedding failed, skipping memory lookup")
		fs.RagContext = noContextMessage
		return
	}

	neighbors, err := f.store.Query(ctx, fs.ContactHash, queryVec, memoryResultCount)
	if err != nil {
		f.logger.Warn().Err(err).Str("contactHash", fs.ContactHash).Msg("memory query failed, continuing without context")
		fs.RagContext = noNeighborsMessage
		return
	}
	if len(neighbors) == 0 {
		fs.RagContext = noNeighborsMessage
		return
	}

	snippets := make([]string, len(neighbors))
	for i, n := range neighbors {
		snippets[i] = "- " + n.Summary
	}
	fs.RagContext = strings.Join(snippets, "\n")
}

func (f *Flow) planAction(ctx context.Context, fs *FlowState) {
	recent := fs.RecentEvents
	if len(recent) > plannerEventWindow {
		recent = recent[len(recent)-plannerEventWindow:]
	}

	in := planner.Input{
		ContactHash:     fs.ContactHash,
		Alias:           fs.Alias,
		CurrentScore:    fs.CurrentScore,
		PreviousScore:   fs.PreviousScore,
		AnomalyDetected: fs.AnomalyDetected,
		AnomalyReason:   fs.AnomalyReason,
		RagContext:      fs.RagContext,
		RecentMetadata:  recent,
	}
	fs.Plan = planner.SafeRecommend(ctx, f.planner, in, f.logger)
}

func (f *Flow) scheduleAction(fs *FlowState) {
	hours := fs.Plan.ScheduleInHours
	if hours <= 0 {
		hours = defaultScheduleHours
	}
	fs.ScheduleAt = f.now().Add(time.Duration(hours) * time.Hour)
}
