// Package planner defines the recommendation collaborator contract: what
// fields a planner receives, what it must return, and the deterministic
// fallback policy applied when a remote planner misbehaves. Callers always
// get a fully-populated, schema-valid Plan regardless of collaborator
// behavior.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/event"
)

// ActionType is the planner's recommended follow-up mechanism.
type ActionType string

const (
	ActionDraft            ActionType = "draft"
	ActionDraftAndSchedule ActionType = "draft_and_schedule"
	ActionDeprioritize     ActionType = "deprioritize"
	ActionReminder         ActionType = "reminder"
)

// Priority is the planner's urgency label.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Input is the compact state snapshot handed to the planner. RecentMetadata
// is expected to be pre-truncated by the caller (the flow passes the last 5
// events).
type Input struct {
	ContactHash     string                `json:"contact_hash"`
	Alias           string                `json:"alias"`
	CurrentScore    float64               `json:"current_score"`
	PreviousScore   float64               `json:"previous_score"`
	AnomalyDetected bool                  `json:"anomaly_detected"`
	AnomalyReason   string                `json:"anomaly_reason"`
	RagContext      string                `json:"rag_context"`
	RecentMetadata  []event.MetadataEvent `json:"recent_metadata"`
}

// Plan is the planner's answer. RecommendedAction is the only mandatory
// field; Sanitize backfills everything else.
type Plan struct {
	RecommendedAction string     `json:"recommended_action"`
	DraftMessage      string     `json:"draft_message,omitempty"`
	ActionType        ActionType `json:"action_type"`
	Priority          Priority   `json:"priority"`
	ScheduleInHours   int        `json:"schedule_in_hours"`
}

// Planner produces a Plan for a contact snapshot. Implementations may call
// remote models; errors and garbage output are handled by SafeRecommend, not
// surfaced to the flow.
type Planner interface {
	Recommend(ctx context.Context, in Input) (Plan, error)
}

// FallbackPlan synthesizes a rule-based plan from score and anomaly state.
func FallbackPlan(in Input) Plan {
	alias := in.Alias
	if alias == "" {
		alias = "friend"
	}

	switch {
	case in.AnomalyDetected || in.CurrentScore < 45:
		return Plan{
			RecommendedAction: fmt.Sprintf("Draft a gentle check-in text to %s and schedule a call reminder tomorrow.", alias),
			ActionType:        ActionDraftAndSchedule,
			Priority:          PriorityHigh,
			ScheduleInHours:   24,
		}
	case in.CurrentScore < 75:
		return Plan{
			RecommendedAction: fmt.Sprintf("Send %s a short update and ask one meaningful question this evening.", alias),
			ActionType:        ActionDraft,
			Priority:          PriorityMedium,
			ScheduleInHours:   8,
		}
	default:
		return Plan{
			RecommendedAction: fmt.Sprintf("Maintain momentum with a light touchpoint for %s this week.", alias),
			ActionType:        ActionDeprioritize,
			Priority:          PriorityLow,
			ScheduleInHours:   72,
		}
	}
}

// Sanitize merges a planner response over the fallback plan: blank or
// invalid fields are replaced by the fallback's values, so the result is
// always schema-valid.
func Sanitize(p Plan, in Input) Plan {
	fb := FallbackPlan(in)

	if strings.TrimSpace(p.RecommendedAction) == "" {
		p.RecommendedAction = fb.RecommendedAction
	}
	switch p.ActionType {
	case ActionDraft, ActionDraftAndSchedule, ActionDeprioritize, ActionReminder:
	default:
		p.ActionType = fb.ActionType
	}
	switch p.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		p.Priority = fb.Priority
	}
	if p.ScheduleInHours <= 0 {
		p.ScheduleInHours = fb.ScheduleInHours
	}
	return p
}

// SafeRecommend runs the planner and guarantees a usable Plan: a nil
// planner, an error, or malformed output all degrade to the sanitized
// fallback. Collaborator outages never surface as request failures.
func SafeRecommend(ctx context.Context, p Planner, in Input, logger zerolog.Logger) Plan {
	if p == nil {
		return FallbackPlan(in)
	}
	plan, err := p.Recommend(ctx, in)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("contactHash", in.ContactHash).
			Msg("planner failed, using rule-based fallback")
		return FallbackPlan(in)
	}
	return Sanitize(plan, in)
}
