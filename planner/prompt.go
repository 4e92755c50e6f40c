package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "Return strict JSON only. No markdown."

// buildPrompt renders the planner instruction plus the serialized snapshot.
// The constraint line matters: planners must never be asked to echo raw
// message text, only metadata.
func buildPrompt(in Input) (string, error) {
	state, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal planner input: %w", err)
	}
	return "You are a relationship copilot. Return compact JSON only with keys: " +
		"recommended_action, action_type(draft|draft_and_schedule|deprioritize|reminder), " +
		"priority(low|medium|high), schedule_in_hours(integer).\n" +
		"Constraints: no raw message text persistence, metadata only.\n" +
		"Input state: " + string(state), nil
}

// parsePlan decodes a model response. schedule_in_hours is accepted only as
// an integer; a fractional value decodes to zero and Sanitize replaces it
// with the tier default. Code fences around the JSON are tolerated.
func parsePlan(text string) (Plan, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw struct {
		RecommendedAction string      `json:"recommended_action"`
		DraftMessage      string      `json:"draft_message"`
		ActionType        string      `json:"action_type"`
		Priority          string      `json:"priority"`
		ScheduleInHours   json.Number `json:"schedule_in_hours"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Plan{}, fmt.Errorf("decode planner response: %w", err)
	}

	hours := 0
	if raw.ScheduleInHours != "" {
		if v, err := raw.ScheduleInHours.Int64(); err == nil {
			hours = int(v)
		}
	}

	return Plan{
		RecommendedAction: raw.RecommendedAction,
		DraftMessage:      raw.DraftMessage,
		ActionType:        ActionType(raw.ActionType),
		Priority:          Priority(raw.Priority),
		ScheduleInHours:   hours,
	}, nil
}
