// Package event defines the validated interaction metadata record that feeds
// the scoring engine and the vector memory. Events carry privacy-scrubbed
// metadata only; raw message content is rejected at construction time.
package event

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// InteractionType classifies a single interaction.
type InteractionType string

const (
	InteractionText           InteractionType = "text"
	InteractionCall           InteractionType = "call"
	InteractionIgnoredMessage InteractionType = "ignored_message"
	InteractionAutoNudge      InteractionType = "auto_nudge"
	InteractionMissedCall     InteractionType = "missed_call"
)

// DefaultIntent is assumed when an event arrives without an intent label.
const DefaultIntent = "check_in"

const (
	minSummaryLen = 8
	maxSummaryLen = 280
)

// forbiddenMetadataKeys are sidecar keys that would carry verbatim chat
// content. Their presence is a hard validation failure, never a warning.
var forbiddenMetadataKeys = map[string]bool{
	"raw_message":  true,
	"message_text": true,
	"full_text":    true,
	"chat_text":    true,
}

// MetadataEvent is one immutable interaction record. ContactHash is an opaque
// identifier, never a real name.
type MetadataEvent struct {
	EventID     string                 `json:"event_id"`
	ContactHash string                 `json:"contact_hash"`
	Timestamp   time.Time              `json:"ts"`
	Interaction InteractionType        `json:"interaction_type"`
	Sentiment   float64                `json:"sentiment"`
	Intent      string                 `json:"intent"`
	Summary     string                 `json:"summary"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// New builds a MetadataEvent, applying the intent default and validating all
// invariants. Invalid events never enter scoring or storage.
func New(
	eventID string,
	contactHash string,
	ts time.Time,
	interaction InteractionType,
	sentiment float64,
	intent string,
	summary string,
	metadata map[string]interface{},
) (MetadataEvent, error) {
	if intent == "" {
		intent = DefaultIntent
	}
	e := MetadataEvent{
		EventID:     eventID,
		ContactHash: contactHash,
		Timestamp:   ts,
		Interaction: interaction,
		Sentiment:   sentiment,
		Intent:      intent,
		Summary:     summary,
		Metadata:    metadata,
	}
	if err := e.Validate(); err != nil {
		return MetadataEvent{}, err
	}
	return e, nil
}

// Validate checks every construction invariant. An error here is a
// validation failure in the sense of the error taxonomy: the event is
// rejected outright.
func (e MetadataEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("event: event_id is required")
	}
	if strings.TrimSpace(e.ContactHash) == "" {
		return fmt.Errorf("event: contact_hash is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s: timestamp is required", e.EventID)
	}
	switch e.Interaction {
	case InteractionText, InteractionCall, InteractionIgnoredMessage,
		InteractionAutoNudge, InteractionMissedCall:
	default:
		return fmt.Errorf("event %s: unknown interaction type %q", e.EventID, e.Interaction)
	}
	if e.Sentiment < -1.0 || e.Sentiment > 1.0 {
		return fmt.Errorf("event %s: sentiment %.3f outside [-1,1]", e.EventID, e.Sentiment)
	}
	if n := len([]rune(e.Summary)); n < minSummaryLen || n > maxSummaryLen {
		return fmt.Errorf("event %s: summary length %d outside [%d,%d]", e.EventID, n, minSummaryLen, maxSummaryLen)
	}
	if present := forbiddenKeys(e.Metadata); len(present) > 0 {
		return fmt.Errorf("event %s: forbidden raw-text keys in metadata: %s", e.EventID, strings.Join(present, ", "))
	}
	return nil
}

func forbiddenKeys(metadata map[string]interface{}) []string {
	var present []string
	for k := range metadata {
		if forbiddenMetadataKeys[k] {
			present = append(present, k)
		}
	}
	sort.Strings(present)
	return present
}

// SortByTime returns a copy of events ordered ascending by timestamp. The
// sort is stable so same-timestamp events keep their arrival order.
func SortByTime(events []MetadataEvent) []MetadataEvent {
	sorted := make([]MetadataEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
