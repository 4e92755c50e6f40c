package event

import (
	"strings"
	"testing"
	"time"
)

func validEvent() MetadataEvent {
	return MetadataEvent{
		EventID:     "evt-1",
		ContactHash: "c1",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Interaction: InteractionText,
		Sentiment:   0.4,
		Intent:      "check_in",
		Summary:     "Talked about weekend hiking plans",
	}
}

func TestNewAppliesIntentDefault(t *testing.T) {
	e, err := New("evt-1", "c1", time.Now(), InteractionText, 0.0, "", "Quick check in about the week", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Intent != DefaultIntent {
		t.Errorf("Intent = %q, want %q", e.Intent, DefaultIntent)
	}
}

func TestValidateRejectsBadEvents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MetadataEvent)
	}{
		{"missing event id", func(e *MetadataEvent) { e.EventID = " " }},
		{"missing contact hash", func(e *MetadataEvent) { e.ContactHash = "" }},
		{"zero timestamp", func(e *MetadataEvent) { e.Timestamp = time.Time{} }},
		{"unknown interaction", func(e *MetadataEvent) { e.Interaction = "carrier_pigeon" }},
		{"sentiment too low", func(e *MetadataEvent) { e.Sentiment = -1.5 }},
		{"sentiment too high", func(e *MetadataEvent) { e.Sentiment = 1.01 }},
		{"summary too short", func(e *MetadataEvent) { e.Summary = "short" }},
		{"summary too long", func(e *MetadataEvent) { e.Summary = strings.Repeat("a", 281) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(&e)
			if err := e.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateRejectsForbiddenMetadataKeys(t *testing.T) {
	for _, key := range []string{"raw_message", "message_text", "full_text", "chat_text"} {
		e := validEvent()
		e.Metadata = map[string]interface{}{key: "hey, are you free tonight?"}
		err := e.Validate()
		if err == nil {
			t.Fatalf("Validate() accepted forbidden key %q", key)
		}
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name the offending key %q", err, key)
		}
	}
}

func TestValidateAllowsBenignMetadata(t *testing.T) {
	e := validEvent()
	e.Metadata = map[string]interface{}{"alias": "Sam", "channel": "sms"}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSummaryLengthCountsRunes(t *testing.T) {
	e := validEvent()
	e.Summary = strings.Repeat("日", 280)
	if err := e.Validate(); err != nil {
		t.Errorf("280-rune summary rejected: %v", err)
	}
	e.Summary = strings.Repeat("日", 281)
	if err := e.Validate(); err == nil {
		t.Error("281-rune summary accepted")
	}
}

func TestSortByTimeIsStable(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []MetadataEvent{
		{EventID: "later", Timestamp: base.Add(time.Hour)},
		{EventID: "tie-a", Timestamp: base},
		{EventID: "tie-b", Timestamp: base},
	}
	sorted := SortByTime(events)
	if got := []string{sorted[0].EventID, sorted[1].EventID, sorted[2].EventID}; got[0] != "tie-a" || got[1] != "tie-b" || got[2] != "later" {
		t.Errorf("SortByTime order = %v, want [tie-a tie-b later]", got)
	}
	if events[0].EventID != "later" {
		t.Error("SortByTime mutated its input")
	}
}
