package ragstore

import "time"

// RagRecord is one persisted metadata row. Rows are created once on ingest
// and immutable afterward; there is no update or delete path.
type RagRecord struct {
	ID          int64                  `json:"id"`
	EventID     string                 `json:"event_id"`
	ContactHash string                 `json:"contact_hash"`
	Summary     string                 `json:"summary"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// RagResult is a RagRecord plus its similarity to the query embedding.
type RagResult struct {
	RagRecord
	Score float64 `json:"score"`
}
