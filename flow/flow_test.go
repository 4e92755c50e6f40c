package flow

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/embed"
	"github.com/bubbleone/kindred/event"
	"github.com/bubbleone/kindred/migrations"
	"github.com/bubbleone/kindred/planner"
	"github.com/bubbleone/kindred/ragstore"
	"github.com/bubbleone/kindred/vectorindex"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// wordEmbedder maps distinct first words to distinct axes so similarity in
// tests is predictable.
type wordEmbedder struct {
	axes map[string]int
}

func newWordEmbedder() *wordEmbedder {
	return &wordEmbedder{axes: make(map[string]int)}
}

func (w *wordEmbedder) Name() string { return "word" }

func (w *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	first := strings.Fields(text)[0]
	axis, ok := w.axes[first]
	if !ok {
		axis = len(w.axes)
		w.axes[first] = axis
	}
	vec := make([]float32, embed.Dim)
	vec[axis] = 1.0
	return vec, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Name() string { return "broken" }

func (failingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func setupStore(t *testing.T) *ragstore.MemoryStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	store, err := ragstore.NewMemoryStore(db, t.TempDir(), vectorindex.BackendFlat, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestFlow(t *testing.T, embedder embed.Embedder, pl planner.Planner) (*Flow, *ragstore.MemoryStore) {
	t.Helper()
	store := setupStore(t)
	fl := NewFlow(store, embedder, pl, zerolog.Nop()).WithClock(func() time.Time { return fixedNow })
	return fl, store
}

func makeEvent(sentiment float64, summary string) event.MetadataEvent {
	return event.MetadataEvent{
		EventID:     "evt",
		ContactHash: "c1",
		Timestamp:   fixedNow.Add(-time.Hour),
		Interaction: event.InteractionText,
		Sentiment:   sentiment,
		Summary:     summary,
	}
}

func TestNextRouting(t *testing.T) {
	if got := Next(StateAnalyzeAnomaly, FlowState{AnomalyDetected: true}); got != StateQueryMemory {
		t.Errorf("anomaly route = %v, want query_memory", got)
	}
	if got := Next(StateAnalyzeAnomaly, FlowState{}); got != StatePlanAction {
		t.Errorf("quiet route = %v, want plan_action", got)
	}
	if got := Next(StateQueryMemory, FlowState{}); got != StatePlanAction {
		t.Errorf("query_memory next = %v", got)
	}
	if got := Next(StatePlanAction, FlowState{}); got != StateScheduleAction {
		t.Errorf("plan_action next = %v", got)
	}
	if got := Next(StateScheduleAction, FlowState{}); got != StateDone {
		t.Errorf("schedule_action next = %v", got)
	}
	if got := Next(StateDone, FlowState{}); got != StateDone {
		t.Errorf("done next = %v", got)
	}
}

func TestAnomalyReasons(t *testing.T) {
	tests := []struct {
		name      string
		previous  float64
		current   float64
		sentiment float64
		detected  bool
		reason    string
	}{
		{"drop and negative", 70, 50, -0.8, true, ReasonDropAndNegative},
		{"drop only", 70, 50, 0.2, true, ReasonScoreDrop},
		{"negative only", 70, 68, -0.5, true, ReasonNegative},
		{"threshold sentiment counts", 70, 68, -0.35, true, ReasonNegative},
		{"quiet", 70, 68, 0.3, false, ReasonNone},
		{"sub-threshold drop", 70, 56, 0.1, false, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl, _ := newTestFlow(t, newWordEmbedder(), nil)
			out, err := fl.Run(context.Background(), FlowState{
				ContactHash:   "c1",
				PreviousScore: tt.previous,
				CurrentScore:  tt.current,
				RecentEvents:  []event.MetadataEvent{makeEvent(tt.sentiment, "Chatted about nothing much")},
			})
			if err != nil {
				t.Fatal(err)
			}
			if out.AnomalyDetected != tt.detected {
				t.Errorf("AnomalyDetected = %v, want %v", out.AnomalyDetected, tt.detected)
			}
			if out.AnomalyReason != tt.reason {
				t.Errorf("AnomalyReason = %q, want %q", out.AnomalyReason, tt.reason)
			}
		})
	}
}

func TestRunFillsBandAndRisk(t *testing.T) {
	fl, _ := newTestFlow(t, newWordEmbedder(), nil)
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 80,
		CurrentScore:  80,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Band != "good" {
		t.Errorf("Band = %q, want good", out.Band)
	}
	if out.RiskLevel != "low" {
		t.Errorf("RiskLevel = %q, want low", out.RiskLevel)
	}
}

func TestAnomalyEscalatesRisk(t *testing.T) {
	fl, _ := newTestFlow(t, newWordEmbedder(), nil)
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 99,
		CurrentScore:  80,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.AnomalyDetected {
		t.Fatal("19-point drop not detected")
	}
	if out.RiskLevel != "high" {
		t.Errorf("RiskLevel = %q, want high despite good score", out.RiskLevel)
	}
}

func TestQueryMemoryNoSummaries(t *testing.T) {
	fl, _ := newTestFlow(t, newWordEmbedder(), nil)
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 70,
		CurrentScore:  40,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RagContext != noContextMessage {
		t.Errorf("RagContext = %q, want %q", out.RagContext, noContextMessage)
	}
}

func TestQueryMemoryEmbedFailure(t *testing.T) {
	fl, _ := newTestFlow(t, failingEmbedder{}, nil)
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 70,
		CurrentScore:  40,
		RecentEvents:  []event.MetadataEvent{makeEvent(0.1, "Quick hello over lunch break")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RagContext != noContextMessage {
		t.Errorf("RagContext = %q, want %q", out.RagContext, noContextMessage)
	}
}

func TestQueryMemoryNoNeighbors(t *testing.T) {
	fl, _ := newTestFlow(t, newWordEmbedder(), nil)
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 70,
		CurrentScore:  40,
		RecentEvents:  []event.MetadataEvent{makeEvent(0.1, "Quick hello over lunch break")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RagContext != noNeighborsMessage {
		t.Errorf("RagContext = %q, want %q", out.RagContext, noNeighborsMessage)
	}
}

func TestQueryMemoryFindsContext(t *testing.T) {
	embedder := newWordEmbedder()
	fl, store := newTestFlow(t, embedder, nil)
	ctx := context.Background()

	vec, err := embedder.Embed(ctx, "Argued about the canceled plans")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddRecord(ctx, "evt-old", "c1", "Argued about the canceled plans", nil, vec); err != nil {
		t.Fatal(err)
	}

	out, err := fl.Run(ctx, FlowState{
		ContactHash:   "c1",
		PreviousScore: 70,
		CurrentScore:  40,
		RecentEvents:  []event.MetadataEvent{makeEvent(-0.6, "Argued again over the phone")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RagContext != "- Argued about the canceled plans" {
		t.Errorf("RagContext = %q", out.RagContext)
	}
}

func TestNoAnomalySkipsMemoryLookup(t *testing.T) {
	fl, _ := newTestFlow(t, failingEmbedder{}, nil)
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 80,
		CurrentScore:  78,
		RecentEvents:  []event.MetadataEvent{makeEvent(0.5, "Friendly chat about the game")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RagContext != "" {
		t.Errorf("quiet contact RagContext = %q, want empty", out.RagContext)
	}
}

func TestScheduleUsesPlanHours(t *testing.T) {
	fl, _ := newTestFlow(t, newWordEmbedder(), nil)

	// Healthy contact: fallback plan deprioritizes with a 72-hour horizon.
	out, err := fl.Run(context.Background(), FlowState{
		ContactHash:   "c1",
		PreviousScore: 85,
		CurrentScore:  85,
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := fixedNow.Add(72 * time.Hour); !out.ScheduleAt.Equal(want) {
		t.Errorf("ScheduleAt = %v, want %v", out.ScheduleAt, want)
	}
}

func TestScheduleDefaultsTo24Hours(t *testing.T) {
	// Force a plan with non-positive hours through the schedule stage.
	fl, _ := newTestFlow(t, newWordEmbedder(), nil)
	fs := FlowState{
		ContactHash:  "c1",
		CurrentScore: 85,
	}
	fl.scheduleAction(&fs)
	if want := fixedNow.Add(24 * time.Hour); !fs.ScheduleAt.Equal(want) {
		t.Errorf("ScheduleAt = %v, want default %v", fs.ScheduleAt, want)
	}
}
