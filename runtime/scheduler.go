// Package runtime drives the periodic re-scoring sweep: scores decay with
// wall-clock time, so tracked contacts are re-evaluated on a schedule even
// when no new events arrive.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/event"
	"github.com/bubbleone/kindred/flow"
	"github.com/bubbleone/kindred/scoring"
)

// ContactSnapshot is everything the sweep knows about one tracked contact.
type ContactSnapshot struct {
	ContactHash   string
	Alias         string
	PreviousScore float64
	Events        []event.MetadataEvent
}

// ContactSource lists contacts due for re-scoring. Implementations may
// ingest newly arrived events as a side effect of listing.
type ContactSource interface {
	ListContacts(ctx context.Context) ([]ContactSnapshot, error)
}

// OutcomeRecorder is optionally implemented by sources that want the swept
// score fed back as the next sweep's previous score.
type OutcomeRecorder interface {
	RecordOutcome(contactHash string, score float64)
}

// ResultSink receives each completed flow state.
type ResultSink interface {
	HandleResult(ctx context.Context, fs flow.FlowState) error
}

// Sweeper re-scores every tracked contact on a schedule and runs the
// anomaly flow on the result.
type Sweeper struct {
	source   ContactSource
	sink     ResultSink
	flow     *flow.Flow
	schedule cron.Schedule
	hp       scoring.HyperParams
	logger   zerolog.Logger
}

// NewSweeper parses the schedule (cron expression, descriptor like
// "@hourly", or Go duration) and returns a ready sweeper.
func NewSweeper(source ContactSource, sink ResultSink, fl *flow.Flow, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if source == nil || sink == nil || fl == nil {
		return nil, fmt.Errorf("source, sink and flow are all required")
	}
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		source:   source,
		sink:     sink,
		flow:     fl,
		schedule: sched,
		hp:       scoring.DefaultHyperParams(),
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}, nil
}

// parseSchedule accepts cron expressions (5 or 6 field), descriptors, and
// plain Go durations.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

// Start runs sweeps until the context is cancelled. The first sweep runs
// immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Msg("Starting sweeper")
	s.Sweep(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Sweeper stopped: context cancelled")
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep re-scores every tracked contact once. Per-contact failures are
// logged and skipped; one bad contact never aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	contacts, err := s.source.ListContacts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list contacts")
		return
	}
	if len(contacts) == 0 {
		return
	}
	s.logger.Info().Int("numContacts", len(contacts)).Msg("Sweeping contacts")

	recorder, _ := s.source.(OutcomeRecorder)
	for _, c := range contacts {
		s.sweepContact(ctx, c, recorder)
	}
}

func (s *Sweeper) sweepContact(ctx context.Context, c ContactSnapshot, recorder OutcomeRecorder) {
	hp := s.hp
	hp.LambdaDecay = scoring.TrainTemporalDecay(c.Events, hp.LambdaDecay)
	current := scoring.ComputeRelationshipScore(c.Events, c.PreviousScore, time.Time{}, hp)

	fs := flow.FlowState{
		ContactHash:   c.ContactHash,
		Alias:         c.Alias,
		CurrentScore:  current,
		PreviousScore: c.PreviousScore,
		RecentEvents:  c.Events,
	}
	out, err := s.flow.Run(ctx, fs)
	if err != nil {
		s.logger.Error().Err(err).Str("contactHash", c.ContactHash).Msg("Flow failed for contact")
		return
	}

	if err := s.sink.HandleResult(ctx, out); err != nil {
		s.logger.Error().Err(err).Str("contactHash", c.ContactHash).Msg("Result sink failed")
		return
	}
	if recorder != nil {
		recorder.RecordOutcome(c.ContactHash, current)
	}
}
