package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/flow"
)

// ActionLog appends each completed flow state as one JSON line to a log
// file. Downstream consumers (the notification surface, a human) tail it.
type ActionLog struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// NewActionLog creates a sink writing to path.
func NewActionLog(path string, logger zerolog.Logger) *ActionLog {
	return &ActionLog{
		path:   path,
		logger: logger.With().Str("component", "action_log").Logger(),
	}
}

// HandleResult implements ResultSink.
func (a *ActionLog) HandleResult(_ context.Context, fs flow.FlowState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("marshal flow state: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("open action log: %w", err)
	}
	defer f.Close() //nolint:errcheck // append-only log

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}

	a.logger.Debug().
		Str("contactHash", fs.ContactHash).
		Str("actionType", string(fs.Plan.ActionType)).
		Time("scheduleAt", fs.ScheduleAt).
		Msg("action recorded")
	return nil
}
