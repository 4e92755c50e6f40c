package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/embed"
	"github.com/bubbleone/kindred/event"
	"github.com/bubbleone/kindred/ragstore"
)

// defaultPreviousScore seeds a contact the first time it is seen.
const defaultPreviousScore = 50.0

// eventWindowSize bounds how many recent events are kept per contact
// between sweeps.
const eventWindowSize = 50

// SpoolSource ingests privacy-scrubbed event batches dropped as JSONL files
// into <dir>/spool. Each consumed file's summaries are embedded and added to
// the vector memory, the file moves to <dir>/spool/done, and the events join
// the contact's in-memory window for the next sweep. Invalid events are
// logged and skipped; they never enter scoring or storage.
type SpoolSource struct {
	mu       sync.Mutex
	spoolDir string
	doneDir  string
	store    *ragstore.MemoryStore
	embedder embed.Embedder
	contacts map[string]*contactState
	logger   zerolog.Logger
}

type contactState struct {
	alias         string
	previousScore float64
	events        []event.MetadataEvent
}

// NewSpoolSource creates the spool directories under dataDir if needed.
func NewSpoolSource(dataDir string, store *ragstore.MemoryStore, embedder embed.Embedder, logger zerolog.Logger) (*SpoolSource, error) {
	spoolDir := filepath.Join(dataDir, "spool")
	doneDir := filepath.Join(spoolDir, "done")
	if err := os.MkdirAll(doneDir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool directories: %w", err)
	}
	return &SpoolSource{
		spoolDir: spoolDir,
		doneDir:  doneDir,
		store:    store,
		embedder: embedder,
		contacts: make(map[string]*contactState),
		logger:   logger.With().Str("component", "spool_source").Logger(),
	}, nil
}

// ListContacts consumes any new spool files, then snapshots every tracked
// contact.
func (s *SpoolSource) ListContacts(ctx context.Context) ([]ContactSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consume(ctx); err != nil {
		return nil, err
	}

	snapshots := make([]ContactSnapshot, 0, len(s.contacts))
	for hash, st := range s.contacts {
		events := make([]event.MetadataEvent, len(st.events))
		copy(events, st.events)
		snapshots = append(snapshots, ContactSnapshot{
			ContactHash:   hash,
			Alias:         st.alias,
			PreviousScore: st.previousScore,
			Events:        events,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ContactHash < snapshots[j].ContactHash
	})
	return snapshots, nil
}

// RecordOutcome implements OutcomeRecorder: the swept score becomes the next
// sweep's previous score and the event window resets.
func (s *SpoolSource) RecordOutcome(contactHash string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.contacts[contactHash]; ok {
		st.previousScore = score
		st.events = nil
	}
}

func (s *SpoolSource) consume(ctx context.Context) error {
	entries, err := os.ReadDir(s.spoolDir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(s.spoolDir, name)
		if err := s.consumeFile(ctx, path); err != nil {
			s.logger.Error().Err(err).Str("file", name).Msg("failed to consume spool file")
			continue
		}
		if err := os.Rename(path, filepath.Join(s.doneDir, name)); err != nil {
			return fmt.Errorf("archive spool file %s: %w", name, err)
		}
	}
	return nil
}

func (s *SpoolSource) consumeFile(ctx context.Context, path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the spool dir listing
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only file

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var e event.MetadataEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			s.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed event line")
			continue
		}
		if e.Intent == "" {
			e.Intent = event.DefaultIntent
		}
		if err := e.Validate(); err != nil {
			s.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping invalid event")
			continue
		}

		s.track(e)

		vec, err := s.embedder.Embed(ctx, e.Summary)
		if err != nil {
			// The chain ends at the hash embedder, so this is unexpected;
			// the event still counts toward scoring.
			s.logger.Warn().Err(err).Str("eventID", e.EventID).Msg("embedding failed, summary not stored")
			continue
		}
		if _, err := s.store.AddRecord(ctx, e.EventID, e.ContactHash, e.Summary, e.Metadata, vec); err != nil {
			return fmt.Errorf("store summary for event %s: %w", e.EventID, err)
		}
	}
	return scanner.Err()
}

func (s *SpoolSource) track(e event.MetadataEvent) {
	st, ok := s.contacts[e.ContactHash]
	if !ok {
		st = &contactState{previousScore: defaultPreviousScore}
		s.contacts[e.ContactHash] = st
	}
	if alias, ok := e.Metadata["alias"].(string); ok && alias != "" {
		st.alias = alias
	}
	st.events = append(st.events, e)
	if len(st.events) > eventWindowSize {
		st.events = st.events[len(st.events)-eventWindowSize:]
	}
}
