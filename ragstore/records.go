package ragstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// RecordStore is the durable metadata table behind the vector memory. The
// surrogate row id is the join key to vector index positions.
type RecordStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRecordStore wraps an opened database.
func NewRecordStore(db *sql.DB, logger zerolog.Logger) *RecordStore {
	return &RecordStore{
		db:     db,
		logger: logger.With().Str("component", "record_store").Logger(),
	}
}

// StatementBuilder returns a Squirrel builder configured for SQLite.
// SQLite uses '?' placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

func selectRagRecordColumns() []string {
	return []string{"id", "event_id", "contact_hash", "summary", "metadata_json", "created_at"}
}

// Insert writes one metadata row and returns its surrogate id. The row
// commits on its own, before any vector append is acknowledged, so a crash
// never produces a vector entry without backing metadata.
func (r *RecordStore) Insert(
	ctx context.Context,
	eventID string,
	contactHash string,
	summary string,
	metadata map[string]interface{},
	createdAt time.Time,
) (int64, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		r.logger.Error().Err(err).Str("eventID", eventID).Msg("failed to marshal metadata")
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	query := StatementBuilder().
		Insert("rag_records").
		Columns("event_id", "contact_hash", "summary", "metadata_json", "created_at").
		Values(eventID, contactHash, summary, string(metaJSON), createdAt.Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("eventID", eventID).Msg("failed to insert rag_record")
		return 0, fmt.Errorf("insert rag_record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	r.logger.Debug().
		Int64("id", id).
		Str("eventID", eventID).
		Str("contactHash", contactHash).
		Msg("rag_record inserted")
	return id, nil
}

// GetByIDs loads the records for the given surrogate ids. Missing ids are
// simply absent from the result; callers treat them as ignorable.
func (r *RecordStore) GetByIDs(ctx context.Context, ids []int64) ([]RagRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idArgs := make([]interface{}, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}

	query := StatementBuilder().
		Select(selectRagRecordColumns()...).
		From("rag_records").
		Where(sq.Eq{"id": idArgs})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select rag_records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var records []RagRecord
	for rows.Next() {
		rec, err := scanRagRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountByContact reports how many rows exist for one contact. Used by the
// sweep runtime to skip contacts with no history.
func (r *RecordStore) CountByContact(ctx context.Context, contactHash string) (int, error) {
	query := StatementBuilder().
		Select("COUNT(*)").
		From("rag_records").
		Where(sq.Eq{"contact_hash": contactHash})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, queryStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rag_records: %w", err)
	}
	return count, nil
}

// ListContacts returns the distinct contact hashes present in the store.
func (r *RecordStore) ListContacts(ctx context.Context) ([]string, error) {
	query := StatementBuilder().
		Select("DISTINCT contact_hash").
		From("rag_records").
		OrderBy("contact_hash")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build contacts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var contacts []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		contacts = append(contacts, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

func scanRagRecord(rows *sql.Rows) (RagRecord, error) {
	var (
		id          int64
		eventID     string
		contactHash string
		summary     string
		metaJSON    sql.NullString
		createdAt   int64
	)
	if err := rows.Scan(&id, &eventID, &contactHash, &summary, &metaJSON, &createdAt); err != nil {
		return RagRecord{}, err
	}

	var meta map[string]interface{}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &meta)
	}

	return RagRecord{
		ID:          id,
		EventID:     eventID,
		ContactHash: contactHash,
		Summary:     summary,
		Metadata:    meta,
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
	}, nil
}
