package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/recruitwatch/internal/model"
)

// SQLiteStore keeps all state in one SQLite file. Timestamps are stored as
// unix milliseconds so that range predicates compare numerically.
type SQLiteStore struct {
	db *sql.DB
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS postings (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id            TEXT    NOT NULL,
		external_id          TEXT    NOT NULL,
		title                TEXT    NOT NULL,
		url                  TEXT    NOT NULL,
		start_at             INTEGER NOT NULL,
		end_at               INTEGER,
		is_open_until_filled INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL,
		UNIQUE (external_id, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		email      TEXT    NOT NULL,
		keywords   TEXT    NOT NULL,
		source_id  TEXT    NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_source_idx ON subscriptions (source_id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		channel               TEXT    NOT NULL,
		recipient             TEXT    NOT NULL,
		subject               TEXT    NOT NULL,
		body                  TEXT    NOT NULL,
		status                TEXT    NOT NULL DEFAULT 'pending',
		posting_id            INTEGER REFERENCES postings (id),
		retry_count           INTEGER NOT NULL DEFAULT 0,
		error_message         TEXT    NOT NULL DEFAULT '',
		created_at            INTEGER NOT NULL,
		updated_at            INTEGER NOT NULL,
		sent_at               INTEGER,
		processing_started_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_status_idx ON notifications (status, created_at)`,
}

// sqliteDSN turns a file path into a modernc DSN. Transactions start with
// BEGIN IMMEDIATE so a claim holds the database write lock from its first
// statement.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep +
		"_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating sqlite schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

const sqlitePostingColumns = `id, source_id, external_id, title, url, start_at, end_at, is_open_until_filled, created_at`

func scanSQLitePosting(row rowScanner) (model.Posting, error) {
	var (
		p              model.Posting
		start, created int64
		end            sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.URL,
		&start, &end, &p.IsOpenUntilFilled, &created)
	if err != nil {
		return model.Posting{}, err
	}
	p.StartAt = fromMillis(start)
	p.EndAt = timePtr(end)
	p.CreatedAt = fromMillis(created)
	return p, nil
}

// LatestBySource returns the most recently inserted posting of a source.
func (s *SQLiteStore) LatestBySource(ctx context.Context, sourceID string) (model.Posting, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePostingColumns+` FROM postings WHERE source_id = ? ORDER BY id DESC LIMIT 1`,
		sourceID)
	p, err := scanSQLitePosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Posting{}, false, nil
	}
	if err != nil {
		return model.Posting{}, false, fmt.Errorf("reading latest posting for %s: %w", sourceID, err)
	}
	return p, true, nil
}

// InsertPosting stores p and returns it with its id. An existing
// (external_id, source_id) pair yields model.ErrDuplicateKey.
func (s *SQLiteStore) InsertPosting(ctx context.Context, p model.Posting) (model.Posting, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO postings (source_id, external_id, title, url, start_at, end_at, is_open_until_filled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id, source_id) DO NOTHING
		RETURNING id`,
		p.SourceID, p.ExternalID, p.Title, p.URL, toMillis(p.StartAt), nullMillis(p.EndAt),
		p.IsOpenUntilFilled, toMillis(p.CreatedAt),
	).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Posting{}, model.ErrDuplicateKey
	}
	if err != nil {
		return model.Posting{}, fmt.Errorf("inserting posting %s/%s: %w", p.SourceID, p.ExternalID, err)
	}
	return p, nil
}

// ListPostings returns the newest postings of a source, newest first.
func (s *SQLiteStore) ListPostings(ctx context.Context, sourceID string, limit int) ([]model.Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostingColumns+` FROM postings WHERE source_id = ? ORDER BY id DESC LIMIT ?`,
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing postings for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var out []model.Posting
	for rows.Next() {
		p, err := scanSQLitePosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateSubscription stores a subscription and returns it with its id.
func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	keywords, err := encodeKeywords(sub.Keywords)
	if err != nil {
		return model.Subscription{}, err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (email, keywords, source_id, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		sub.Email, keywords, sub.SourceID, toMillis(sub.CreatedAt),
	).Scan(&sub.ID)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("creating subscription for %s: %w", sub.Email, err)
	}
	return sub, nil
}

// ListBySources returns subscriptions whose source is one of sources.
func (s *SQLiteStore) ListBySources(ctx context.Context, sources []string) ([]model.Subscription, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")
	args := make([]any, len(sources))
	for i, src := range sources {
		args[i] = src
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, keywords, source_id, created_at FROM subscriptions
		WHERE source_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var (
			sub     model.Subscription
			raw     string
			created int64
		)
		if err := rows.Scan(&sub.ID, &sub.Email, &raw, &sub.SourceID, &created); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if sub.Keywords, err = decodeKeywords(raw); err != nil {
			return nil, err
		}
		sub.CreatedAt = fromMillis(created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

const sqliteNotificationColumns = `id, channel, recipient, subject, body, status, posting_id, retry_count,
	error_message, created_at, updated_at, sent_at, processing_started_at`

func scanSQLiteNotification(row rowScanner) (model.NotificationRecord, error) {
	var (
		r                 model.NotificationRecord
		channel, status   string
		postingID         sql.NullInt64
		created, updated  int64
		sent, procStarted sql.NullInt64
	)
	err := row.Scan(&r.ID, &channel, &r.Recipient, &r.Content.Subject, &r.Content.Body, &status,
		&postingID, &r.RetryCount, &r.ErrorMessage, &created, &updated, &sent, &procStarted)
	if err != nil {
		return model.NotificationRecord{}, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.NotificationRecord{}, err
	}
	r.Channel = model.Channel(channel)
	r.Status = st
	r.PostingID = int64Ptr(postingID)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	r.SentAt = timePtr(sent)
	r.ProcessingStartedAt = timePtr(procStarted)
	return r, nil
}

// Enqueue inserts records as pending in one transaction.
func (s *SQLiteStore) Enqueue(ctx context.Context, records []model.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}
	return withTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO notifications (channel, recipient, subject, body, status, posting_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing enqueue: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		for _, r := range records {
			created := r.CreatedAt
			if created.IsZero() {
				created = now
			}
			_, err := stmt.ExecContext(ctx, string(r.Channel), r.Recipient, r.Content.Subject, r.Content.Body,
				nullInt64(r.PostingID), toMillis(created), toMillis(created))
			if err != nil {
				return fmt.Errorf("enqueueing notification for %s: %w", r.Recipient, err)
			}
		}
		return nil
	})
}

// ClaimPending moves up to p.Limit claimable records to processing. The
// statement runs inside an immediate transaction, so concurrent claimers
// are serialized on the database write lock.
func (s *SQLiteStore) ClaimPending(ctx context.Context, p model.ClaimParams) ([]model.NotificationRecord, error) {
	var claimed []model.NotificationRecord
	err := withTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`UPDATE notifications
			SET status = 'processing', processing_started_at = ?, updated_at = ?
			WHERE id IN (
				SELECT id FROM notifications
				WHERE (status = 'pending' AND (processing_started_at IS NULL OR processing_started_at < ?))
				   OR (status = 'processing' AND processing_started_at < ?)
				ORDER BY created_at, id
				LIMIT ?
			)
			RETURNING `+sqliteNotificationColumns,
			toMillis(p.Now), toMillis(p.Now), toMillis(p.StaleBefore), toMillis(p.StaleBefore), p.Limit)
		if err != nil {
			return fmt.Errorf("claiming notifications: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanSQLiteNotification(rows)
			if err != nil {
				return fmt.Errorf("scanning claimed notification: %w", err)
			}
			claimed = append(claimed, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(claimed)
	return claimed, nil
}

// MarkSent settles a processing record as sent.
func (s *SQLiteStore) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'sent', sent_at = ?, updated_at = ?, error_message = ''
		WHERE id = ? AND status = 'processing'`,
		toMillis(at), toMillis(at), id)
	return settled(res, err, "marking notification %d sent", id)
}

// MarkFailed settles a processing record as failed and counts the attempt.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'failed', error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		errMsg, toMillis(at), id)
	return settled(res, err, "marking notification %d failed", id)
}

// ResetFailed returns failed records with retry budget left to pending.
func (s *SQLiteStore) ResetFailed(ctx context.Context, maxRetries int, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'pending', updated_at = ?
		WHERE status = 'failed' AND retry_count < ?`,
		toMillis(at), maxRetries)
	if err != nil {
		return 0, fmt.Errorf("resetting failed notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset notifications: %w", err)
	}
	return int(n), nil
}

// Get returns one notification by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (model.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteNotificationColumns+` FROM notifications WHERE id = ?`, id)
	r, err := scanSQLiteNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotificationRecord{}, fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.NotificationRecord{}, fmt.Errorf("reading notification %d: %w", id, err)
	}
	return r, nil
}

// CountByStatus reports queue depth per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}
	return countStatuses(rows)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func settled(res sql.Result, err error, format string, id int64) (bool, error) {
	if err != nil {
		return false, fmt.Errorf(format+": %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf(format+": %w", id, err)
	}
	return n == 1, nil
}

// sortOldestFirst orders claimed records; RETURNING does not guarantee the
// subquery's order.
func sortOldestFirst(records []model.NotificationRecord) {
	slices.SortFunc(records, func(a, b model.NotificationRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
