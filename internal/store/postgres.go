package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/amishk599/recruitwatch/internal/model"
)

// PostgresStore is the shared-database store. Claims use FOR UPDATE SKIP
// LOCKED so concurrent dispatchers never hold the same record.
type PostgresStore struct {
	db *sql.DB
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS postings (
		id                   BIGSERIAL PRIMARY KEY,
		source_id            TEXT        NOT NULL,
		external_id          TEXT        NOT NULL,
		title                TEXT        NOT NULL,
		url                  TEXT        NOT NULL,
		start_at             TIMESTAMPTZ NOT NULL,
		end_at               TIMESTAMPTZ,
		is_open_until_filled BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (external_id, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id         BIGSERIAL PRIMARY KEY,
		email      TEXT        NOT NULL,
		keywords   JSONB       NOT NULL DEFAULT '[]',
		source_id  TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_source_idx ON subscriptions (source_id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id                    BIGSERIAL PRIMARY KEY,
		channel               TEXT        NOT NULL,
		recipient             TEXT        NOT NULL,
		subject               TEXT        NOT NULL,
		body                  TEXT        NOT NULL,
		status                TEXT        NOT NULL DEFAULT 'pending',
		posting_id            BIGINT REFERENCES postings (id),
		retry_count           INTEGER     NOT NULL DEFAULT 0,
		error_message         TEXT        NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at               TIMESTAMPTZ,
		processing_started_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_status_idx ON notifications (status, created_at)`,
}

// NewPostgresStore connects to dsn, verifies the connection and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating postgres schema: %w", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

const pgPostingColumns = `id, source_id, external_id, title, url, start_at, end_at, is_open_until_filled, created_at`

func scanPGPosting(row rowScanner) (model.Posting, error) {
	var (
		p   model.Posting
		end sql.NullTime
	)
	err := row.Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.URL,
		&p.StartAt, &end, &p.IsOpenUntilFilled, &p.CreatedAt)
	if err != nil {
		return model.Posting{}, err
	}
	p.EndAt = nullTimePtr(end)
	return p, nil
}

func (s *PostgresStore) LatestBySource(ctx context.Context, sourceID string) (model.Posting, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgPostingColumns+` FROM postings WHERE source_id = $1 ORDER BY id DESC LIMIT 1`,
		sourceID)
	p, err := scanPGPosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Posting{}, false, nil
	}
	if err != nil {
		return model.Posting{}, false, fmt.Errorf("reading latest posting for %s: %w", sourceID, err)
	}
	return p, true, nil
}

func (s *PostgresStore) InsertPosting(ctx context.Context, p model.Posting) (model.Posting, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO postings (source_id, external_id, title, url, start_at, end_at, is_open_until_filled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		p.SourceID, p.ExternalID, p.Title, p.URL, p.StartAt, nullTime(p.EndAt), p.IsOpenUntilFilled, p.CreatedAt,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return model.Posting{}, model.ErrDuplicateKey
	}
	if err != nil {
		return model.Posting{}, fmt.Errorf("inserting posting %s/%s: %w", p.SourceID, p.ExternalID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPostings(ctx context.Context, sourceID string, limit int) ([]model.Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgPostingColumns+` FROM postings WHERE source_id = $1 ORDER BY id DESC LIMIT $2`,
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing postings for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var out []model.Posting
	for rows.Next() {
		p, err := scanPGPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	keywords, err := encodeKeywords(sub.Keywords)
	if err != nil {
		return model.Subscription{}, err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (email, keywords, source_id, created_at) VALUES ($1, $2::jsonb, $3, $4) RETURNING id`,
		sub.Email, keywords, sub.SourceID, sub.CreatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("creating subscription for %s: %w", sub.Email, err)
	}
	return sub, nil
}

func (s *PostgresStore) ListBySources(ctx context.Context, sources []string) ([]model.Subscription, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, keywords::text, source_id, created_at FROM subscriptions
		WHERE source_id = ANY($1) ORDER BY id`, sources)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var (
			sub model.Subscription
			raw string
		)
		if err := rows.Scan(&sub.ID, &sub.Email, &raw, &sub.SourceID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if sub.Keywords, err = decodeKeywords(raw); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

const pgNotificationColumns = `n.id, n.channel, n.recipient, n.subject, n.body, n.status, n.posting_id, n.retry_count,
	n.error_message, n.created_at, n.updated_at, n.sent_at, n.processing_started_at`

func scanPGNotification(row rowScanner) (model.NotificationRecord, error) {
	var (
		r                 model.NotificationRecord
		channel, status   string
		postingID         sql.NullInt64
		sent, procStarted sql.NullTime
	)
	err := row.Scan(&r.ID, &channel, &r.Recipient, &r.Content.Subject, &r.Content.Body, &status,
		&postingID, &r.RetryCount, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt, &sent, &procStarted)
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
	r.SentAt = nullTimePtr(sent)
	r.ProcessingStartedAt = nullTimePtr(procStarted)
	return r, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, records []model.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}
	return withTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO notifications (channel, recipient, subject, body, status, posting_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'pending', $5, $6, $6)`)
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
				nullInt64(r.PostingID), created)
			if err != nil {
				return fmt.Errorf("enqueueing notification for %s: %w", r.Recipient, err)
			}
		}
		return nil
	})
}

// SQL used by ClaimPending to lock and flip a batch in one statement.
const claimPendingSQL = `
  WITH cte AS (
    SELECT id FROM notifications
    WHERE (status = 'pending' AND (processing_started_at IS NULL OR processing_started_at < $2))
       OR (status = 'processing' AND processing_started_at < $2)
    ORDER BY created_at ASC, id ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
  )
  UPDATE notifications n
  SET status = 'processing', processing_started_at = $1, updated_at = $1
  FROM cte
  WHERE n.id = cte.id
  RETURNING ` + pgNotificationColumns

func (s *PostgresStore) ClaimPending(ctx context.Context, p model.ClaimParams) ([]model.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, claimPendingSQL, p.Now, p.StaleBefore, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("claiming notifications: %w", err)
	}
	defer rows.Close()

	var claimed []model.NotificationRecord
	for rows.Next() {
		r, err := scanPGNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed notification: %w", err)
		}
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claiming notifications: %w", err)
	}
	sortOldestFirst(claimed)
	return claimed, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'sent', sent_at = $1, updated_at = $1, error_message = ''
		WHERE id = $2 AND status = 'processing'`,
		at, id)
	return settled(res, err, "marking notification %d sent", id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'failed', error_message = $1, retry_count = retry_count + 1, updated_at = $2
		WHERE id = $3 AND status = 'processing'`,
		errMsg, at, id)
	return settled(res, err, "marking notification %d failed", id)
}

// ResetFailed locks the failed rows it resets so a concurrent sweep skips
// them instead of waiting.
func (s *PostgresStore) ResetFailed(ctx context.Context, maxRetries int, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`WITH cte AS (
			SELECT id FROM notifications
			WHERE status = 'failed' AND retry_count < $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notifications n SET status = 'pending', updated_at = $2
		FROM cte WHERE n.id = cte.id`,
		maxRetries, at)
	if err != nil {
		return 0, fmt.Errorf("resetting failed notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset notifications: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (model.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgNotificationColumns+` FROM notifications n WHERE n.id = $1`, id)
	r, err := scanPGNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotificationRecord{}, fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.NotificationRecord{}, fmt.Errorf("reading notification %d: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}
	return countStatuses(rows)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
