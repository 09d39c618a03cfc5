// Package store persists postings, subscriptions and the notification queue.
// SQLiteStore serves single-node deployments; PostgresStore serves shared
// deployments where several workers claim from the same queue.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amishk599/recruitwatch/internal/model"
)

// Store is everything the service needs from persistence.
type Store interface {
	model.JobStore
	model.SubscriptionStore
	model.NotificationStore
	ListPostings(ctx context.Context, sourceID string, limit int) ([]model.Posting, error)
	Get(ctx context.Context, id int64) (model.NotificationRecord, error)
	CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error)
	Close() error
}

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Open picks the driver from the DSN: postgres:// and postgresql:// URLs
// open a PostgresStore, anything else is treated as a SQLite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(ctx, dsn)
	}
	return NewSQLiteStore(dsn)
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeKeywords(keywords []string) (string, error) {
	if keywords == nil {
		keywords = []string{}
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return "", fmt.Errorf("encoding keywords: %w", err)
	}
	return string(b), nil
}

func decodeKeywords(raw string) ([]string, error) {
	var keywords []string
	if raw == "" {
		return keywords, nil
	}
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
		return nil, fmt.Errorf("decoding keywords %q: %w", raw, err)
	}
	return keywords, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func countStatuses(rows *sql.Rows) (map[model.NotificationStatus]int, error) {
	defer rows.Close()
	counts := make(map[model.NotificationStatus]int, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		st, err := model.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}
	return counts, nil
}
