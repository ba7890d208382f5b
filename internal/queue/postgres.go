package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	_ "github.com/lib/pq"
)

const (
	postgresQueueTableName   = "docsync_sync_queue"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBacklog shares one backlog between every instance pointed at the
// same database. The (tenant_id, document_id, action) primary key carries the
// deduplication rule, and Drain deletes and returns rows in a single
// statement so two instances never process the same item.
type PostgresBacklog struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresBacklog returns a backlog backed by the given DSN. The table
// is created on first use.
func NewPostgresBacklog(dsn string) (*PostgresBacklog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn: %w", derrors.ErrInvalidInput)
	}

	return &PostgresBacklog{
		dsn:       dsn,
		tableName: postgresQueueTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresBacklog) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				tenant_id TEXT NOT NULL,
				document_id TEXT NOT NULL,
				action TEXT NOT NULL,
				priority INTEGER NOT NULL,
				enqueued_at TIMESTAMPTZ NOT NULL,
				payload TEXT NOT NULL,
				PRIMARY KEY (tenant_id, document_id, action)
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err

			return
		}

		b.db = db
	})

	return b.initErr
}

func (b *PostgresBacklog) write(ctx context.Context, item models.SyncQueueItem, onConflict string) (bool, error) {
	if err := b.ensureReady(); err != nil {
		return false, err
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, document_id, action, priority, enqueued_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, document_id, action) %s`, postgresQuoteIdentifier(b.tableName), onConflict)

	res, err := b.db.ExecContext(ctx, query, item.TenantID, item.DocumentID, string(item.Action), item.Priority, item.EnqueuedAt, string(payload))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (b *PostgresBacklog) Upsert(ctx context.Context, item models.SyncQueueItem) error {
	_, err := b.write(ctx, item, `DO UPDATE SET
			priority = EXCLUDED.priority,
			enqueued_at = EXCLUDED.enqueued_at,
			payload = EXCLUDED.payload`)

	return err
}

func (b *PostgresBacklog) Insert(ctx context.Context, item models.SyncQueueItem) (bool, error) {
	return b.write(ctx, item, "DO NOTHING")
}

func (b *PostgresBacklog) Drain(ctx context.Context) ([]models.SyncQueueItem, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	items, err := b.query(ctx, fmt.Sprintf("DELETE FROM %s RETURNING payload", postgresQuoteIdentifier(b.tableName)))
	if err != nil {
		return nil, err
	}

	sortItems(items)

	return items, nil
}

func (b *PostgresBacklog) Pending(ctx context.Context, tenantID, documentID string) ([]models.SyncQueueItem, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT payload FROM %s
		WHERE tenant_id = $1 AND document_id = $2
		ORDER BY priority ASC, enqueued_at ASC`, postgresQuoteIdentifier(b.tableName))

	return b.query(ctx, query, tenantID, documentID)
}

func (b *PostgresBacklog) Remove(ctx context.Context, tenantID, documentID string) (int, error) {
	if err := b.ensureReady(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND document_id = $2", postgresQuoteIdentifier(b.tableName))

	res, err := b.db.ExecContext(ctx, query, tenantID, documentID)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()

	return int(n), err
}

func (b *PostgresBacklog) Len(ctx context.Context) (int, error) {
	if err := b.ensureReady(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var n int

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", postgresQuoteIdentifier(b.tableName))
	if err := b.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}

// Close releases the database handle.
func (b *PostgresBacklog) Close() error {
	if b == nil || b.db == nil {
		return nil
	}

	return b.db.Close()
}

func (b *PostgresBacklog) query(ctx context.Context, query string, args ...any) ([]models.SyncQueueItem, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.SyncQueueItem

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var item models.SyncQueueItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("decoding queue item: %w", err)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}

	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
