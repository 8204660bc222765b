package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/tracevault/internal/model"
)

const bundleSelect = `
	SELECT b.id, b.device_id, b.category, b.digest, b.created_at,
	       m.content, m.device_ts, m.reference_ts
	FROM log_bundles b
	JOIN bundle_messages m ON m.bundle_id = b.id`

const bundleOrder = `
	ORDER BY b.created_at, b.seq, m.seq_no`

// SaveBundle persists b and its messages in one transaction. An empty ID is
// filled with a new UUID and a zero CreatedAt with the current time.
func (s *Store) SaveBundle(ctx context.Context, b *model.LogBundle) error {
	if b == nil {
		return errors.New("duckdb: nil bundle")
	}
	if len(b.Messages) == 0 {
		return errors.New("duckdb: bundle has no messages")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdb: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO log_bundles (id, device_id, category, digest, created_at, earliest_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.DeviceID, b.Category, b.Digest, b.CreatedAt.UTC(), b.Earliest().UTC(), len(b.Messages),
	); err != nil {
		return fmt.Errorf("duckdb: insert bundle: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bundle_messages (bundle_id, seq_no, content, device_ts, reference_ts)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("duckdb: prepare messages: %w", err)
	}
	defer stmt.Close()

	for i, m := range b.Messages {
		var ref any
		if m.ReferenceTime != nil {
			ref = m.ReferenceTime.UTC()
		}
		if _, err := stmt.ExecContext(ctx, b.ID, i, m.Content, m.DeviceTime.UTC(), ref); err != nil {
			return fmt.Errorf("duckdb: insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdb: commit: %w", err)
	}
	return nil
}

// BundlesInWindow returns the device's bundles whose earliest message lies
// within [start, end], in ingestion order.
func (s *Store) BundlesInWindow(ctx context.Context, deviceID string, start, end time.Time) ([]model.LogBundle, error) {
	return s.queryBundles(ctx,
		bundleSelect+` WHERE b.device_id = ? AND b.earliest_at BETWEEN ? AND ?`+bundleOrder,
		deviceID, start.UTC(), end.UTC())
}

// BundlesFor returns every bundle of one device and category.
func (s *Store) BundlesFor(ctx context.Context, pair model.Pair) ([]model.LogBundle, error) {
	return s.queryBundles(ctx,
		bundleSelect+` WHERE b.device_id = ? AND b.category = ?`+bundleOrder,
		pair.DeviceID, pair.Category)
}

// EachBundle calls fn for every stored bundle in ingestion order.
func (s *Store) EachBundle(ctx context.Context, fn func(model.LogBundle) error) error {
	bundles, err := s.queryBundles(ctx, bundleSelect+bundleOrder)
	if err != nil {
		return err
	}
	for _, b := range bundles {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) queryBundles(ctx context.Context, query string, args ...any) ([]model.LogBundle, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query bundles: %w", err)
	}
	defer rows.Close()

	var out []model.LogBundle
	for rows.Next() {
		var (
			id, deviceID, category, sum, content string
			createdAt, deviceTS                   time.Time
			refTS                                 sql.NullTime
		)
		if err := rows.Scan(&id, &deviceID, &category, &sum, &createdAt, &content, &deviceTS, &refTS); err != nil {
			return nil, fmt.Errorf("duckdb: scan bundle: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, model.LogBundle{
				ID:        id,
				DeviceID:  deviceID,
				Category:  category,
				Digest:    sum,
				CreatedAt: createdAt.UTC(),
			})
		}
		msg := model.Message{Content: content, DeviceTime: deviceTS.UTC()}
		if refTS.Valid {
			ref := refTS.Time.UTC()
			msg.ReferenceTime = &ref
		}
		b := &out[len(out)-1]
		b.Messages = append(b.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: iterate bundles: %w", err)
	}
	return out, nil
}

// PurgeBundles deletes every bundle and message and returns the number of
// bundles removed.
func (s *Store) PurgeBundles(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("duckdb: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM bundle_messages"); err != nil {
		return 0, fmt.Errorf("duckdb: purge messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM log_bundles")
	if err != nil {
		return 0, fmt.Errorf("duckdb: purge bundles: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("duckdb: commit purge: %w", err)
	}
	return n, nil
}

// BundleCount returns the number of stored bundles.
func (s *Store) BundleCount(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_bundles").Scan(&n); err != nil {
		return 0, fmt.Errorf("duckdb: count bundles: %w", err)
	}
	return n, nil
}

var _ model.BundleStore = (*Store)(nil)
