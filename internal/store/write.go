package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/pimsync/internal/model"
)

// Create inserts a new item. An empty ID is assigned by the store.
func (s *SQLiteStore) Create(ctx context.Context, item model.Item) (model.Item, error) {
	if err := s.checkPayload(&item); err != nil {
		return model.Item{}, fmt.Errorf("create: %w", err)
	}
	if item.ID == "" {
		item.ID = s.newID()
	}
	now := s.now().UTC()
	item.Created = now
	item.Modified = now
	item.Version = "1"

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row, err := newItemRow(item)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items
			(id, kind, payload, metadata, version, created_at, modified_at, start_at, last_end)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		`,
			item.ID,
			string(item.Kind),
			row.payload,
			row.metadata,
			formatTime(now),
			formatTime(now),
			row.startAt,
			row.lastEnd,
		)
		if err != nil {
			return err
		}
		return writeOverrides(ctx, tx, item)
	})
	if err != nil {
		return model.Item{}, fmt.Errorf("create %s: %w", item.ID, err)
	}
	return item, nil
}

// Update replaces an item. A non-empty expectedVersion must match the
// stored version.
func (s *SQLiteStore) Update(ctx context.Context, item model.Item, expectedVersion string) (model.Item, error) {
	if err := s.checkPayload(&item); err != nil {
		return model.Item{}, fmt.Errorf("update %s: %w", item.ID, err)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var version int64
		var createdAt string
		err := tx.QueryRowContext(ctx, `SELECT version, created_at FROM items WHERE id = ?`, item.ID).Scan(&version, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if expectedVersion != "" && expectedVersion != strconv.FormatInt(version, 10) {
			return fmt.Errorf("%w: have %d, expected %s", ErrVersionConflict, version, expectedVersion)
		}

		created, err := parseTime(createdAt)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		item.Created = created
		item.Modified = now
		item.Version = strconv.FormatInt(version+1, 10)

		row, err := newItemRow(item)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE items
			SET kind = ?, payload = ?, metadata = ?, version = ?, modified_at = ?, start_at = ?, last_end = ?
			WHERE id = ?
		`,
			string(item.Kind),
			row.payload,
			row.metadata,
			version+1,
			formatTime(now),
			row.startAt,
			row.lastEnd,
			item.ID,
		)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM instance_overrides WHERE recurring_id = ?`, item.ID); err != nil {
			return err
		}
		return writeOverrides(ctx, tx, item)
	})
	if err != nil {
		return model.Item{}, fmt.Errorf("update %s: %w", item.ID, err)
	}
	return item, nil
}

// Delete removes an item and its overrides.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) checkPayload(item *model.Item) error {
	if s.maxPayload > 0 {
		if n := model.PayloadSize(item); n > s.maxPayload {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, n, s.maxPayload)
		}
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type itemRow struct {
	payload  string
	metadata string
	startAt  sql.NullString
	lastEnd  sql.NullString
}

func newItemRow(item model.Item) (itemRow, error) {
	var row itemRow
	var err error
	if row.payload, err = marshalPayload(item); err != nil {
		return row, err
	}
	if row.metadata, err = marshalMetadata(item.Metadata); err != nil {
		return row, err
	}
	if item.Kind == model.KindContact {
		return row, nil
	}
	start, end, err := SeriesBounds(&item)
	if err != nil {
		return row, fmt.Errorf("series bounds: %w", err)
	}
	if end.IsZero() && !item.IsRecurring() {
		end = start
	}
	row.startAt = sql.NullString{String: formatTime(start), Valid: true}
	if !end.IsZero() {
		row.lastEnd = sql.NullString{String: formatTime(end), Valid: true}
	}
	return row, nil
}

func writeOverrides(ctx context.Context, tx *sql.Tx, item model.Item) error {
	if item.Series == nil {
		return nil
	}
	for _, inst := range item.Series.Instances {
		orig, err := inst.OriginalStart.Instant()
		if err != nil {
			return fmt.Errorf("override original start: %w", err)
		}
		payload, err := marshalInstance(inst)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO instance_overrides (recurring_id, original_start, payload)
			VALUES (?, ?, ?)
			ON CONFLICT(recurring_id, original_start) DO UPDATE SET payload = excluded.payload
		`, item.ID, formatTime(orig), payload)
		if err != nil {
			return fmt.Errorf("write override: %w", err)
		}
	}
	return nil
}
