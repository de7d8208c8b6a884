package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
)

const itemColumns = `id, kind, payload, metadata, version, created_at, modified_at`

// List returns one page of items ordered by id. The page token is the last
// id of the previous page.
func (s *SQLiteStore) List(ctx context.Context, filter Filter, pageToken string) (Page, error) {
	size := filter.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	var where []string
	var args []any
	where = append(where, "id > ?")
	args = append(args, pageToken)

	if len(filter.Kinds) > 0 {
		marks := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	var window []string
	if !filter.Window.To.IsZero() {
		window = append(window, "start_at < ?")
		args = append(args, formatTime(filter.Window.To))
	}
	if !filter.Window.From.IsZero() {
		window = append(window, "(last_end IS NULL OR last_end > ?)")
		args = append(args, formatTime(filter.Window.From))
	}
	if len(window) > 0 {
		where = append(where, "(kind = 'contact' OR ("+strings.Join(window, " AND ")+"))")
	}
	args = append(args, size+1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id COLLATE BINARY ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate items: %w", err)
	}

	page := Page{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		page.NextPageToken = items[size-1].ID
	}
	return page, nil
}

// Get returns the item or nil when it does not exist. Series overrides are
// not attached; use ListInstances.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &it, nil
}

// ListInstances expands a stored series over window with its overrides
// applied.
func (s *SQLiteStore) ListInstances(ctx context.Context, recurringID string, window TimeRange, includeDeleted bool) ([]model.Item, error) {
	master, err := s.Get(ctx, recurringID)
	if err != nil {
		return nil, err
	}
	if master == nil {
		return nil, fmt.Errorf("list instances %s: %w", recurringID, ErrNotFound)
	}
	if master.Series != nil {
		overrides, err := s.readOverrides(ctx, recurringID)
		if err != nil {
			return nil, err
		}
		master.Series.Instances = overrides
	}
	return ExpandInstances(master, window, includeDeleted)
}

func (s *SQLiteStore) readOverrides(ctx context.Context, recurringID string) ([]recurrence.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM instance_overrides
		WHERE recurring_id = ?
		ORDER BY original_start ASC
	`, recurringID)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var out []recurrence.Instance
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		inst, err := unmarshalInstance(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (model.Item, error) {
	var (
		id, kind, payload, metadata, createdAt, modifiedAt string
		version                                            int64
	)
	if err := sc.Scan(&id, &kind, &payload, &metadata, &version, &createdAt, &modifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Item{}, err
		}
		return model.Item{}, fmt.Errorf("scan item: %w", err)
	}

	it, err := unmarshalPayload(payload)
	if err != nil {
		return model.Item{}, fmt.Errorf("item %s: %w", id, err)
	}
	md, err := unmarshalMetadata(metadata)
	if err != nil {
		return model.Item{}, fmt.Errorf("item %s: %w", id, err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return model.Item{}, err
	}
	modified, err := parseTime(modifiedAt)
	if err != nil {
		return model.Item{}, err
	}

	it.ID = id
	it.Kind = model.Kind(kind)
	it.Metadata = md
	it.Version = strconv.FormatInt(version, 10)
	it.Created = created
	it.Modified = modified
	return it, nil
}
