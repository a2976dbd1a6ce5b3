package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ChangeType classifies a post-snapshot row change.
type ChangeType int

const (
	ChangeInsert ChangeType = iota
	ChangeUpdate
	ChangeDelete
)

func (c ChangeType) String() string {
	switch c {
	case ChangeInsert:
		return "Insert"
	case ChangeUpdate:
		return "Update"
	case ChangeDelete:
		return "Delete"
	}
	return fmt.Sprintf("UnknownChange(%d)", int(c))
}

// EventKind discriminates QueryEvent.
type EventKind int

const (
	// KindColumns carries the column names, first on every subscription.
	KindColumns EventKind = iota
	// KindRow carries one snapshot row.
	KindRow
	// KindEndOfQuery closes the snapshot; only changes follow.
	KindEndOfQuery
	// KindChange carries a diffed change with its post-image; deletes carry
	// the last-known values.
	KindChange
)

// QueryEvent is one message on a subscription channel.
type QueryEvent struct {
	Kind     EventKind
	Columns  []string
	RowID    int64
	Values   []Value
	Change   ChangeType
	ChangeID uint64
}

type snapRow struct {
	rowID  int64
	values []Value
}

type subscription struct {
	query string
	ch    chan QueryEvent
	rows  map[string]snapRow
}

// Hub tracks query subscriptions. Subscribing emits the current result set
// (Columns, Row*, EndOfQuery); each FlushChanges diffs every subscribed
// query against its snapshot and emits Change events.
//
// Rows are keyed on the first selected column, which must therefore be
// unique (the catalog queries select the table key first).
type Hub struct {
	pool *SplitPool

	mu       sync.Mutex
	subs     map[uuid.UUID]*subscription
	nextRow  int64
	changeID uint64
}

// NewHub creates a hub over the pool.
func NewHub(pool *SplitPool) *Hub {
	return &Hub{pool: pool, subs: make(map[uuid.UUID]*subscription)}
}

// Subscribe runs query and streams its snapshot followed by change events.
// The channel is buffered; a subscriber that stops draining will eventually
// block FlushChanges.
func (h *Hub) Subscribe(ctx context.Context, query string) (uuid.UUID, <-chan QueryEvent, error) {
	cols, rows, err := h.scan(ctx, query)
	if err != nil {
		return uuid.UUID{}, nil, err
	}

	sub := &subscription{
		query: query,
		ch:    make(chan QueryEvent, 2048),
		rows:  make(map[string]snapRow, len(rows)),
	}

	sub.ch <- QueryEvent{Kind: KindColumns, Columns: cols}
	for i, row := range rows {
		r := snapRow{rowID: int64(i) + 1, values: row}
		sub.rows[key(row)] = r
		sub.ch <- QueryEvent{Kind: KindRow, RowID: r.rowID, Values: row}
	}
	sub.ch <- QueryEvent{Kind: KindEndOfQuery}

	id := uuid.New()
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return id, sub.ch, nil
}

// Unsubscribe removes the handle and closes its channel.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		close(sub.ch)
		delete(h.subs, id)
	}
}

// FlushChanges re-runs every subscribed query and emits the diff against the
// stored snapshot.
func (h *Hub) FlushChanges(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		_, rows, err := h.scan(ctx, sub.query)
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			k := key(row)
			seen[k] = struct{}{}

			old, ok := sub.rows[k]
			switch {
			case !ok:
				h.nextRow++
				next := snapRow{rowID: h.nextRow, values: row}
				sub.rows[k] = next
				h.emit(sub, ChangeInsert, next.rowID, row)
			case !valuesEqual(old.values, row):
				sub.rows[k] = snapRow{rowID: old.rowID, values: row}
				h.emit(sub, ChangeUpdate, old.rowID, row)
			}
		}

		for k, old := range sub.rows {
			if _, ok := seen[k]; !ok {
				delete(sub.rows, k)
				h.emit(sub, ChangeDelete, old.rowID, old.values)
			}
		}
	}
	return nil
}

func (h *Hub) emit(sub *subscription, change ChangeType, rowID int64, values []Value) {
	h.changeID++
	sub.ch <- QueryEvent{
		Kind:     KindChange,
		Change:   change,
		RowID:    rowID,
		Values:   values,
		ChangeID: h.changeID,
	}
}

func (h *Hub) scan(ctx context.Context, query string) ([]string, [][]Value, error) {
	lease, err := h.pool.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer lease.Release()

	res, err := lease.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("db: subscription query: %w", err)
	}
	defer func() { _ = res.Close() }()

	cols, err := res.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("db: subscription columns: %w", err)
	}

	var rows [][]Value
	for res.Next() {
		cells := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := res.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("db: subscription scan: %w", err)
		}

		values := make([]Value, len(cols))
		for i, cell := range cells {
			values[i] = Value{Text: cell.String, Null: !cell.Valid}
		}
		rows = append(rows, values)
	}
	if err := res.Err(); err != nil {
		return nil, nil, fmt.Errorf("db: subscription rows: %w", err)
	}
	return cols, rows, nil
}

func key(row []Value) string {
	if len(row) == 0 {
		return ""
	}
	return row[0].Text
}

func valuesEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
