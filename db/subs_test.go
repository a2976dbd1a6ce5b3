package db_test

import (
	"testing"

	"github.com/subtlefox/relaycat/catalog"
	"github.com/subtlefox/relaycat/db"
	"github.com/subtlefox/relaycat/types"
)

const serverQuery = "SELECT endpoint,icao,tokens FROM servers"

func recvEvent(t *testing.T, ch <-chan db.QueryEvent) db.QueryEvent {
	t.Helper()
	ev, ok := <-ch
	if !ok {
		t.Fatal("subscription channel closed unexpectedly")
	}
	return ev
}

// drainSnapshot consumes Columns, Row*, EndOfQuery and returns the typed rows.
func drainSnapshot(t *testing.T, ch <-chan db.QueryEvent) map[string]catalog.ServerRow {
	t.Helper()

	ev := recvEvent(t, ch)
	if ev.Kind != db.KindColumns {
		t.Fatalf("first event = %v, want Columns", ev.Kind)
	}
	if len(ev.Columns) != 3 || ev.Columns[0] != "endpoint" {
		t.Fatalf("columns = %v", ev.Columns)
	}

	rows := make(map[string]catalog.ServerRow)
	for {
		ev := recvEvent(t, ch)
		switch ev.Kind {
		case db.KindRow:
			row, err := catalog.ServerRowFromSQL(ev.Values)
			if err != nil {
				t.Fatalf("deserialize row: %v", err)
			}
			if _, dup := rows[row.Endpoint.String()]; dup {
				t.Fatalf("duplicate snapshot row %s", row.Endpoint)
			}
			rows[row.Endpoint.String()] = row
		case db.KindEndOfQuery:
			return rows
		default:
			t.Fatalf("unexpected event %v during snapshot", ev.Kind)
		}
	}
}

func seedSet(t *testing.T, pool *db.SplitPool, count int) map[string]catalog.ServerRow {
	t.Helper()

	want := make(map[string]catalog.ServerRow, count)
	w := catalog.ServerWriter{Peer: prepPeer}
	for i := range count {
		row := makeRow(t, i)
		want[row.Endpoint.String()] = row
		if err := w.Upsert(row.Endpoint, row.Icao, row.Tokens); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	execAll(t, pool, w.Statements)
	return want
}

func TestServerSubscriptions(t *testing.T) {
	t.Parallel()

	pool := newPool(t)
	hub := db.NewHub(pool)
	want := seedSet(t, pool, 30)

	id, ch, err := hub.Subscribe(t.Context(), serverQuery)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	current := drainSnapshot(t, ch)
	if len(current) != len(want) {
		t.Fatalf("snapshot has %d rows, want %d", len(current), len(want))
	}
	for key, row := range want {
		got, ok := current[key]
		if !ok {
			t.Fatalf("snapshot missing %s", key)
		}
		if got.Icao != row.Icao || !got.Tokens.Equal(row.Tokens) {
			t.Errorf("snapshot row %s = %+v, want %+v", key, got, row)
		}
	}

	// Insert: subscribers see a Change(Insert) with the new row.
	extra := catalog.ServerRow{
		Endpoint: types.Endpoint{Address: types.NameAddress("fresh.example"), Port: 7777},
		Icao:     icao(t, "ZZZZ"),
		Tokens:   types.NewTokenSet([]byte{9, 9, 9, 9}),
	}
	w := catalog.ServerWriter{Peer: prepPeer}
	if err := w.Upsert(extra.Endpoint, extra.Icao, extra.Tokens); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	execAll(t, pool, w.Statements)
	if err := hub.FlushChanges(t.Context()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ev := recvEvent(t, ch)
	if ev.Kind != db.KindChange || ev.Change != db.ChangeInsert {
		t.Fatalf("event = %+v, want Change(Insert)", ev)
	}
	inserted, err := catalog.ServerRowFromSQL(ev.Values)
	if err != nil {
		t.Fatalf("deserialize insert: %v", err)
	}
	if inserted.Endpoint != extra.Endpoint || !inserted.Tokens.Equal(extra.Tokens) {
		t.Errorf("inserted = %+v, want %+v", inserted, extra)
	}

	// Update: the post-image arrives.
	first := makeRow(t, 0)
	newIcao := icao(t, "YYYY")
	w = catalog.ServerWriter{Peer: prepPeer}
	if err := w.Update(first.Endpoint, catalog.ServerColumns{Icao: &newIcao}); err != nil {
		t.Fatalf("update: %v", err)
	}
	execAll(t, pool, w.Statements)
	if err := hub.FlushChanges(t.Context()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ev = recvEvent(t, ch)
	if ev.Kind != db.KindChange || ev.Change != db.ChangeUpdate {
		t.Fatalf("event = %+v, want Change(Update)", ev)
	}
	updated, err := catalog.ServerRowFromSQL(ev.Values)
	if err != nil {
		t.Fatalf("deserialize update: %v", err)
	}
	if updated.Endpoint != first.Endpoint || updated.Icao != newIcao {
		t.Errorf("updated = %+v", updated)
	}

	// Delete: the last-known values arrive.
	second := makeRow(t, 1)
	w = catalog.ServerWriter{Peer: prepPeer}
	w.RemoveImmediate(second.Endpoint)
	execAll(t, pool, w.Statements)
	if err := hub.FlushChanges(t.Context()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ev = recvEvent(t, ch)
	if ev.Kind != db.KindChange || ev.Change != db.ChangeDelete {
		t.Fatalf("event = %+v, want Change(Delete)", ev)
	}
	deleted, err := catalog.ServerRowFromSQL(ev.Values)
	if err != nil {
		t.Fatalf("deserialize delete: %v", err)
	}
	if deleted.Endpoint != second.Endpoint || !deleted.Tokens.Equal(second.Tokens) {
		t.Errorf("deleted = %+v, want last-known %+v", deleted, second)
	}

	hub.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// A fresh subscription sees the current state, not the history.
	id2, ch2, err := hub.Subscribe(t.Context(), serverQuery)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer hub.Unsubscribe(id2)

	resnap := drainSnapshot(t, ch2)
	if len(resnap) != 30 { // 30 seeded - 1 removed + 1 inserted
		t.Errorf("resnapshot has %d rows, want 30", len(resnap))
	}
	if _, ok := resnap[second.Endpoint.String()]; ok {
		t.Error("removed endpoint still present in fresh snapshot")
	}
	if _, ok := resnap[extra.Endpoint.String()]; !ok {
		t.Error("inserted endpoint missing from fresh snapshot")
	}
}

func TestSubscriptionChangeIDsIncrease(t *testing.T) {
	t.Parallel()

	pool := newPool(t)
	hub := db.NewHub(pool)

	id, ch, err := hub.Subscribe(t.Context(), serverQuery)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer hub.Unsubscribe(id)
	drainSnapshot(t, ch)

	seedSet(t, pool, 3)
	if err := hub.FlushChanges(t.Context()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var last uint64
	for range 3 {
		ev := recvEvent(t, ch)
		if ev.Kind != db.KindChange {
			t.Fatalf("event = %+v, want Change", ev)
		}
		if ev.ChangeID <= last {
			t.Errorf("change id %d not increasing past %d", ev.ChangeID, last)
		}
		last = ev.ChangeID
	}
}
