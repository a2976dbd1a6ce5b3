package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/subtlefox/relaycat/db"
	"github.com/subtlefox/relaycat/types"
)

// The replicated engine does not support LIMIT on UPDATE or DELETE, so every
// statement targeting a unique row is constrained through
// rowid = (SELECT MIN(rowid) FROM <table> WHERE <key> = ?).

// jsonKey renders s as a quoted JSON object key for embedding in a jsonb
// literal. Endpoints are validated before they reach this layer; the escape
// keeps a hostile hostname from terminating the literal anyway.
func jsonKey(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// tokensParam converts a token set to its text cell, NULL when empty.
func tokensParam(ts types.TokenSet) (any, error) {
	enc, err := ts.Encode()
	if err != nil {
		return nil, err
	}
	if enc == "" {
		return nil, nil
	}
	return enc, nil
}

// ServerWriter builds statements for the servers table on behalf of one
// contributing peer.
type ServerWriter struct {
	Peer       types.Peer
	Statements []db.Statement
}

// Upsert inserts a server or, when the row already exists with the same
// ICAO, adds the peer as a contributor. A conflicting row whose ICAO differs
// is intentionally left untouched: a server cannot belong to two
// datacenters. The peer's dc row mirrors the endpoint under its text form.
func (w *ServerWriter) Upsert(ep types.Endpoint, icao types.IcaoCode, tokens types.TokenSet) error {
	toks, err := tokensParam(tokens)
	if err != nil {
		return fmt.Errorf("catalog: upsert tokens: %w", err)
	}

	peerIP := jsonKey(w.Peer.IP().String())
	w.Statements = append(w.Statements, db.Statement{
		SQL: fmt.Sprintf(`INSERT INTO servers (endpoint,icao,tokens,contributors,cont_update) VALUES (?,?,?,jsonb('{%s:{}}'),unixepoch('now'))
 ON CONFLICT(endpoint) DO UPDATE SET
    contributors = jsonb_patch(contributors,'{%s:{}}'),
    cont_update = unixepoch('now')
 WHERE excluded.icao = servers.icao`, peerIP, peerIP),
		Params: []any{ep.String(), icao.String(), toks},
	})

	server := jsonKey(ep.String())
	w.Statements = append(w.Statements, db.Statement{
		SQL: fmt.Sprintf(`INSERT INTO dc (ip,port,icao,servers) VALUES (?,?,?,jsonb('{%s:{}}'))
 ON CONFLICT(ip) DO UPDATE SET
    servers = jsonb_patch(servers,'{%s:{}}')
 WHERE excluded.icao = dc.icao`, server, server),
		Params: []any{w.Peer.IP().String(), int64(w.Peer.Port()), icao.String()},
	})
	return nil
}

// RemoveImmediate deletes the server regardless of how many peers
// contributed it, and drops the endpoint from the peer's dc row.
func (w *ServerWriter) RemoveImmediate(ep types.Endpoint) {
	w.Statements = append(w.Statements, db.Statement{
		SQL:    "DELETE FROM servers WHERE rowid = (SELECT MIN(rowid) FROM servers WHERE endpoint = ?)",
		Params: []any{ep.String()},
	})
	w.dropFromDC(ep)
}

// RemoveDeferred removes the peer as a contributor without deleting the
// row; ReapOld collects it later if no contributors remain.
func (w *ServerWriter) RemoveDeferred(ep types.Endpoint) {
	peerIP := jsonKey(w.Peer.IP().String())
	w.Statements = append(w.Statements, db.Statement{
		SQL: fmt.Sprintf(`UPDATE servers SET
    contributors = jsonb_patch(contributors,'{%s:null}'),
    cont_update = unixepoch('now')
 WHERE rowid = (SELECT MIN(rowid) FROM servers WHERE endpoint = ?)`, peerIP),
		Params: []any{ep.String()},
	})
	w.dropFromDC(ep)
}

func (w *ServerWriter) dropFromDC(ep types.Endpoint) {
	w.Statements = append(w.Statements, db.Statement{
		SQL: fmt.Sprintf("UPDATE dc SET servers = jsonb_patch(servers, '{%s:null}') WHERE rowid = (SELECT MIN(rowid) FROM dc WHERE ip = ?)",
			jsonKey(ep.String())),
		Params: []any{w.Peer.IP().String()},
	})
}

// ServerColumns selects which server columns an update touches.
type ServerColumns struct {
	Icao   *types.IcaoCode
	Tokens *types.TokenSet
}

// Update changes the selected columns of one server. At least one column
// must be set.
func (w *ServerWriter) Update(ep types.Endpoint, cols ServerColumns) error {
	if cols.Icao == nil && cols.Tokens == nil {
		panic("catalog: server update requires at least one column")
	}

	var sb strings.Builder
	sb.WriteString("UPDATE servers SET ")
	params := make([]any, 0, 3)

	if cols.Icao != nil {
		sb.WriteString("icao = ?")
		params = append(params, cols.Icao.String())
	}
	if cols.Tokens != nil {
		if len(params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("tokens = ?")
		toks, err := tokensParam(*cols.Tokens)
		if err != nil {
			return fmt.Errorf("catalog: update tokens: %w", err)
		}
		params = append(params, toks)
	}

	sb.WriteString(" WHERE rowid = (SELECT MIN(rowid) FROM servers WHERE endpoint = ?)")
	params = append(params, ep.String())

	w.Statements = append(w.Statements, db.Statement{SQL: sb.String(), Params: params})
	return nil
}

// ReapOld deletes servers whose contributors object is empty and whose last
// contributor update is older than maxAge. The peer is irrelevant here.
// JSONB encodes {} as a single byte, hence the length predicate.
func (w *ServerWriter) ReapOld(maxAge time.Duration) {
	w.Statements = append(w.Statements, db.Statement{
		SQL: fmt.Sprintf("DELETE FROM servers WHERE length(contributors) <= 1 AND unixepoch('now') - cont_update > %d",
			int64(maxAge.Seconds())),
	})
}

// DatacenterWriter builds statements for the dc table.
type DatacenterWriter struct {
	Statements []db.Statement
}

// Insert records a newly connected peer with no contributed servers yet.
func (w *DatacenterWriter) Insert(peer types.Peer, qcmpPort uint16, icao types.IcaoCode) {
	w.Statements = append(w.Statements, db.Statement{
		SQL:    "INSERT INTO dc (ip,port,icao,servers) VALUES (?,?,?,jsonb('{}'))",
		Params: []any{peer.IP().String(), int64(qcmpPort), icao.String()},
	})
}

// Remove deletes the peer's dc row and withdraws it as a contributor from
// the servers it still knows of, stamping cont_update with t (or now) so
// ReapOld can collect orphans later.
func (w *DatacenterWriter) Remove(peer types.Peer, t *time.Time) {
	stamp := time.Now().UTC().Unix()
	if t != nil {
		stamp = t.Unix()
	}

	ip := peer.IP().String()
	w.Statements = append(w.Statements, db.Statement{
		SQL: fmt.Sprintf(`WITH sj AS (SELECT server.key FROM dc JOIN json_each(dc.servers) AS server WHERE ip = '%s' LIMIT 1)
 UPDATE servers SET
    contributors = jsonb_patch(s.contributors,'{%s:null}'),
    cont_update = %d
 FROM servers s
 LEFT JOIN sj ON s.endpoint = sj.key`, ip, jsonKey(ip), stamp),
	})

	w.Statements = append(w.Statements, db.Statement{
		SQL:    "DELETE FROM dc WHERE rowid = (SELECT MIN(rowid) FROM dc WHERE ip = ?)",
		Params: []any{ip},
	})
}

// DatacenterColumns selects which dc columns an update touches.
type DatacenterColumns struct {
	Port *uint16
	Icao *types.IcaoCode
}

// Update changes the selected columns of one dc row. At least one column
// must be set.
func (w *DatacenterWriter) Update(peer types.Peer, cols DatacenterColumns) {
	if cols.Port == nil && cols.Icao == nil {
		panic("catalog: datacenter update requires at least one column")
	}

	var sb strings.Builder
	sb.WriteString("UPDATE dc SET ")
	params := make([]any, 0, 3)

	if cols.Port != nil {
		sb.WriteString("port = ?")
		params = append(params, int64(*cols.Port))
	}
	if cols.Icao != nil {
		if len(params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("icao = ?")
		params = append(params, cols.Icao.String())
	}

	sb.WriteString(" WHERE rowid = (SELECT MIN(rowid) FROM dc WHERE ip = ?)")
	params = append(params, peer.IP().String())

	w.Statements = append(w.Statements, db.Statement{SQL: sb.String(), Params: params})
}

// FilterWriter builds statements for the singleton filter row.
type FilterWriter struct {
	Statements []db.Statement
}

// filterID keys the one filter row.
const filterID = 9999

// Upsert sets the filter value.
func (w *FilterWriter) Upsert(filter string) {
	w.Statements = append(w.Statements, db.Statement{
		SQL:    fmt.Sprintf("INSERT INTO filter (id,filter) VALUES (%d,?) ON CONFLICT(id) DO UPDATE SET filter = excluded.filter", filterID),
		Params: []any{filter},
	})
}
