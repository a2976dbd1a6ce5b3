// Package agent wires the link server to the catalog: an AgentExecutor that
// turns connection lifecycle and change batches into SQL transactions, and a
// reaper that collects orphaned servers.
package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/subtlefox/relaycat/catalog"
	"github.com/subtlefox/relaycat/db"
	"github.com/subtlefox/relaycat/types"
	"github.com/subtlefox/relaycat/wire"
)

// CatalogExecutor executes agent changes against the catalog pool.
// Connect/disconnect bookkeeping takes priority write leases so status
// stays current under request load; request transactions take normal ones.
type CatalogExecutor struct {
	pool *db.SplitPool
	log  *logrus.Logger
}

// NewCatalogExecutor builds an executor over pool.
func NewCatalogExecutor(pool *db.SplitPool, log *logrus.Logger) *CatalogExecutor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CatalogExecutor{pool: pool, log: log}
}

// Connected records the peer's dc row.
func (e *CatalogExecutor) Connected(ctx context.Context, peer types.Peer, icao types.IcaoCode, qcmpPort uint16) {
	var dc catalog.DatacenterWriter
	dc.Insert(peer, qcmpPort, icao)

	if err := e.runPriority(ctx, dc.Statements); err != nil {
		e.log.WithError(err).WithField("peer", peer.String()).Error("agent: recording connect")
	}
}

// Execute translates the change batch into statements and runs them in one
// transaction.
func (e *CatalogExecutor) Execute(ctx context.Context, peer types.Peer, changes []wire.ServerChange) wire.ExecResult {
	srv := catalog.ServerWriter{Peer: peer}

	for _, change := range changes {
		switch {
		case change.Insert != nil:
			for _, up := range change.Insert {
				if err := srv.Upsert(up.Endpoint, up.Icao, up.Tokens); err != nil {
					return wire.ExecResult{Error: err.Error()}
				}
			}
		case change.Remove != nil:
			for _, ep := range change.Remove {
				srv.RemoveImmediate(ep)
			}
		case change.Update != nil:
			for _, up := range change.Update {
				if up.Icao == nil && up.Tokens == nil {
					// Nothing to change; not worth failing the batch over.
					continue
				}
				if err := srv.Update(up.Endpoint, catalog.ServerColumns{Icao: up.Icao, Tokens: up.Tokens}); err != nil {
					return wire.ExecResult{Error: err.Error()}
				}
			}
		}
	}

	start := time.Now()
	lease, err := e.pool.WriteNormal(ctx)
	if err != nil {
		return wire.ExecResult{Error: err.Error()}
	}
	defer lease.Release()

	rows, err := db.ExecAll(ctx, lease, srv.Statements)
	if err != nil {
		return wire.ExecResult{Error: err.Error()}
	}
	return wire.ExecResult{RowsAffected: rows, Time: time.Since(start).Seconds()}
}

// Disconnected withdraws the peer's dc row and its contributor entries.
func (e *CatalogExecutor) Disconnected(ctx context.Context, peer types.Peer) {
	var dc catalog.DatacenterWriter
	dc.Remove(peer, nil)

	if err := e.runPriority(ctx, dc.Statements); err != nil {
		e.log.WithError(err).WithField("peer", peer.String()).Error("agent: recording disconnect")
	}
}

func (e *CatalogExecutor) runPriority(ctx context.Context, stmts []db.Statement) error {
	lease, err := e.pool.WritePriority(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	_, err = db.ExecAll(ctx, lease, stmts)
	return err
}
