package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/subtlefox/relaycat/catalog"
	"github.com/subtlefox/relaycat/db"
)

// Reaper periodically deletes servers that lost their last contributor more
// than MaxAge ago.
type Reaper struct {
	Pool     *db.SplitPool
	MaxAge   time.Duration
	Interval time.Duration
	Log      *logrus.Logger
}

// Run reaps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped, err := r.ReapOnce(ctx); err != nil {
				log.WithError(err).Error("agent: reaping old servers")
			} else if reaped > 0 {
				log.WithField("reaped", reaped).Info("agent: reaped orphaned servers")
			}
		}
	}
}

// ReapOnce runs a single reap pass, returning the number of deleted rows.
func (r *Reaper) ReapOnce(ctx context.Context) (uint64, error) {
	var srv catalog.ServerWriter
	srv.ReapOld(r.MaxAge)

	lease, err := r.Pool.WriteNormal(ctx)
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	return db.ExecAll(ctx, lease, srv.Statements)
}
