package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/subtlefox/relaycat/agent"
	"github.com/subtlefox/relaycat/catalog"
	"github.com/subtlefox/relaycat/db"
	"github.com/subtlefox/relaycat/link"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("relaycatd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "relaycatd — relay daemon for the relaycat state-sharing agent\n\nUsage:\n  relaycatd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n  RELAYCAT_DB    catalog database path (used when -db is not set)\n")
	}

	listen := fs.String("listen", "", "agent listen address (required), e.g. [::]:7900")
	dbPath := fs.String("db", "", "catalog database path (default $RELAYCAT_DB)")
	reapAge := fs.Duration("reap-age", 30*time.Minute, "age after which orphaned servers are reaped")
	reapInterval := fs.Duration("reap-interval", time.Minute, "how often to reap orphaned servers")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("relaycatd %s\n", version)
		return
	}

	if *dbPath == "" {
		*dbPath = os.Getenv("RELAYCAT_DB")
	}
	if *listen == "" || *dbPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	log.SetLevel(level)

	if err := run(*listen, *dbPath, *reapAge, *reapInterval, log); err != nil {
		log.Fatal(err)
	}
}

func run(listen, dbPath string, reapAge, reapInterval time.Duration, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, statErr := os.Stat(dbPath)
	fresh := os.IsNotExist(statErr)

	pool, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	if fresh {
		if err := pool.Setup(ctx, catalog.Schema); err != nil {
			return err
		}
		log.WithField("db", dbPath).Info("created catalog schema")
	}

	exec := agent.NewCatalogExecutor(pool, log)

	srv, err := link.Serve(listen, exec, log)
	if err != nil {
		return err
	}
	log.WithField("addr", srv.Addr().String()).Info("listening for agents")

	reaper := &agent.Reaper{Pool: pool, MaxAge: reapAge, Interval: reapInterval, Log: log}
	go reaper.Run(ctx)
	log.WithFields(logrus.Fields{"age": reapAge.String(), "interval": reapInterval.String()}).
		Info("reaper enabled")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutting down agent server")
	}
	return nil
}
