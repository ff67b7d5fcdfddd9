// Command assocd serves SQL tables as REST JSON resources, the shape the
// remote.HTTP transport of associative entities talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mickamy/ormassoc/internal/restserver"
	"github.com/mickamy/ormassoc/orm"
	"github.com/mickamy/ormassoc/schema"
	"github.com/mickamy/ormassoc/store"
)

var version = "dev"

type config struct {
	dialect    string
	dsn        string
	addr       string
	tables     string
	schemaPath string
	initPath   string
	created    string
	updated    string
	debug      bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.dialect, "dialect", "sqlite", "sqlite, mysql or postgres")
	flag.StringVar(&cfg.dsn, "dsn", ":memory:", "data source name")
	flag.StringVar(&cfg.addr, "addr", ":8080", "listen address")
	flag.StringVar(&cfg.tables, "tables", "", "comma-separated resources to serve, each resource or resource=table")
	flag.StringVar(&cfg.schemaPath, "schema", "", "schema YAML file whose types are served by their conventional tables")
	flag.StringVar(&cfg.initPath, "init", "", "SQL file executed at startup")
	flag.StringVar(&cfg.created, "created", "", "creation timestamp column maintained on every table")
	flag.StringVar(&cfg.updated, "updated", "", "update timestamp column maintained on every table")
	flag.BoolVar(&cfg.debug, "debug", false, "log every query")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("assocd", version)
		return
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("assocd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config, logger *slog.Logger) error {
	d, err := orm.ParseDialect(cfg.dialect)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	db, err := orm.Open(d, cfg.dsn)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	defer func() { _ = db.Close() }()
	if cfg.debug {
		db = db.Debug(orm.NewSlogLogger(logger))
	}

	if cfg.initPath != "" {
		script, err := os.ReadFile(cfg.initPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", cfg.initPath, err)
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("init %s: %w", cfg.initPath, err)
		}
	}

	tables, err := tablesOf(cfg)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return errors.New("no tables to serve: pass -tables or -schema")
	}

	s := store.New(db, tables...).WithLogger(logger)
	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           restserver.New(s, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("assocd listening",
		slog.String("addr", cfg.addr),
		slog.String("dialect", d.Name()),
		slog.Any("resources", s.Resources()),
	)

	select {
	case err := <-errc:
		return err //nolint:wrapcheck // pass through
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx) //nolint:wrapcheck // pass through
}

// tablesOf collects the tables named by -tables and the types of -schema.
func tablesOf(cfg config) ([]store.Table, error) {
	var tables []store.Table
	for _, entry := range strings.Split(cfg.tables, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		resource, name, ok := strings.Cut(entry, "=")
		if !ok {
			name = resource
		}
		tables = append(tables, store.Table{Resource: resource, Name: name})
	}

	if cfg.schemaPath != "" {
		s, err := schema.LoadFile(cfg.schemaPath)
		if err != nil {
			return nil, err //nolint:wrapcheck // already descriptive
		}
		for _, td := range s.Types {
			t := store.TableFor(td.Name)
			if td.URLRoot != "" {
				t.Resource = td.URLRoot
			}
			if td.IDAttribute != "" {
				t.PK = td.IDAttribute
			}
			tables = append(tables, t)
		}
	}

	for i := range tables {
		tables[i].CreatedAt = cfg.created
		tables[i].UpdatedAt = cfg.updated
	}
	return tables, nil
}
