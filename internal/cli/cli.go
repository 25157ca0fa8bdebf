// Package cli implements the command-line interface for incload.
//
// Configuration comes from flags, with INCLOAD_* environment variables as
// defaults so scheduled deployments can configure the job without
// composing argument lists. The core packages never read the environment
// themselves: everything is assembled here and passed in as values.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/casafeed/incload/internal/logctx"
	"github.com/casafeed/incload/pkg/objstore"
	"github.com/casafeed/incload/pkg/pipeline"
	"github.com/casafeed/incload/pkg/retrying"
	"github.com/casafeed/incload/pkg/warehouse"
)

// ErrUsage marks command-line usage errors, reported with exit status 2.
var ErrUsage = errors.New("usage error")

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: incload <command> [options]\ncommands: run", ErrUsage)
	}

	switch args[0] {
	case "run":
		return runLoad(args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runLoad(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	bucket := fs.String("bucket", envOr("INCLOAD_BUCKET", ""), "source bucket holding batch files")
	prefix := fs.String("prefix", envOr("INCLOAD_PREFIX", ""), "key prefix under which batch files are written")
	suffix := fs.String("suffix", envOr("INCLOAD_SUFFIX", ".parquet"), "batch file suffix")
	dbPath := fs.String("db", envOr("INCLOAD_DB", ""), "warehouse database file")
	project := fs.String("project", envOr("INCLOAD_PROJECT", ""), "destination project")
	dataset := fs.String("dataset", envOr("INCLOAD_DATASET", ""), "destination dataset")
	table := fs.String("table", envOr("INCLOAD_TABLE", ""), "destination table")
	writeDisp := fs.String("write-disposition", envOr("INCLOAD_WRITE_DISPOSITION", string(warehouse.WriteAppend)), "write disposition (only WRITE_APPEND is supported)")
	createDisp := fs.String("create-disposition", envOr("INCLOAD_CREATE_DISPOSITION", string(warehouse.CreateNever)), "create disposition (only CREATE_NEVER is supported)")
	chunkSize := fs.Int("chunk-size", 500, "max key pairs per membership query")
	maxElapsed := fs.Duration("retry-max-elapsed", 30*time.Second, "total retry budget per remote call")
	debug := fs.Bool("debug", false, "enable debug logging")
	human := fs.Bool("human", false, "human-friendly log output")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"bucket", *bucket},
		{"prefix", *prefix},
		{"db", *dbPath},
		{"project", *project},
		{"dataset", *dataset},
		{"table", *table},
	} {
		if f.value == "" {
			missing = append(missing, "--"+f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required flags: %v", ErrUsage, missing)
	}

	logger := logctx.New(*debug, *human)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logctx.With(ctx, logger)

	retry := retrying.Policy{MaxElapsedTime: *maxElapsed}

	scanner, err := objstore.NewClient(ctx, retry)
	if err != nil {
		return fmt.Errorf("create object store client: %w", err)
	}

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		return fmt.Errorf("open warehouse database: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("configure warehouse database: %w", err)
	}

	store, err := warehouse.NewStore(db, warehouse.Options{
		Table:     warehouse.TableRef{Project: *project, Dataset: *dataset, Table: *table},
		Write:     warehouse.WriteDisposition(*writeDisp),
		Create:    warehouse.CreateDisposition(*createDisp),
		ChunkSize: *chunkSize,
		Retry:     retry,
	})
	if err != nil {
		return fmt.Errorf("configure warehouse: %w", err)
	}

	cfg := pipeline.Config{
		Source: objstore.Location{Bucket: *bucket, Prefix: *prefix, Suffix: *suffix},
	}

	result, err := pipeline.Run(ctx, cfg, scanner, store)
	if err != nil {
		logger.Error().Err(err).Msg("invocation failed")
		return err
	}

	logger.Info().
		Str("outcome", string(result.Outcome)).
		Str("object", result.Object).
		Int("candidates", result.Candidates).
		Int("existing", result.Existing).
		Int("loaded", result.Loaded).
		Msg("invocation complete")
	return nil
}
