// Package pipeline orchestrates one incremental-load invocation:
// scan the object store for the latest batch, materialize it, ask the
// warehouse which natural keys it already holds, filter them out and
// append the remainder. Stages run strictly in this order, exactly once;
// there is no internal parallelism and no mid-run resume. A failed
// invocation is restarted from the top by the external scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/casafeed/incload/internal/logctx"
	"github.com/casafeed/incload/pkg/batch"
	"github.com/casafeed/incload/pkg/objstore"
)

// Scanner selects and streams batch objects. *objstore.Client implements
// it; tests substitute fakes.
type Scanner interface {
	Scan(ctx context.Context, loc objstore.Location) (objstore.Object, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// Store answers key-membership queries against the destination table and
// appends new rows. *warehouse.Store implements it.
type Store interface {
	ExistingKeys(ctx context.Context, keys []batch.Key) (map[batch.Key]struct{}, error)
	Append(ctx context.Context, records []batch.Record) error
}

// Config is the pipeline's explicit configuration. The pipeline never
// reads the environment; the caller assembles this at startup.
type Config struct {
	// Source is where batch files are scanned for.
	Source objstore.Location
}

// Outcome is the terminal state of a successful invocation.
type Outcome string

const (
	// OutcomeLoaded means new rows were appended.
	OutcomeLoaded Outcome = "loaded"
	// OutcomeNoFile means the source location held no batch file. A
	// successful no-op, not a failure.
	OutcomeNoFile Outcome = "no_file"
	// OutcomeNoNewRows means every candidate key was already present; no
	// write call was issued.
	OutcomeNoNewRows Outcome = "no_new_rows"
)

// Result summarizes a successful invocation.
type Result struct {
	Outcome Outcome
	// Object is the processed batch's key; empty for OutcomeNoFile.
	Object string
	// Candidates is the distinct natural key count of the batch.
	Candidates int
	// Existing is how many candidates the destination already held.
	Existing int
	// Loaded is the number of rows appended.
	Loaded int
}

// Run executes one invocation. Every run ends in exactly one of: a
// Result (including the no-op outcomes), or an error classified by the
// faults package. Partial outcomes are not possible: the append is a
// single all-or-nothing write, and re-running after any failure converges
// because already-durable keys are filtered out again.
func Run(ctx context.Context, cfg Config, scanner Scanner, store Store) (Result, error) {
	logger := logctx.From(ctx)

	obj, err := scanner.Scan(logctx.WithStage(ctx, "scan"), cfg.Source)
	if errors.Is(err, objstore.ErrNoBatch) {
		logger.Info().Str("outcome", string(OutcomeNoFile)).Msg("no batch file to process")
		return Result{Outcome: OutcomeNoFile}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("scan: %w", err)
	}

	ctx = logctx.WithStr(ctx, "object", obj.Key)

	body, _, err := scanner.Open(logctx.WithStage(ctx, "read"), cfg.Source.Bucket, obj.Key)
	if err != nil {
		return Result{}, fmt.Errorf("open batch: %w", err)
	}
	b, err := batch.ReadBatch(logctx.WithStage(ctx, "read"), body, obj.Key)
	if err != nil {
		return Result{}, fmt.Errorf("read batch: %w", err)
	}

	records, keys, err := b.Distinct()
	if err != nil {
		return Result{}, fmt.Errorf("extract keys: %w", err)
	}

	existing, err := store.ExistingKeys(logctx.WithStage(ctx, "query_existing"), keys)
	if err != nil {
		return Result{}, fmt.Errorf("query existing keys: %w", err)
	}

	fresh := filterNew(records, keys, existing)

	result := Result{
		Object:     obj.Key,
		Candidates: len(keys),
		Existing:   len(existing),
		Loaded:     len(fresh),
	}

	if len(fresh) == 0 {
		result.Outcome = OutcomeNoNewRows
		logger.Info().
			Str("outcome", string(OutcomeNoNewRows)).
			Int("candidates", result.Candidates).
			Msg("all candidate keys already loaded")
		return result, nil
	}

	if err := store.Append(logctx.WithStage(ctx, "append"), fresh); err != nil {
		return Result{}, fmt.Errorf("append: %w", err)
	}

	result.Outcome = OutcomeLoaded
	logger.Info().
		Str("outcome", string(OutcomeLoaded)).
		Int("rows", result.Loaded).
		Int("candidates", result.Candidates).
		Int("existing", result.Existing).
		Msg("batch loaded")
	return result, nil
}
