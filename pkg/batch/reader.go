package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/casafeed/incload/internal/logctx"
	"github.com/casafeed/incload/pkg/faults"
)

// requiredColumns must be present in every batch file; without them no
// natural key can be derived.
var requiredColumns = []string{"slug", "ingestionDate"}

// Batch holds the fully materialized content of one batch object.
// Records preserve file order; the struct is treated as immutable after
// ReadBatch returns.
type Batch struct {
	// Source is the object key the batch was read from.
	Source string
	// Records are all rows of the file, in file order.
	Records []Record
}

// Count returns the number of records in the batch.
func (b *Batch) Count() int {
	return len(b.Records)
}

// ReadBatch materializes a batch from the object stream. Parquet needs
// random access, so the stream is buffered to a temp file first. The
// stream is always closed. Malformed files are data faults: the same
// bytes fail the same way on every retry.
func ReadBatch(ctx context.Context, r io.ReadCloser, source string) (*Batch, error) {
	logger := logctx.From(ctx)

	tmp, err := os.CreateTemp("", "incload-batch-*.parquet")
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, r)
	r.Close()
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("buffer batch %s: %w", source, err))
	}

	pf, err := parquet.OpenFile(tmp, written)
	if err != nil {
		return nil, faults.Data(source, fmt.Errorf("open parquet: %w", err))
	}
	if err := checkSchema(pf.Schema()); err != nil {
		var missing *missingColumnError
		if errors.As(err, &missing) {
			return nil, faults.DataField(source, missing.column, err)
		}
		return nil, faults.Data(source, err)
	}

	records, err := parquet.ReadFile[Record](tmp.Name())
	if err != nil {
		return nil, faults.Data(source, fmt.Errorf("decode parquet rows: %w", err))
	}

	logger.Debug().Int("records", len(records)).Msg("batch materialized")
	return &Batch{Source: source, Records: records}, nil
}

type missingColumnError struct {
	column string
}

func (e *missingColumnError) Error() string {
	return fmt.Sprintf("batch schema missing required column %q", e.column)
}

func checkSchema(schema *parquet.Schema) error {
	present := make(map[string]bool)
	for _, field := range schema.Fields() {
		present[field.Name()] = true
	}
	for _, col := range requiredColumns {
		if !present[col] {
			return &missingColumnError{column: col}
		}
	}
	return nil
}

// Distinct returns the batch's representative records and their candidate
// keys, deduplicated on the normalized natural key. When several records
// share a key the first in file order wins; this is a deterministic
// tie-break, not a best-record selection. The two slices are parallel.
func (b *Batch) Distinct() ([]Record, []Key, error) {
	seen := make(map[Key]struct{}, len(b.Records))
	records := make([]Record, 0, len(b.Records))
	keys := make([]Key, 0, len(b.Records))

	for i, rec := range b.Records {
		key, field, err := rec.Key()
		if err != nil {
			return nil, nil, faults.DataField(b.Source, field,
				fmt.Errorf("record %d: %w", i, err))
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, rec)
		keys = append(keys, key)
	}
	return records, keys, nil
}
