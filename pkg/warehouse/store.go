// Package warehouse implements the destination-table side of the
// pipeline: the existing-key membership check and the append-only load.
//
// The Store speaks database/sql and is driver-agnostic; the binary wires
// it to a SQLite database file, with the table's project coordinate
// selecting the database and dataset+table naming the SQL table. The
// destination table's existence and schema are owned externally — the
// Store never creates or alters it.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/casafeed/incload/internal/logctx"
	"github.com/casafeed/incload/pkg/batch"
	"github.com/casafeed/incload/pkg/faults"
	"github.com/casafeed/incload/pkg/retrying"
)

// TableRef identifies the destination table by warehouse coordinates.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (t TableRef) String() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

// ident renders the SQL identifier for the table. The project coordinate
// scopes the connection (it picks the database), so only dataset and
// table participate in the name.
func (t TableRef) ident() string {
	return quoteIdent(t.Dataset + "_" + t.Table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// WriteDisposition controls how loads treat existing rows. Only appending
// is supported: the pipeline's idempotency argument depends on never
// rewriting what is already durable.
type WriteDisposition string

// CreateDisposition controls whether a missing destination may be
// created. Only "never" is supported.
type CreateDisposition string

const (
	WriteAppend WriteDisposition  = "WRITE_APPEND"
	CreateNever CreateDisposition = "CREATE_NEVER"
)

const defaultChunkSize = 500

// Options configures a Store.
type Options struct {
	// Table is the destination table. All three coordinates are required.
	Table TableRef
	// Write must be WriteAppend or empty (defaulted).
	Write WriteDisposition
	// Create must be CreateNever or empty (defaulted).
	Create CreateDisposition
	// ChunkSize caps how many key pairs one membership query may carry
	// (default 500). Two bind parameters per pair keeps every chunk far
	// below common placeholder limits.
	ChunkSize int
	// Retry bounds retries of individual queries and of the load
	// transaction.
	Retry retrying.Policy
}

// Store is the destination-table client.
type Store struct {
	db        *sql.DB
	ref       TableRef
	table     string
	chunkSize int
	retry     retrying.Policy
}

// NewStore validates opts and returns a Store bound to db.
func NewStore(db *sql.DB, opts Options) (*Store, error) {
	if opts.Table.Project == "" || opts.Table.Dataset == "" || opts.Table.Table == "" {
		return nil, fmt.Errorf("incomplete table reference %q", opts.Table)
	}
	if opts.Write != "" && opts.Write != WriteAppend {
		return nil, fmt.Errorf("unsupported write disposition %q: the loader is append-only", opts.Write)
	}
	if opts.Create != "" && opts.Create != CreateNever {
		return nil, fmt.Errorf("unsupported create disposition %q: the destination table is owned externally", opts.Create)
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Store{
		db:        db,
		ref:       opts.Table,
		table:     opts.Table.ident(),
		chunkSize: chunk,
		retry:     opts.Retry,
	}, nil
}

// insertColumns is the destination column list, in Record field order.
var insertColumns = []string{
	"id", "title", "slug", "estate", "transaction", "city", "province",
	"street", "agencyId", "agencyName", "agencySlug", "isPrivateOwner",
	"isPromoted", "totalPriceCurrency", "totalPriceValue",
	"pricePerSquareMeterValue", "areaInSquareMeters", "roomsNumber",
	"floorNumber", "dateCreated", "ingestionDate",
}

// ExistingKeys returns the subset of keys already present in the
// destination table, as observed at query time. The result is a snapshot,
// not a lock. An empty destination yields an empty set, not an error.
//
// Membership is checked in chunks so the query size stays bounded no
// matter how large the candidate set grows.
func (s *Store) ExistingKeys(ctx context.Context, keys []batch.Key) (map[batch.Key]struct{}, error) {
	logger := logctx.From(ctx)
	existing := make(map[batch.Key]struct{})

	for start := 0; start < len(keys); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		query, args := s.membershipQuery(chunk)
		err := s.retry.Do(ctx, func() error {
			rows, err := s.db.QueryContext(ctx, query, args...)
			if err != nil {
				return s.classify(err)
			}
			defer rows.Close()

			for rows.Next() {
				var k batch.Key
				if err := rows.Scan(&k.Slug, &k.IngestionDate); err != nil {
					return s.classify(err)
				}
				existing[k] = struct{}{}
			}
			return rows.Err()
		})
		if err != nil {
			if faults.IsData(err) {
				return nil, err
			}
			return nil, faults.Transient(fmt.Errorf("query existing keys in %s: %w", s.ref, err))
		}
	}

	logger.Debug().
		Int("candidates", len(keys)).
		Int("existing", len(existing)).
		Msg("membership check complete")
	return existing, nil
}

func (s *Store) membershipQuery(chunk []batch.Key) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT "slug", "ingestionDate" FROM `)
	sb.WriteString(s.table)
	sb.WriteString(` WHERE `)

	args := make([]any, 0, 2*len(chunk))
	for i, k := range chunk {
		if i > 0 {
			sb.WriteString(` OR `)
		}
		sb.WriteString(`("slug" = ? AND "ingestionDate" = ?)`)
		args = append(args, k.Slug, k.IngestionDate)
	}
	return sb.String(), args
}

// Append loads records into the destination table inside a single
// transaction: the run either makes all rows visible or none. The key
// fields are stored in normalized form so that future membership checks
// compare exactly. Append never creates the table and never touches
// existing rows.
func (s *Store) Append(ctx context.Context, records []batch.Record) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := "(?" + strings.Repeat(", ?", len(insertColumns)-1) + ")"
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`,
		s.table, quotedColumnList(), placeholders)

	err := s.retry.Do(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return s.classify(err)
		}

		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			tx.Rollback()
			return s.classify(err)
		}

		for i, rec := range records {
			args, err := insertArgs(rec)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return retrying.Permanent(faults.Data(s.ref.String(),
					fmt.Errorf("record %d: %w", i, err)))
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				stmt.Close()
				tx.Rollback()
				return s.classify(err)
			}
		}

		stmt.Close()
		return tx.Commit()
	})
	if err != nil {
		if faults.IsData(err) {
			return err
		}
		return faults.Transient(fmt.Errorf("append %d rows to %s: %w", len(records), s.ref, err))
	}

	logger := logctx.From(ctx)
	logger.Info().
		Int("rows", len(records)).
		Str("table", s.ref.String()).
		Msg("appended rows")
	return nil
}

func quotedColumnList() string {
	quoted := make([]string, len(insertColumns))
	for i, c := range insertColumns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func insertArgs(rec batch.Record) ([]any, error) {
	key, field, err := rec.Key()
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return []any{
		rec.ID, rec.Title, key.Slug, rec.Estate, rec.Transaction, rec.City,
		rec.Province, rec.Street, rec.AgencyID, rec.AgencyName,
		rec.AgencySlug, rec.IsPrivateOwner, rec.IsPromoted,
		rec.TotalPriceCurrency, rec.TotalPriceValue,
		rec.PricePerSquareMeterValue, rec.AreaInSquareMeters,
		rec.RoomsNumber, rec.FloorNumber, rec.DateCreated,
		key.IngestionDate,
	}, nil
}

// schemaErrorFragments are driver message fragments that indicate the
// destination table or a column is missing or renamed. These failures are
// deterministic; retrying cannot help.
var schemaErrorFragments = []string{
	"no such table",
	"no such column",
	"has no column",
	"unknown column",
	"does not exist",
}

func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrying.Permanent(err)
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range schemaErrorFragments {
		if strings.Contains(msg, fragment) {
			return retrying.Permanent(faults.Data(s.ref.String(),
				fmt.Errorf("destination schema mismatch: %w", err)))
		}
	}
	return err
}
