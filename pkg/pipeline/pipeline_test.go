package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/casafeed/incload/pkg/batch"
	"github.com/casafeed/incload/pkg/faults"
	"github.com/casafeed/incload/pkg/objstore"
)

var testLoc = objstore.Location{Bucket: "scrape-bucket", Prefix: "scrapes", Suffix: ".parquet"}

func parquetBytes(t *testing.T, rows []batch.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[batch.Record](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	return buf.Bytes()
}

// fakeScanner serves one preconfigured batch object.
type fakeScanner struct {
	object  objstore.Object
	content []byte
	scanErr error
}

func (f *fakeScanner) Scan(ctx context.Context, loc objstore.Location) (objstore.Object, error) {
	if f.scanErr != nil {
		return objstore.Object{}, f.scanErr
	}
	return f.object, nil
}

func (f *fakeScanner) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(f.content)), int64(len(f.content)), nil
}

func scannerFor(t *testing.T, key string, rows []batch.Record) *fakeScanner {
	t.Helper()
	stamp, err := objstore.ParseStamp(key, ".parquet")
	if err != nil {
		t.Fatalf("test object key %q has no stamp: %v", key, err)
	}
	return &fakeScanner{
		object:  objstore.Object{Key: key, Stamp: stamp},
		content: parquetBytes(t, rows),
	}
}

// fakeStore is a stateful in-memory destination table.
type fakeStore struct {
	rows          map[batch.Key]int // key -> stored row count (to catch duplicates)
	appendCalls   int
	existingCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[batch.Key]int)}
}

func (f *fakeStore) ExistingKeys(ctx context.Context, keys []batch.Key) (map[batch.Key]struct{}, error) {
	f.existingCalls++
	existing := make(map[batch.Key]struct{})
	for _, k := range keys {
		if f.rows[k] > 0 {
			existing[k] = struct{}{}
		}
	}
	return existing, nil
}

func (f *fakeStore) Append(ctx context.Context, records []batch.Record) error {
	f.appendCalls++
	for _, rec := range records {
		key, _, err := rec.Key()
		if err != nil {
			return err
		}
		f.rows[key]++
	}
	return nil
}

func (f *fakeStore) preload(keys ...batch.Key) {
	for _, k := range keys {
		f.rows[k]++
	}
}

func TestRunLoadsAllIntoEmptyDestination(t *testing.T) {
	scanner := scannerFor(t, "scrapes/housing_2024-01-01.parquet", []batch.Record{
		{ID: "1", Slug: "a", IngestionDate: "2024-01-01"},
		{ID: "2", Slug: "b", IngestionDate: "2024-01-01"},
	})
	store := newFakeStore()

	res, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Outcome != OutcomeLoaded {
		t.Errorf("Outcome = %s, want loaded", res.Outcome)
	}
	if res.Loaded != 2 || res.Candidates != 2 || res.Existing != 0 {
		t.Errorf("Result = %+v", res)
	}
	if len(store.rows) != 2 {
		t.Errorf("destination holds %d keys, want 2", len(store.rows))
	}
}

func TestRunSkipsExistingKeys(t *testing.T) {
	scanner := scannerFor(t, "scrapes/housing_2024-01-01.parquet", []batch.Record{
		{ID: "1", Slug: "a", IngestionDate: "2024-01-01"},
		{ID: "2", Slug: "b", IngestionDate: "2024-01-01"},
	})
	store := newFakeStore()
	store.preload(batch.Key{Slug: "a", IngestionDate: "2024-01-01"})

	res, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Outcome != OutcomeLoaded || res.Loaded != 1 || res.Existing != 1 {
		t.Errorf("Result = %+v, want 1 loaded / 1 existing", res)
	}
	if n := store.rows[batch.Key{Slug: "a", IngestionDate: "2024-01-01"}]; n != 1 {
		t.Errorf("key a stored %d times, want 1", n)
	}
	if n := store.rows[batch.Key{Slug: "b", IngestionDate: "2024-01-01"}]; n != 1 {
		t.Errorf("key b stored %d times, want 1", n)
	}
}

func TestRunInternalDuplicateLoadsOnce(t *testing.T) {
	scanner := scannerFor(t, "scrapes/housing_2024-01-01.parquet", []batch.Record{
		{ID: "1", Slug: "a", Title: "first", IngestionDate: "2024-01-01"},
		{ID: "2", Slug: "a", Title: "second", IngestionDate: "2024-01-01"},
	})
	store := newFakeStore()

	res, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Candidates != 1 || res.Loaded != 1 {
		t.Errorf("Result = %+v, want 1 candidate / 1 loaded", res)
	}
	if n := store.rows[batch.Key{Slug: "a", IngestionDate: "2024-01-01"}]; n != 1 {
		t.Errorf("key stored %d times, want exactly 1", n)
	}
}

func TestRunNoFileIsSuccessfulNoOp(t *testing.T) {
	scanner := &fakeScanner{scanErr: objstore.ErrNoBatch}
	store := newFakeStore()

	res, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err != nil {
		t.Fatalf("Run: %v, want success", err)
	}
	if res.Outcome != OutcomeNoFile {
		t.Errorf("Outcome = %s, want no_file", res.Outcome)
	}
	if store.existingCalls != 0 || store.appendCalls != 0 {
		t.Errorf("warehouse touched on no-file run: %+v", store)
	}
}

func TestRunNoNewRowsSkipsWriteEntirely(t *testing.T) {
	scanner := scannerFor(t, "scrapes/housing_2024-01-01.parquet", []batch.Record{
		{ID: "1", Slug: "a", IngestionDate: "2024-01-01"},
		{ID: "2", Slug: "b", IngestionDate: "2024-01-01"},
	})
	store := newFakeStore()
	store.preload(
		batch.Key{Slug: "a", IngestionDate: "2024-01-01"},
		batch.Key{Slug: "b", IngestionDate: "2024-01-01"},
	)

	res, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Outcome != OutcomeNoNewRows {
		t.Errorf("Outcome = %s, want no_new_rows", res.Outcome)
	}
	if store.appendCalls != 0 {
		t.Errorf("appendCalls = %d, want 0 write calls on a fully-loaded batch", store.appendCalls)
	}
}

func TestRunTwiceConvergesWithoutDuplicates(t *testing.T) {
	scanner := scannerFor(t, "scrapes/housing_2024-01-01.parquet", []batch.Record{
		{ID: "1", Slug: "a", IngestionDate: "2024-01-01"},
		{ID: "2", Slug: "b", IngestionDate: "2024-01-01"},
		{ID: "3", Slug: "c", IngestionDate: "2024-01-01"},
	})
	store := newFakeStore()
	cfg := Config{Source: testLoc}

	first, err := Run(context.Background(), cfg, scanner, store)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Outcome != OutcomeLoaded || first.Loaded != 3 {
		t.Fatalf("first Result = %+v", first)
	}

	second, err := Run(context.Background(), cfg, scanner, store)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Outcome != OutcomeNoNewRows || second.Loaded != 0 {
		t.Errorf("second Result = %+v, want no_new_rows", second)
	}

	for key, n := range store.rows {
		if n != 1 {
			t.Errorf("key %v stored %d times after two runs, want 1", key, n)
		}
	}
}

func TestRunPropagatesTransientScanFailure(t *testing.T) {
	scanner := &fakeScanner{scanErr: faults.Transient(errors.New("listing throttled"))}
	store := newFakeStore()

	_, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	if !faults.IsTransient(err) {
		t.Errorf("error lost its transient classification: %v", err)
	}
}

func TestRunCorruptBatchIsDataFault(t *testing.T) {
	stamp, _ := objstore.ParseStamp("scrapes/housing_2024-01-01.parquet", ".parquet")
	scanner := &fakeScanner{
		object:  objstore.Object{Key: "scrapes/housing_2024-01-01.parquet", Stamp: stamp},
		content: []byte("not parquet at all"),
	}
	store := newFakeStore()

	_, err := Run(context.Background(), Config{Source: testLoc}, scanner, store)
	if err == nil {
		t.Fatal("Run succeeded on corrupt batch")
	}
	if !faults.IsData(err) {
		t.Errorf("corrupt batch not classified as data fault: %v", err)
	}
	if store.appendCalls != 0 {
		t.Error("append issued despite unreadable batch")
	}
}
