package objstore

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Stamp is the civil date a producer embedded in a batch object's name.
// Batch files are named <source>_<YYYY-MM-DD><suffix> (one file per
// scraping run), and the stamp — not the object's storage-metadata
// timestamps, which are not stable across retries or replication — is
// what orders batches.
type Stamp struct {
	t time.Time
}

const stampLayout = "2006-01-02"

// ParseStamp extracts the stamp from an object key. The stamp is the last
// underscore-separated token of the base name with the suffix stripped,
// e.g. "scrapes/housing_2024-01-01.parquet" -> 2024-01-01.
func ParseStamp(key, suffix string) (Stamp, error) {
	base := path.Base(key)
	base = strings.TrimSuffix(base, suffix)

	token := base
	if i := strings.LastIndexByte(base, '_'); i >= 0 {
		token = base[i+1:]
	}

	t, err := time.Parse(stampLayout, token)
	if err != nil {
		return Stamp{}, fmt.Errorf("no date stamp in object name %q: %w", key, err)
	}
	return Stamp{t: t}, nil
}

// Before reports whether s orders strictly before o.
func (s Stamp) Before(o Stamp) bool {
	return s.t.Before(o.t)
}

// Equal reports whether two stamps denote the same date.
func (s Stamp) Equal(o Stamp) bool {
	return s.t.Equal(o.t)
}

// Date returns the stamp as a civil date string, YYYY-MM-DD.
func (s Stamp) Date() string {
	return s.t.Format(stampLayout)
}

func (s Stamp) String() string {
	return s.Date()
}
