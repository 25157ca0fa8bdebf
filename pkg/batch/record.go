// Package batch materializes one scraped batch file into memory and
// derives the natural keys used for incremental loading.
package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is one listing row as written by the scraper, mirroring the
// staging table schema. The natural key is (slug, ingestionDate): a slug
// identifies a listing, and the same listing reappears across daily runs
// under new ingestion dates.
type Record struct {
	ID                       string  `parquet:"id"`
	Title                    string  `parquet:"title,optional"`
	Slug                     string  `parquet:"slug"`
	Estate                   string  `parquet:"estate,optional"`
	Transaction              string  `parquet:"transaction,optional"`
	City                     string  `parquet:"city,optional"`
	Province                 string  `parquet:"province,optional"`
	Street                   string  `parquet:"street,optional"`
	AgencyID                 int64   `parquet:"agencyId,optional"`
	AgencyName               string  `parquet:"agencyName,optional"`
	AgencySlug               string  `parquet:"agencySlug,optional"`
	IsPrivateOwner           bool    `parquet:"isPrivateOwner,optional"`
	IsPromoted               bool    `parquet:"isPromoted,optional"`
	TotalPriceCurrency       string  `parquet:"totalPriceCurrency,optional"`
	TotalPriceValue          float64 `parquet:"totalPriceValue,optional"`
	PricePerSquareMeterValue float64 `parquet:"pricePerSquareMeterValue,optional"`
	AreaInSquareMeters       float64 `parquet:"areaInSquareMeters,optional"`
	RoomsNumber              string  `parquet:"roomsNumber,optional"`
	FloorNumber              string  `parquet:"floorNumber,optional"`
	DateCreated              string  `parquet:"dateCreated,optional"`
	IngestionDate            string  `parquet:"ingestionDate"`
}

// Key is the normalized natural key of a Record. Two records with equal
// Keys denote the same logical row, across batches and across time.
type Key struct {
	Slug          string
	IngestionDate string // civil date, YYYY-MM-DD
}

func (k Key) String() string {
	return k.Slug + "@" + k.IngestionDate
}

var errEmptySlug = errors.New("empty slug")

// dateLayouts are the ingestion date encodings accepted from producers.
// Whatever arrives is canonicalized to YYYY-MM-DD so key comparison is
// exact string equality.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeDate canonicalizes a date value to YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", s)
}

// Key returns the record's normalized natural key. The second return
// value names the offending field when normalization fails.
func (r Record) Key() (Key, string, error) {
	slug := strings.TrimSpace(r.Slug)
	if slug == "" {
		return Key{}, "slug", errEmptySlug
	}
	date, err := NormalizeDate(r.IngestionDate)
	if err != nil {
		return Key{}, "ingestionDate", err
	}
	return Key{Slug: slug, IngestionDate: date}, "", nil
}
