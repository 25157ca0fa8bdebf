package pipeline

import "github.com/casafeed/incload/pkg/batch"

// filterNew returns the records whose key is not in existing, preserving
// order. records and keys are the parallel slices produced by
// Batch.Distinct. Pure set difference, no I/O.
func filterNew(records []batch.Record, keys []batch.Key, existing map[batch.Key]struct{}) []batch.Record {
	fresh := make([]batch.Record, 0, len(records))
	for i, rec := range records {
		if _, ok := existing[keys[i]]; ok {
			continue
		}
		fresh = append(fresh, rec)
	}
	return fresh
}
