package pipeline

import (
	"invrecon/internal"
	"invrecon/internal/util"
)

// Index is a normalized-name lookup over a reference table, built once so
// reconciliation stays O(roster) regardless of reference size.
type Index struct {
	byName map[string][]internal.CanonicalRecord
}

func BuildIndex(reference []internal.CanonicalRecord) *Index {
	idx := &Index{byName: make(map[string][]internal.CanonicalRecord, len(reference))}
	for _, rec := range reference {
		key := util.NormalizeName(rec.WorkstationName)
		if key == "" {
			continue
		}
		idx.byName[key] = append(idx.byName[key], rec)
	}
	return idx
}

// Lookup resolves a raw roster name. When two reference records collide on a
// normalized key (possible when the selector grouped by verbatim names) the
// first record in reference order wins.
func (idx *Index) Lookup(name string) (internal.CanonicalRecord, bool) {
	key := util.NormalizeName(name)
	if key == "" {
		return internal.CanonicalRecord{}, false
	}
	records := idx.byName[key]
	if len(records) == 0 {
		return internal.CanonicalRecord{}, false
	}
	return records[0], true
}

type ReconcileResult struct {
	Matched   []internal.CanonicalRecord
	Unmatched []internal.RosterEntry
}

// Reconcile partitions the roster against the reference table. Every entry
// lands in exactly one partition; duplicates in the roster each get their own
// lookup. Neither input is mutated.
func Reconcile(reference []internal.CanonicalRecord, roster []internal.RosterEntry) ReconcileResult {
	idx := BuildIndex(reference)

	result := ReconcileResult{
		Matched:   make([]internal.CanonicalRecord, 0, len(roster)),
		Unmatched: make([]internal.RosterEntry, 0),
	}
	for _, entry := range roster {
		if rec, ok := idx.Lookup(entry.PCName); ok {
			result.Matched = append(result.Matched, rec)
		} else {
			result.Unmatched = append(result.Unmatched, entry)
		}
	}
	return result
}

// LookupRows pairs each roster entry with its outcome, for persistence and
// per-line export.
func LookupRows(reference []internal.CanonicalRecord, roster []internal.RosterEntry) []internal.LookupRow {
	idx := BuildIndex(reference)

	out := make([]internal.LookupRow, 0, len(roster))
	for _, entry := range roster {
		row := internal.LookupRow{LineNo: entry.LineNo, PCName: entry.PCName, Status: internal.LookupUnmatched}
		if rec, ok := idx.Lookup(entry.PCName); ok {
			row.Status = internal.LookupMatched
			row.Canonical = &rec
		}
		out = append(out, row)
	}
	return out
}
