package pipeline

import (
	"fmt"
	"strings"
	"time"

	"invrecon/internal"
	"invrecon/internal/config"
	"invrecon/internal/util"
)

// MalformedTimestampError reports a non-blank LastHardwareScan value that
// does not parse against the configured layout. The selector fails the whole
// invocation rather than coercing or dropping the row, which would silently
// break the latest-record guarantee.
type MalformedTimestampError struct {
	WorkstationName string
	Value           string
	Layout          string
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("malformed scan timestamp %q for workstation %q (layout %s)", e.Value, e.WorkstationName, e.Layout)
}

type SelectOptions struct {
	// TimeLayout parses LastHardwareScan; defaults to config.DefaultScanTimeLayout.
	TimeLayout string
	// NormalizeKeys folds whitespace/case/encoding variants of a workstation
	// name into a single group. Off by default: grouping is by verbatim name,
	// matching the upstream report semantics.
	NormalizeKeys bool
}

type SelectResult struct {
	Records []internal.CanonicalRecord
	// BlankNamesSkipped counts rows excluded because the workstation name was
	// empty after trimming. Never fatal, but callers should surface it.
	BlankNamesSkipped int
}

// SelectLatest keeps, per workstation, the scan with the most recent
// timestamp. Blank timestamps always lose to parsed ones; a group with only
// blank timestamps keeps its first row. Ties keep the first-encountered row.
// Output order follows first encounter of each group key.
func SelectLatest(records []internal.ScanRecord, opts SelectOptions) (SelectResult, error) {
	layout := opts.TimeLayout
	if layout == "" {
		layout = config.DefaultScanTimeLayout
	}

	type selected struct {
		idx     int
		scanned time.Time
		hasTime bool
	}

	bestByKey := map[string]selected{}
	keyOrder := make([]string, 0)
	blankNames := 0

	for i, rec := range records {
		if strings.TrimSpace(rec.WorkstationName) == "" {
			blankNames++
			continue
		}

		key := rec.WorkstationName
		if opts.NormalizeKeys {
			key = util.NormalizeName(key)
		}

		var scanned time.Time
		hasTime := false
		if raw := strings.TrimSpace(rec.LastHardwareScan); raw != "" {
			parsed, err := time.Parse(layout, raw)
			if err != nil {
				return SelectResult{}, &MalformedTimestampError{
					WorkstationName: rec.WorkstationName,
					Value:           raw,
					Layout:          layout,
				}
			}
			scanned = parsed
			hasTime = true
		}

		current, seen := bestByKey[key]
		if !seen {
			bestByKey[key] = selected{idx: i, scanned: scanned, hasTime: hasTime}
			keyOrder = append(keyOrder, key)
			continue
		}
		// Strictly-after replacement keeps the first-encountered row on ties
		// and never lets a blank timestamp displace a parsed one.
		if hasTime && (!current.hasTime || scanned.After(current.scanned)) {
			bestByKey[key] = selected{idx: i, scanned: scanned, hasTime: hasTime}
		}
	}

	out := make([]internal.CanonicalRecord, 0, len(keyOrder))
	for _, key := range keyOrder {
		out = append(out, project(records[bestByKey[key].idx]))
	}

	return SelectResult{Records: out, BlankNamesSkipped: blankNames}, nil
}

func project(rec internal.ScanRecord) internal.CanonicalRecord {
	return internal.CanonicalRecord{
		WorkstationName:  rec.WorkstationName,
		LastHardwareScan: rec.LastHardwareScan,
		LastLoggedUserID: rec.LastLoggedUserID,
		PrimaryUserID:    rec.PrimaryUserID,
		IPAddress:        rec.IPAddress,
		Subnet:           rec.Subnet,
	}
}
