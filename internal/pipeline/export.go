package pipeline

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"invrecon/internal"
)

var canonicalHeaders = []string{
	"workstation_name", "last_hardware_scan", "last_logged_user_id",
	"primary_user_id", "ip_address", "subnet",
}

// ExportCanonicalCSV writes the latest-state table as delimited text, the
// primary sink for downstream tooling.
func ExportCanonicalCSV(records []internal.CanonicalRecord, outputPath string) error {
	return writeCSV(outputPath, canonicalHeaders, canonicalRows(records))
}

func ExportCanonicalXLSX(records []internal.CanonicalRecord, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := writeSheet(f, sheet, canonicalHeaders, canonicalRows(records)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

// ExportReconcileCSV writes the two partitions to separate files: matched
// names carry the full canonical field set, unmatched names keep their
// original roster spelling.
func ExportReconcileCSV(result ReconcileResult, matchedPath, unmatchedPath string) error {
	if err := writeCSV(matchedPath, canonicalHeaders, canonicalRows(result.Matched)); err != nil {
		return err
	}
	unmatchedRows := make([][]string, 0, len(result.Unmatched))
	for _, entry := range result.Unmatched {
		unmatchedRows = append(unmatchedRows, []string{entry.PCName})
	}
	return writeCSV(unmatchedPath, []string{"pc_name"}, unmatchedRows)
}

// ExportLookupsXLSX writes per-roster-line outcomes, matched and unmatched on
// separate sheets.
func ExportLookupsXLSX(rows []internal.LookupRow, outputPath string) error {
	f := excelize.NewFile()
	matchedSheet := f.GetSheetName(0)
	if err := f.SetSheetName(matchedSheet, "Matched"); err != nil {
		return err
	}
	if _, err := f.NewSheet("Unmatched"); err != nil {
		return err
	}

	matched := make([][]string, 0, len(rows))
	unmatched := make([][]string, 0)
	for _, row := range rows {
		if row.Status == internal.LookupMatched && row.Canonical != nil {
			rec := *row.Canonical
			matched = append(matched, []string{
				row.PCName, rec.WorkstationName, rec.LastHardwareScan,
				rec.LastLoggedUserID, rec.PrimaryUserID, rec.IPAddress, rec.Subnet,
			})
		} else {
			unmatched = append(unmatched, []string{row.PCName})
		}
	}

	matchedHeaders := append([]string{"pc_name"}, canonicalHeaders...)
	if err := writeSheet(f, "Matched", matchedHeaders, matched); err != nil {
		return err
	}
	if err := writeSheet(f, "Unmatched", []string{"pc_name"}, unmatched); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func canonicalRows(records []internal.CanonicalRecord) [][]string {
	out := make([][]string, 0, len(records))
	for _, rec := range records {
		out = append(out, []string{
			rec.WorkstationName, rec.LastHardwareScan, rec.LastLoggedUserID,
			rec.PrimaryUserID, rec.IPAddress, rec.Subnet,
		})
	}
	return out
}

func writeCSV(path string, headers []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		_ = f.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
