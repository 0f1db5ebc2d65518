package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"invrecon/internal"
	"invrecon/internal/config"
	"invrecon/internal/storage"
)

func mkReportEmail(subject, body, attachmentName string, attachment []byte) []byte {
	var buf bytes.Buffer
	w := func(s string) { buf.WriteString(s); buf.WriteString("\r\n") }
	w("From: it-ops@example.com")
	w("To: inventory@example.com")
	w("Subject: " + subject)
	w("MIME-Version: 1.0")
	if attachment == nil {
		w("Content-Type: text/plain; charset=utf-8")
		w("")
		w(body)
		return buf.Bytes()
	}

	w(`Content-Type: multipart/mixed; boundary="frontier"`)
	w("")
	w("--frontier")
	w("Content-Type: text/plain; charset=utf-8")
	w("")
	w(body)
	w("--frontier")
	w(fmt.Sprintf(`Content-Type: application/octet-stream; name=%q`, attachmentName))
	w(fmt.Sprintf(`Content-Disposition: attachment; filename=%q`, attachmentName))
	w("Content-Transfer-Encoding: base64")
	w("")
	encoded := base64.StdEncoding.EncodeToString(attachment)
	for len(encoded) > 76 {
		w(encoded[:76])
		encoded = encoded[76:]
	}
	w(encoded)
	w("--frontier--")
	return buf.Bytes()
}

func writeRaw(t *testing.T, dir, name string, raw []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSmokeReportEmailsToExports(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "invrecon.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	proc := NewProcessingService(db, cfg, zerolog.Nop())

	// Report 1: weekly scan export as an xlsx attachment. LAB-01 appears
	// twice; the later scan must win.
	scanBlob := mkXLSX([][]any{
		{"Workstation Name", "Last Hardware Scan", "Last Logged User", "Primary User", "IP Address", "Subnet"},
		{"LAB-01", "1/5/2024 08:00", "u1", "p1", "10.0.0.5", "10.0.0.0"},
		{"LAB-01", "1/6/2024 08:00", "u2", "p1", "10.0.0.6", "10.0.0.0"},
		{"LAB-02", "", "", "", "", ""},
	})
	scanRaw := mkReportEmail("Weekly workstation inventory scan report", "Latest hardware scan export attached.", "scans.xlsx", scanBlob)
	scanPath := writeRaw(t, tmp, "scan.eml", scanRaw)

	scanReport, err := db.UpsertReport("imap", "<scan-1@example.com>", "Weekly workstation inventory scan report", "it-ops@example.com", "2026-02-08T00:00:00Z", "hash1", scanPath, "fetched")
	if err != nil {
		t.Fatal(err)
	}
	scanResult, err := proc.ProcessReport(scanReport)
	if err != nil {
		t.Fatal(err)
	}
	if scanResult.Scans != 3 || scanResult.Canonical != 2 {
		t.Fatalf("scan result: %+v", scanResult)
	}

	records, err := db.ListCanonical()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("canonical len=%d", len(records))
	}
	for _, rec := range records {
		if rec.WorkstationName == "LAB-01" && rec.LastLoggedUserID != "u2" {
			t.Fatalf("LAB-01 must carry the later scan: %+v", rec)
		}
	}

	// Report 2: roster names in the body, reconciled against the stored table.
	rosterRaw := mkReportEmail("Roster reconcile request", "LAB-01\r\nLAB-99", "", nil)
	rosterPath := writeRaw(t, tmp, "roster.eml", rosterRaw)

	rosterReport, err := db.UpsertReport("imap", "<roster-1@example.com>", "Roster reconcile request", "it-ops@example.com", "2026-02-09T00:00:00Z", "hash2", rosterPath, "fetched")
	if err != nil {
		t.Fatal(err)
	}
	rosterResult, err := proc.ProcessReport(rosterReport)
	if err != nil {
		t.Fatal(err)
	}
	if rosterResult.Matched != 1 || rosterResult.Unmatched != 1 {
		t.Fatalf("roster result: %+v", rosterResult)
	}

	rows, err := db.GetLookupRows(rosterReport.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("lookup rows len=%d", len(rows))
	}
	if rows[0].Status != internal.LookupMatched || rows[0].Canonical == nil || rows[0].Canonical.LastLoggedUserID != "u2" {
		t.Fatalf("matched row bad: %+v", rows[0])
	}
	if rows[1].Status != internal.LookupUnmatched || rows[1].PCName != "LAB-99" {
		t.Fatalf("unmatched row bad: %+v", rows[1])
	}

	lookupOut := filepath.Join(tmp, "lookups.xlsx")
	if err := ExportLookupsXLSX(rows, lookupOut); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(lookupOut); err != nil {
		t.Fatal(err)
	}

	canonicalOut := filepath.Join(tmp, "canonical.csv")
	if err := ExportCanonicalCSV(records, canonicalOut); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(canonicalOut); err != nil {
		t.Fatal(err)
	}
}

func TestSmokeMalformedTimestampFailsReport(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "invrecon.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	proc := NewProcessingService(db, cfg, zerolog.Nop())

	blob := mkXLSX([][]any{
		{"Workstation Name", "Last Hardware Scan"},
		{"LAB-01", "yesterday-ish"},
	})
	raw := mkReportEmail("Inventory scan report", "Export attached.", "scans.xlsx", blob)
	path := writeRaw(t, tmp, "bad.eml", raw)

	report, err := db.UpsertReport("imap", "<bad-1@example.com>", "Inventory scan report", "it-ops@example.com", "2026-02-08T00:00:00Z", "hash", path, "fetched")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := proc.ProcessReport(report); err == nil {
		t.Fatal("malformed timestamp must fail the report")
	}

	stored, err := db.GetReportByID(report.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Status != "failed" {
		t.Fatalf("report status must be failed: %+v", stored)
	}

	records, err := db.ListCanonical()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("canonical table must stay untouched: %+v", records)
	}
}
