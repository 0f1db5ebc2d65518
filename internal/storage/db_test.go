package storage

import (
	"path/filepath"
	"testing"

	"invrecon/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestReportLifecycle(t *testing.T) {
	db := openTestDB(t)

	report, err := db.UpsertReport("imap", "<m1@example.com>", "subj", "a@b", "2026-01-01T00:00:00Z", "h1", "/tmp/m1.eml", "fetched")
	if err != nil {
		t.Fatal(err)
	}
	if report.ID == 0 {
		t.Fatal("no id assigned")
	}

	// Upsert with the same provider/messageId must not create a second row.
	again, err := db.UpsertReport("imap", "<m1@example.com>", "subj2", "a@b", "2026-01-01T00:00:00Z", "h1", "/tmp/m1.eml", "fetched")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != report.ID {
		t.Fatalf("upsert created duplicate: %d vs %d", again.ID, report.ID)
	}
	if again.Subject != "subj2" {
		t.Fatalf("subject not updated: %q", again.Subject)
	}

	if err := db.UpdateReportStatus(report.ID, "processed"); err != nil {
		t.Fatal(err)
	}
	pending, err := db.ListReportsByStatus("fetched", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("still pending: %+v", pending)
	}
}

func TestCanonicalReplaceAndList(t *testing.T) {
	db := openTestDB(t)

	first := []internal.CanonicalRecord{
		{WorkstationName: "LAB-01", LastHardwareScan: "1/5/2024 08:00", LastLoggedUserID: "u1"},
		{WorkstationName: "LAB-02"},
	}
	if err := db.ReplaceCanonical(0, first); err != nil {
		t.Fatal(err)
	}

	second := []internal.CanonicalRecord{
		{WorkstationName: "LAB-01", LastHardwareScan: "1/6/2024 08:00", LastLoggedUserID: "u2"},
	}
	if err := db.ReplaceCanonical(0, second); err != nil {
		t.Fatal(err)
	}

	records, err := db.ListCanonical()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].LastLoggedUserID != "u2" {
		t.Fatalf("replace did not swap the table: %+v", records)
	}
}

func TestLookupsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	report, err := db.UpsertReport("imap", "<r1@example.com>", "roster", "a@b", "2026-01-01T00:00:00Z", "h", "/tmp/r1.eml", "fetched")
	if err != nil {
		t.Fatal(err)
	}
	canon := internal.CanonicalRecord{WorkstationName: "LAB-01", LastLoggedUserID: "u1"}
	if err := db.ReplaceCanonical(report.ID, []internal.CanonicalRecord{canon}); err != nil {
		t.Fatal(err)
	}

	rows := []internal.LookupRow{
		{LineNo: 1, PCName: "lab-01", Status: internal.LookupMatched, Canonical: &canon},
		{LineNo: 2, PCName: "LAB-99", Status: internal.LookupUnmatched},
	}
	if err := db.InsertLookups(report.ID, rows); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetLookupRows(report.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0].Status != internal.LookupMatched || got[0].Canonical == nil || got[0].Canonical.WorkstationName != "LAB-01" {
		t.Fatalf("matched row bad: %+v", got[0])
	}
	if got[1].Status != internal.LookupUnmatched || got[1].Canonical != nil {
		t.Fatalf("unmatched row bad: %+v", got[1])
	}
}

func TestMetadata(t *testing.T) {
	db := openTestDB(t)

	missing, err := db.GetMetadata("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil, got %q", *missing)
	}

	if err := db.SetMetadata("lastExport", "2026-02-08"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata("lastExport", "2026-02-09"); err != nil {
		t.Fatal(err)
	}
	value, err := db.GetMetadata("lastExport")
	if err != nil {
		t.Fatal(err)
	}
	if value == nil || *value != "2026-02-09" {
		t.Fatalf("value=%v", value)
	}
}
