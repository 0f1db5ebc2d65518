package pipeline

import (
	"errors"
	"testing"

	"invrecon/internal"
)

func scan(name, scanned, lastUser string) internal.ScanRecord {
	return internal.ScanRecord{
		WorkstationName:  name,
		LastHardwareScan: scanned,
		LastLoggedUserID: lastUser,
	}
}

func byName(t *testing.T, records []internal.CanonicalRecord) map[string]internal.CanonicalRecord {
	t.Helper()
	out := map[string]internal.CanonicalRecord{}
	for _, rec := range records {
		if _, dup := out[rec.WorkstationName]; dup {
			t.Fatalf("duplicate canonical record for %q", rec.WorkstationName)
		}
		out[rec.WorkstationName] = rec
	}
	return out
}

func TestSelectLatestWins(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("PC1", "1/1/2023 10:00", "old"),
		scan("PC1", "1/2/2023 09:00", "new"),
	}, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("len=%d", len(result.Records))
	}
	if result.Records[0].LastLoggedUserID != "new" {
		t.Fatalf("selected %+v, want the 1/2 record", result.Records[0])
	}
}

func TestSelectBlankTimestampLoses(t *testing.T) {
	orders := [][]internal.ScanRecord{
		{scan("PC1", "", "blank"), scan("PC1", "1/1/2023 10:00", "timed")},
		{scan("PC1", "1/1/2023 10:00", "timed"), scan("PC1", "", "blank")},
	}
	for i, records := range orders {
		result, err := SelectLatest(records, SelectOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if result.Records[0].LastLoggedUserID != "timed" {
			t.Fatalf("order %d: blank timestamp must never win, got %+v", i, result.Records[0])
		}
	}
}

func TestSelectAllBlankKeepsFirst(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("PC1", "", "first"),
		scan("PC1", "", "second"),
	}, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Records[0].LastLoggedUserID != "first" {
		t.Fatalf("all-blank group must keep first encountered, got %+v", result.Records[0])
	}
}

func TestSelectTieKeepsFirst(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("PC1", "1/1/2023 10:00", "first"),
		scan("PC1", "1/1/2023 10:00", "second"),
	}, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Records[0].LastLoggedUserID != "first" {
		t.Fatalf("tie must keep first encountered, got %+v", result.Records[0])
	}
}

func TestSelectBlankNamesSkipped(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("", "1/1/2023 10:00", "u1"),
		scan("   ", "", "u2"),
		scan("PC1", "1/1/2023 10:00", "u3"),
	}, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.BlankNamesSkipped != 2 {
		t.Fatalf("blankNamesSkipped=%d", result.BlankNamesSkipped)
	}
	if len(result.Records) != 1 {
		t.Fatalf("len=%d", len(result.Records))
	}
}

func TestSelectMalformedTimestampFatal(t *testing.T) {
	_, err := SelectLatest([]internal.ScanRecord{
		scan("PC1", "not-a-date", "u1"),
	}, SelectOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	var malformed *MalformedTimestampError
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedTimestampError, got %v", err)
	}
	if malformed.WorkstationName != "PC1" || malformed.Value != "not-a-date" {
		t.Fatalf("error must name the offending record: %+v", malformed)
	}
}

func TestSelectRawGroupingKeepsNameVariants(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("PC01", "1/1/2023 10:00", "u1"),
		scan("pc01", "1/2/2023 10:00", "u2"),
	}, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("raw grouping must keep case variants distinct, len=%d", len(result.Records))
	}
}

func TestSelectNormalizedGroupingFoldsVariants(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("PC01", "1/1/2023 10:00", "u1"),
		scan(" pc01 ", "1/2/2023 10:00", "u2"),
	}, SelectOptions{NormalizeKeys: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("normalized grouping must fold variants, len=%d", len(result.Records))
	}
	if result.Records[0].LastLoggedUserID != "u2" {
		t.Fatalf("latest variant must win, got %+v", result.Records[0])
	}
}

func TestSelectDeterministic(t *testing.T) {
	records := []internal.ScanRecord{
		scan("PC1", "1/1/2023 10:00", "a"),
		scan("PC2", "", "b"),
		scan("PC1", "1/3/2023 08:15", "c"),
		scan("PC3", "2/1/2023 23:59", "d"),
		scan("PC2", "1/1/2023 00:00", "e"),
	}

	first, err := SelectLatest(records, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := SelectLatest(records, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}

	got := byName(t, first.Records)
	want := byName(t, second.Records)
	if len(got) != len(want) {
		t.Fatalf("len mismatch: %d vs %d", len(got), len(want))
	}
	for name, rec := range want {
		if got[name] != rec {
			t.Fatalf("record for %q differs: %+v vs %+v", name, got[name], rec)
		}
	}
	if got["PC1"].LastLoggedUserID != "c" || got["PC2"].LastLoggedUserID != "b" || got["PC3"].LastLoggedUserID != "d" {
		t.Fatalf("unexpected selection: %+v", got)
	}
}

func TestSelectProjection(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{{
		WorkstationName:  "PC1",
		LastHardwareScan: "1/1/2023 10:00",
		LastLoggedUserID: "u1",
		PrimaryUserID:    "p1",
		IPAddress:        "10.0.0.5",
		Subnet:           "10.0.0.0",
		Source:           internal.SourceXLSX,
		RowNo:            42,
	}}, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := internal.CanonicalRecord{
		WorkstationName:  "PC1",
		LastHardwareScan: "1/1/2023 10:00",
		LastLoggedUserID: "u1",
		PrimaryUserID:    "p1",
		IPAddress:        "10.0.0.5",
		Subnet:           "10.0.0.0",
	}
	if result.Records[0] != want {
		t.Fatalf("projection mismatch: %+v", result.Records[0])
	}
}

func TestSelectCustomLayout(t *testing.T) {
	result, err := SelectLatest([]internal.ScanRecord{
		scan("PC1", "2023-01-01 10:00:00", "old"),
		scan("PC1", "2023-01-02 09:00:00", "new"),
	}, SelectOptions{TimeLayout: "2006-01-02 15:04:05"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Records[0].LastLoggedUserID != "new" {
		t.Fatalf("got %+v", result.Records[0])
	}
}
