package pipeline

import "testing"

func TestDetectInventoryReport(t *testing.T) {
	res := DetectInventoryReport("Weekly workstation inventory scan report", "export attached", "", []string{"scans.xlsx"})
	if !res.IsReport {
		t.Fatalf("scan report not detected: %+v", res)
	}

	res = DetectInventoryReport("Lunch on Friday?", "see you at noon", "", nil)
	if res.IsReport {
		t.Fatalf("noise detected as report: %+v", res)
	}
}
