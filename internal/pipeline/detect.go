package pipeline

import "strings"

type DetectResult struct {
	IsReport bool
	Score    float64
	Reason   string
}

var reportKeywords = []string{
	"inventory", "hardware scan", "scan report", "sccm", "workstation",
	"asset", "roster", "reconcile", "audit",
}

// DetectInventoryReport gates fetched mail: only messages that look like a
// scan report or a roster request reach extraction. Scoring mirrors the
// keyword/attachment heuristics the rest of the pipeline relies on.
func DetectInventoryReport(subject, text, html string, attachmentNames []string) DetectResult {
	subject = strings.ToLower(subject)
	text = strings.ToLower(text)
	html = strings.ToLower(html)

	score := 0.0
	for _, kw := range reportKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) || strings.Contains(html, kw) {
			score += 0.1
		}
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".xlsx") || strings.HasSuffix(ln, ".xls") ||
			strings.HasSuffix(ln, ".csv") || strings.HasSuffix(ln, ".pdf") ||
			strings.HasSuffix(ln, ".txt") {
			score += 0.25
			break
		}
	}

	if strings.Contains(html, "<table") {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}

	isReport := score >= 0.45
	reason := "rules_negative"
	if isReport {
		reason = "rules_positive"
	}

	return DetectResult{IsReport: isReport, Score: score, Reason: reason}
}
