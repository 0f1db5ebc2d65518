package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"invrecon/internal"
	"invrecon/internal/config"
	"invrecon/internal/storage"
)

// ProcessingService turns stored report messages into canonical-table updates
// and reconciliation results.
type ProcessingService struct {
	db  *storage.DB
	cfg config.Config
	log zerolog.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, log zerolog.Logger) *ProcessingService {
	return &ProcessingService{db: db, cfg: cfg, log: log}
}

type ProcessResult struct {
	ReportID  int
	Scans     int
	Canonical int
	Matched   int
	Unmatched int
}

func (s *ProcessingService) ProcessByProviderMessageID(provider, messageID string) (ProcessResult, error) {
	report, err := s.db.MustReportByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessReport(report)
}

func (s *ProcessingService) ProcessPending(limit int, provider string) (int, error) {
	pending, err := s.db.ListReportsByStatus("fetched", limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, report := range pending {
		if provider != "" && report.Provider != provider {
			continue
		}
		if _, err := s.ProcessReport(report); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// ProcessReport extracts scan rows and roster names from one stored message.
// Scan rows update the canonical table; roster names are reconciled against
// it. A malformed scan timestamp fails the report, leaving the canonical
// table untouched.
func (s *ProcessingService) ProcessReport(report internal.ReportRow) (ProcessResult, error) {
	start := time.Now()
	raw, err := os.ReadFile(report.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}

	ext, err := ExtractFromReportEmail(raw)
	if err != nil {
		return ProcessResult{}, err
	}

	detect := DetectInventoryReport(firstNonEmpty(ext.Subject, report.Subject), ext.Text, "", ext.AttachmentNames)
	if err := s.db.ClearReportResults(report.ID); err != nil {
		return ProcessResult{}, err
	}

	if !detect.IsReport && len(ext.Scans) == 0 && len(ext.Roster) == 0 {
		_ = s.db.UpdateReportStatus(report.ID, "skipped")
		s.recordRun(report.ID, start, ProcessResult{ReportID: report.ID}, 0)
		s.log.Info().Int("reportId", report.ID).Float64("score", detect.Score).Msg("report skipped")
		return ProcessResult{ReportID: report.ID}, nil
	}

	result := ProcessResult{ReportID: report.ID, Scans: len(ext.Scans)}
	blankNames := 0

	if len(ext.Scans) > 0 {
		if err := s.db.InsertScans(report.ID, ext.Scans); err != nil {
			return ProcessResult{}, err
		}

		existing, err := s.db.ListCanonical()
		if err != nil {
			return ProcessResult{}, err
		}
		combined := append(ScansFromCanonical(existing), ext.Scans...)

		selected, err := SelectLatest(combined, SelectOptions{
			TimeLayout:    s.cfg.ScanTimeLayout,
			NormalizeKeys: s.cfg.NormalizeGroupKeys(),
		})
		if err != nil {
			_ = s.db.UpdateReportStatus(report.ID, "failed")
			return ProcessResult{}, err
		}
		blankNames = selected.BlankNamesSkipped
		if blankNames > 0 {
			s.log.Warn().Int("reportId", report.ID).Int("blankNames", blankNames).Msg("rows with blank workstation names skipped")
		}

		if err := s.db.ReplaceCanonical(report.ID, selected.Records); err != nil {
			return ProcessResult{}, err
		}
		result.Canonical = len(selected.Records)
	}

	if len(ext.Roster) > 0 {
		reference, err := s.db.ListCanonical()
		if err != nil {
			return ProcessResult{}, err
		}
		rows := LookupRows(reference, ext.Roster)
		if err := s.db.InsertLookups(report.ID, rows); err != nil {
			return ProcessResult{}, err
		}
		for _, row := range rows {
			if row.Status == internal.LookupMatched {
				result.Matched++
			} else {
				result.Unmatched++
			}
		}
	}

	if err := s.db.UpdateReportStatus(report.ID, "processed"); err != nil {
		return ProcessResult{}, err
	}
	s.recordRun(report.ID, start, result, blankNames)

	s.log.Info().
		Int("reportId", report.ID).
		Int("scans", result.Scans).
		Int("canonical", result.Canonical).
		Int("matched", result.Matched).
		Int("unmatched", result.Unmatched).
		Msg("report processed")

	return result, nil
}

func (s *ProcessingService) recordRun(reportID int, start time.Time, result ProcessResult, blankNames int) {
	_ = s.db.InsertRun(traceID(), reportID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{
			"scans":      result.Scans,
			"canonical":  result.Canonical,
			"matched":    result.Matched,
			"unmatched":  result.Unmatched,
			"blankNames": blankNames,
		})
}

// ScansFromCanonical lifts stored canonical rows back into scan records so
// the selector can arbitrate between the stored state and newly ingested rows.
func ScansFromCanonical(records []internal.CanonicalRecord) []internal.ScanRecord {
	out := make([]internal.ScanRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, internal.ScanRecord{
			WorkstationName:  rec.WorkstationName,
			LastHardwareScan: rec.LastHardwareScan,
			LastLoggedUserID: rec.LastLoggedUserID,
			PrimaryUserID:    rec.PrimaryUserID,
			IPAddress:        rec.IPAddress,
			Subnet:           rec.Subnet,
		})
	}
	return out
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
