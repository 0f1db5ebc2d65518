package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invrecon/internal/config"
	"invrecon/internal/connectors"
	gmailconnector "invrecon/internal/connectors/gmail"
	imapconnector "invrecon/internal/connectors/imap"
	"invrecon/internal/pipeline"
	"invrecon/internal/storage"
)

// Service polls a mailbox for inventory reports: fetch, process, and export
// the refreshed canonical table plus per-report reconciliation workbooks.
type Service struct {
	db  *storage.DB
	cfg config.Config
	log zerolog.Logger
}

func NewService(db *storage.DB, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{db: db, cfg: cfg, log: log}
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ListenerIntervalSec) * time.Second
	for {
		if err := s.runCycle(); err != nil {
			s.log.Error().Err(err).Msg("listener cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) runCycle() error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.ListenerProvider))
	connector, err := s.makeConnector(provider)
	if err != nil {
		return err
	}

	fetch := connectors.NewFetchService(s.db, s.cfg.RawMailDir, connector)
	fetchResult, err := fetch.FetchAndStore(s.cfg.ListenerLabel, s.cfg.ListenerFetchMax)
	if err != nil {
		return err
	}

	processor := pipeline.NewProcessingService(s.db, s.cfg, s.log)
	processed, err := processor.ProcessPending(s.cfg.ListenerBatch, provider)
	if err != nil {
		return err
	}

	if s.cfg.ListenerAutoExport && processed > 0 {
		if err := s.exportProcessed(provider); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("provider", provider).
		Int("fetched", fetchResult.Fetched).
		Int("stored", fetchResult.Stored).
		Int("processed", processed).
		Msg("listener cycle done")
	return nil
}

func (s *Service) exportProcessed(provider string) error {
	records, err := s.db.ListCanonical()
	if err != nil {
		return err
	}
	canonicalPath := filepath.Join(s.cfg.OutputDir, "listener", "canonical.csv")
	if err := pipeline.ExportCanonicalCSV(records, canonicalPath); err != nil {
		return err
	}

	reports, err := s.db.ListReportsByStatus("processed", 200)
	if err != nil {
		return err
	}
	for _, report := range reports {
		if report.Provider != provider {
			continue
		}
		rows, err := s.db.GetLookupRows(report.ID)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			filename := fmt.Sprintf("%d_%s.xlsx", report.ID, sanitizeMessageID(report.MessageID))
			outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
			if err := pipeline.ExportLookupsXLSX(rows, outputPath); err != nil {
				return err
			}
		}
		_ = s.db.UpdateReportStatus(report.ID, "exported")
	}
	return nil
}

func (s *Service) makeConnector(provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
