package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"invrecon/internal"
	"invrecon/internal/config"
	"invrecon/internal/connectors"
	gmailconnector "invrecon/internal/connectors/gmail"
	imapconnector "invrecon/internal/connectors/imap"
	"invrecon/internal/listener"
	"invrecon/internal/logging"
	"invrecon/internal/pipeline"
	"invrecon/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	selectOpts := pipeline.SelectOptions{
		TimeLayout:    cfg.ScanTimeLayout,
		NormalizeKeys: cfg.NormalizeGroupKeys(),
	}

	cmd := os.Args[1]
	switch cmd {
	case "select":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "scan report file (xlsx|csv)")
		out := fs.String("out", "", "output path (.csv or .xlsx)")
		_ = fs.Parse(os.Args[2:])
		if *input == "" || *out == "" {
			must(fmt.Errorf("--input and --out are required"))
		}

		scans, err := pipeline.ParseScanFile(*input)
		must(err)
		result, err := pipeline.SelectLatest(scans, selectOpts)
		must(err)
		if result.BlankNamesSkipped > 0 {
			log.Warn().Int("blankNames", result.BlankNamesSkipped).Msg("rows with blank workstation names skipped")
		}
		must(exportCanonical(result.Records, *out))
		fmt.Printf("selected %d canonical records from %d scans -> %s\n", len(result.Records), len(scans), *out)

	case "reconcile":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		roster := fs.String("roster", "", "roster file (xlsx|csv|txt|pdf)")
		reference := fs.String("reference", "", "reference table file; defaults to the stored canonical table")
		outdir := fs.String("outdir", cfg.OutputDir, "directory for matched.csv and unmatched.csv")
		_ = fs.Parse(os.Args[2:])
		if *roster == "" {
			must(fmt.Errorf("--roster is required"))
		}

		entries, err := pipeline.ParseRosterFile(*roster)
		must(err)
		refRecords, err := loadReference(db, *reference)
		must(err)

		result := pipeline.Reconcile(refRecords, entries)
		matchedPath := filepath.Join(*outdir, "matched.csv")
		unmatchedPath := filepath.Join(*outdir, "unmatched.csv")
		must(pipeline.ExportReconcileCSV(result, matchedPath, unmatchedPath))
		fmt.Printf("reconciled %d roster entries: matched=%d unmatched=%d -> %s\n",
			len(entries), len(result.Matched), len(result.Unmatched), *outdir)

	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "scan report file (xlsx|csv)")
		roster := fs.String("roster", "", "roster file (xlsx|csv|txt|pdf)")
		outdir := fs.String("outdir", cfg.OutputDir, "output directory")
		_ = fs.Parse(os.Args[2:])
		if *input == "" || *roster == "" {
			must(fmt.Errorf("--input and --roster are required"))
		}

		scans, err := pipeline.ParseScanFile(*input)
		must(err)
		selected, err := pipeline.SelectLatest(scans, selectOpts)
		must(err)
		if selected.BlankNamesSkipped > 0 {
			log.Warn().Int("blankNames", selected.BlankNamesSkipped).Msg("rows with blank workstation names skipped")
		}
		entries, err := pipeline.ParseRosterFile(*roster)
		must(err)
		result := pipeline.Reconcile(selected.Records, entries)

		must(pipeline.ExportCanonicalCSV(selected.Records, filepath.Join(*outdir, "canonical.csv")))
		must(pipeline.ExportReconcileCSV(result,
			filepath.Join(*outdir, "matched.csv"),
			filepath.Join(*outdir, "unmatched.csv")))
		fmt.Printf("run done: canonical=%d matched=%d unmatched=%d -> %s\n",
			len(selected.Records), len(result.Matched), len(result.Unmatched), *outdir)

	case "canonical:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "scan report file (xlsx|csv)")
		_ = fs.Parse(os.Args[2:])
		if *input == "" {
			must(fmt.Errorf("--input is required"))
		}

		scans, err := pipeline.ParseScanFile(*input)
		must(err)
		existing, err := db.ListCanonical()
		must(err)
		combined := append(pipeline.ScansFromCanonical(existing), scans...)
		selected, err := pipeline.SelectLatest(combined, selectOpts)
		must(err)
		if selected.BlankNamesSkipped > 0 {
			log.Warn().Int("blankNames", selected.BlankNamesSkipped).Msg("rows with blank workstation names skipped")
		}
		must(db.ReplaceCanonical(0, selected.Records))
		fmt.Printf("canonical table now holds %d workstations (+%d scans ingested)\n", len(selected.Records), len(scans))

	case "canonical:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output path (.csv or .xlsx)")
		_ = fs.Parse(os.Args[2:])
		if *out == "" {
			must(fmt.Errorf("--out is required"))
		}

		records, err := db.ListCanonical()
		must(err)
		must(exportCanonical(records, *out))
		fmt.Printf("exported %d canonical records to %s\n", len(records), *out)

	case "report:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		reportID := fs.Int("reportId", 0, "internal report id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *reportID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--reportId and --out are required"))
		}

		rows, err := db.GetLookupRows(*reportID)
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no lookup rows for reportId=%d", *reportID))
		}
		must(pipeline.ExportLookupsXLSX(rows, *out))
		fmt.Printf("exported %d lookup rows to %s\n", len(rows), *out)

	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.ListenerProvider, "imap|gmail")
		label := fs.String("label", cfg.ListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])

		conn, err := makeConnector(cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn)
		result, err := fetch.FetchAndStore(*label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)

	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.ListenerProvider, "imap|gmail")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])

		processor := pipeline.NewProcessingService(db, cfg, log)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(*provider, *messageID)
			must(err)
			fmt.Printf("processed report id=%d scans=%d matched=%d unmatched=%d\n", res.ReportID, res.Scans, res.Matched, res.Unmatched)
			return
		}
		processed, err := processor.ProcessPending(*batch, *provider)
		must(err)
		fmt.Printf("processed pending reports=%d\n", processed)

	case "mail:listen":
		s := listener.NewService(db, cfg, log)
		must(s.Run(context.Background()))

	default:
		usage()
		os.Exit(1)
	}
}

func loadReference(db *storage.DB, path string) ([]internal.CanonicalRecord, error) {
	if strings.TrimSpace(path) != "" {
		return pipeline.LoadReference(path)
	}
	return db.ListCanonical()
}

func exportCanonical(records []internal.CanonicalRecord, out string) error {
	if strings.EqualFold(filepath.Ext(out), ".xlsx") {
		return pipeline.ExportCanonicalXLSX(records, out)
	}
	return pipeline.ExportCanonicalCSV(records, out)
}

func makeConnector(cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func usage() {
	fmt.Println("usage: invrecon <command>")
	fmt.Println("commands:")
	fmt.Println("  select            --input=scans.xlsx --out=canonical.csv")
	fmt.Println("  reconcile         --roster=roster.txt [--reference=canonical.csv] [--outdir=./out]")
	fmt.Println("  run               --input=scans.xlsx --roster=roster.txt [--outdir=./out]")
	fmt.Println("  canonical:import  --input=scans.xlsx")
	fmt.Println("  canonical:export  --out=canonical.csv")
	fmt.Println("  report:export     --reportId=1 --out=./out/report.xlsx")
	fmt.Println("  mail:fetch        --provider=imap|gmail --label=INBOX --max=50")
	fmt.Println("  mail:process      --provider=imap|gmail [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
