package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"invrecon/internal"
	"invrecon/internal/util"
)

// Column probes for SCCM-style hardware scan exports. Header matching is
// case-insensitive substring, most specific probe first.
var (
	nameProbes     = []string{"workstation", "computer name", "machine name", "device name", "pc name", "hostname", "name"}
	scanProbes     = []string{"last hardware scan", "hardware scan", "last scan", "scan date", "scan time"}
	lastUserProbes = []string{"last logged", "last logon user", "logged user"}
	primaryProbes  = []string{"primary user", "top console user"}
	ipProbes       = []string{"ip address", "ipaddress", "ip"}
	subnetProbes   = []string{"subnet"}

	rosterProbes = []string{"pc name", "workstation", "computer", "machine", "hostname", "name"}

	// A roster line pasted into an email body is a single host-like token.
	hostTokenPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{2,62}$`)

	signaturePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^--+$`),
		regexp.MustCompile(`(?i)^(kind |best )?regards`),
		regexp.MustCompile(`(?i)^thanks`),
		regexp.MustCompile(`(?i)^sent from`),
		regexp.MustCompile(`(?i)^(tel|phone|mobile)[:\s]`),
		regexp.MustCompile(`(?i)^e-?mail[:\s]`),
		regexp.MustCompile(`(?i)^http`),
	}
)

type scanColumns struct {
	name, scan, lastUser, primary, ip, subnet int
}

// ParseScanFile reads a scan report from disk, dispatching on extension.
func ParseScanFile(path string) ([]internal.ScanRecord, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return ParseScanXLSX(blob)
	case ".csv":
		return ParseScanCSV(blob)
	default:
		return nil, fmt.Errorf("unsupported scan report format: %s", path)
	}
}

func ParseScanXLSX(content []byte) ([]internal.ScanRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// First sheet that yields a workstation-name column wins; multi-sheet
	// merging is out of scope.
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		records := scanRecordsFromRows(rows, internal.SourceXLSX)
		if len(records) > 0 {
			return records, nil
		}
	}
	return nil, fmt.Errorf("no sheet with a workstation name column")
}

func ParseScanCSV(content []byte) ([]internal.ScanRecord, error) {
	rows, err := readCSV(content)
	if err != nil {
		return nil, err
	}
	records := scanRecordsFromRows(rows, internal.SourceCSV)
	if len(records) == 0 {
		return nil, fmt.Errorf("no workstation name column found")
	}
	return records, nil
}

// scanRecordsFromRows infers the header row within the first few rows, then
// maps the remainder. Returns nil when no name column can be located.
func scanRecordsFromRows(rows [][]string, source internal.RowSource) []internal.ScanRecord {
	headerRow := -1
	var cols scanColumns
	for i := 0; i < len(rows) && i < 5; i++ {
		candidate := inferScanColumns(normalizeCells(rows[i]))
		if candidate.name >= 0 {
			headerRow = i
			cols = candidate
			break
		}
	}
	if headerRow < 0 {
		return nil
	}

	out := make([]internal.ScanRecord, 0, len(rows)-headerRow-1)
	for i := headerRow + 1; i < len(rows); i++ {
		cells := normalizeCells(rows[i])
		if len(cells) == 0 {
			continue
		}
		rec := internal.ScanRecord{
			WorkstationName:  pickCell(cells, cols.name),
			LastHardwareScan: pickCell(cells, cols.scan),
			LastLoggedUserID: pickCell(cells, cols.lastUser),
			PrimaryUserID:    pickCell(cells, cols.primary),
			IPAddress:        pickCell(cells, cols.ip),
			Subnet:           pickCell(cells, cols.subnet),
			Source:           source,
			RowNo:            i + 1,
		}
		if rec.WorkstationName == "" && rec.LastHardwareScan == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func inferScanColumns(headers []string) scanColumns {
	lower := make([]string, 0, len(headers))
	for _, h := range headers {
		// Exports vary between "Last Hardware Scan" and last_hardware_scan.
		lower = append(lower, strings.ReplaceAll(strings.ToLower(h), "_", " "))
	}
	return scanColumns{
		name:     findHeaderIndex(lower, nameProbes),
		scan:     findHeaderIndex(lower, scanProbes),
		lastUser: findHeaderIndex(lower, lastUserProbes),
		primary:  findHeaderIndex(lower, primaryProbes),
		ip:       findHeaderIndex(lower, ipProbes),
		subnet:   findHeaderIndex(lower, subnetProbes),
	}
}

// LoadReference reads a previously exported canonical table (or any
// scan-shaped table) for use as the reconciliation reference.
func LoadReference(path string) ([]internal.CanonicalRecord, error) {
	scans, err := ParseScanFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]internal.CanonicalRecord, 0, len(scans))
	for _, rec := range scans {
		out = append(out, project(rec))
	}
	return out, nil
}

// ParseRosterFile reads a roster from disk, dispatching on extension.
func ParseRosterFile(path string) ([]internal.RosterEntry, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return ParseRosterXLSX(blob)
	case ".csv":
		return ParseRosterCSV(blob)
	case ".pdf":
		return ParseRosterPDF(blob)
	default:
		return ParseRosterText(string(blob)), nil
	}
}

func ParseRosterXLSX(content []byte) ([]internal.RosterEntry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		entries := rosterFromRows(rows, internal.SourceXLSX)
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, fmt.Errorf("no roster names found")
}

func ParseRosterCSV(content []byte) ([]internal.RosterEntry, error) {
	rows, err := readCSV(content)
	if err != nil {
		return nil, err
	}
	entries := rosterFromRows(rows, internal.SourceCSV)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no roster names found")
	}
	return entries, nil
}

// rosterFromRows picks the column whose header matches a roster probe,
// falling back to the first column for headerless lists.
func rosterFromRows(rows [][]string, source internal.RowSource) []internal.RosterEntry {
	col := 0
	start := 0
	if len(rows) > 0 {
		headers := normalizeCells(rows[0])
		lower := make([]string, 0, len(headers))
		for _, h := range headers {
			lower = append(lower, strings.ReplaceAll(strings.ToLower(h), "_", " "))
		}
		if idx := findHeaderIndex(lower, rosterProbes); idx >= 0 {
			col = idx
			start = 1
		}
	}

	out := make([]internal.RosterEntry, 0, len(rows))
	lineNo := 0
	for i := start; i < len(rows); i++ {
		name := pickCell(normalizeCells(rows[i]), col)
		if name == "" {
			continue
		}
		lineNo++
		out = append(out, internal.RosterEntry{PCName: name, LineNo: lineNo, Source: source})
	}
	return out
}

// ParseRosterText extracts host-like tokens from free text, one per line,
// skipping signature and URL noise.
func ParseRosterText(text string) []internal.RosterEntry {
	out := make([]internal.RosterEntry, 0)
	lineNo := 0
	for _, line := range splitLines(text) {
		if isSignatureNoise(line) {
			continue
		}
		if !hostTokenPattern.MatchString(line) {
			continue
		}
		lineNo++
		out = append(out, internal.RosterEntry{PCName: line, LineNo: lineNo, Source: internal.SourceEmailText})
	}
	return out
}

func ParseRosterPDF(content []byte) ([]internal.RosterEntry, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	out := make([]internal.RosterEntry, 0)
	lineNo := 0
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, line := range splitLines(text) {
			if !hostTokenPattern.MatchString(line) {
				continue
			}
			lineNo++
			out = append(out, internal.RosterEntry{PCName: line, LineNo: lineNo, Source: internal.SourcePDF})
		}
	}
	return out, nil
}

// ReportExtraction is everything pulled out of one report email.
type ReportExtraction struct {
	Scans           []internal.ScanRecord
	Roster          []internal.RosterEntry
	Subject         string
	Text            string
	AttachmentNames []string
}

// ExtractFromReportEmail decodes a raw MIME message and pulls scan rows and
// roster names from attachments, HTML tables and the plain-text body.
func ExtractFromReportEmail(raw []byte) (ReportExtraction, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ReportExtraction{}, err
	}

	ext := ReportExtraction{Subject: env.GetHeader("Subject"), Text: env.Text}

	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		ext.AttachmentNames = append(ext.AttachmentNames, filename)
		lower := strings.ToLower(filename)

		switch {
		case strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls"):
			if scans, err := ParseScanXLSX(att.Content); err == nil {
				ext.Scans = append(ext.Scans, scans...)
			} else if roster, err := ParseRosterXLSX(att.Content); err == nil {
				ext.Roster = append(ext.Roster, roster...)
			}
		case strings.HasSuffix(lower, ".csv"):
			if scans, err := ParseScanCSV(att.Content); err == nil {
				ext.Scans = append(ext.Scans, scans...)
			} else if roster, err := ParseRosterCSV(att.Content); err == nil {
				ext.Roster = append(ext.Roster, roster...)
			}
		case strings.HasSuffix(lower, ".txt"):
			ext.Roster = append(ext.Roster, ParseRosterText(string(att.Content))...)
		case strings.HasSuffix(lower, ".pdf"):
			if roster, err := ParseRosterPDF(att.Content); err == nil {
				ext.Roster = append(ext.Roster, roster...)
			}
		}
	}

	if env.HTML != "" {
		scans, roster := parseHTMLTables(env.HTML)
		ext.Scans = append(ext.Scans, scans...)
		ext.Roster = append(ext.Roster, roster...)
	}
	if env.Text != "" && len(ext.Scans) == 0 && len(ext.Roster) == 0 {
		ext.Roster = ParseRosterText(env.Text)
	}

	renumberRoster(ext.Roster)
	return ext, nil
}

// parseHTMLTables reads tables embedded in an email body. Tables whose header
// row carries scan columns become scan rows; single-purpose name tables
// become roster entries.
func parseHTMLTables(html string) ([]internal.ScanRecord, []internal.RosterEntry) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil
	}

	var scans []internal.ScanRecord
	var roster []internal.RosterEntry

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		trs := table.Find("tr")
		if trs.Length() < 2 {
			return
		}
		rows := make([][]string, 0, trs.Length())
		trs.Each(func(_ int, tr *goquery.Selection) {
			cells := []string{}
			tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			rows = append(rows, cells)
		})

		cols := inferScanColumns(normalizeCells(rows[0]))
		if cols.name >= 0 && cols.scan >= 0 {
			scans = append(scans, scanRecordsFromRows(rows, internal.SourceEmailHTMLTable)...)
			return
		}
		for _, entry := range rosterFromRows(rows, internal.SourceEmailHTMLTable) {
			roster = append(roster, entry)
		}
	})

	return scans, roster
}

func renumberRoster(roster []internal.RosterEntry) {
	for i := range roster {
		roster[i].LineNo = i + 1
	}
}

func readCSV(content []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// findHeaderIndex tries probes in order, so more specific probes win across
// all columns. Probes of one or two characters (like "ip") must match the
// whole header to avoid substring false positives.
func findHeaderIndex(headers []string, probes []string) int {
	for _, probe := range probes {
		for i, h := range headers {
			if len(probe) <= 2 {
				if h == probe {
					return i
				}
				continue
			}
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}

func pickCell(cells []string, idx int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	return ""
}

func normalizeCells(row []string) []string {
	out := make([]string, 0, len(row))
	for _, c := range row {
		out = append(out, util.CollapseSpaces(c))
	}
	return out
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isSignatureNoise(line string) bool {
	for _, re := range signaturePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
