package internal

type RowSource string

const (
	SourceXLSX           RowSource = "xlsx"
	SourceCSV            RowSource = "csv"
	SourceEmailText      RowSource = "email_text"
	SourceEmailHTMLTable RowSource = "email_html_table"
	SourcePDF            RowSource = "pdf"
)

// ScanRecord is one hardware-scan observation as ingested, fields kept
// verbatim. LastHardwareScan stays a raw string until the selector parses it.
type ScanRecord struct {
	WorkstationName  string
	LastHardwareScan string
	LastLoggedUserID string
	PrimaryUserID    string
	IPAddress        string
	Subnet           string
	Source           RowSource
	RowNo            int
}

// CanonicalRecord is the latest known state of one workstation: the selected
// scan projected down to the reported field set.
type CanonicalRecord struct {
	WorkstationName  string
	LastHardwareScan string
	LastLoggedUserID string
	PrimaryUserID    string
	IPAddress        string
	Subnet           string
}

// RosterEntry is one name to look up. PCName is never mutated; normalization
// happens on a derived key so unmatched output carries the original spelling.
type RosterEntry struct {
	PCName string
	LineNo int
	Source RowSource
}

type LookupStatus string

const (
	LookupMatched   LookupStatus = "MATCHED"
	LookupUnmatched LookupStatus = "UNMATCHED"
)

// LookupRow is one persisted reconciliation outcome: the roster entry plus
// the canonical record it resolved to, if any.
type LookupRow struct {
	LineNo    int
	PCName    string
	Status    LookupStatus
	Canonical *CanonicalRecord
}

// ReportRow tracks one fetched report message through its lifecycle
// (fetched -> processed|skipped -> exported).
type ReportRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedReportMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
