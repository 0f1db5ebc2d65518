package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"invrecon/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS reports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS scans (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  reportId INTEGER NOT NULL,
  rowNo INTEGER NOT NULL,
  source TEXT NOT NULL,
  workstationName TEXT NOT NULL,
  lastHardwareScan TEXT,
  lastLoggedUserId TEXT,
  primaryUserId TEXT,
  ipAddress TEXT,
  subnet TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(reportId) REFERENCES reports(id)
);
CREATE INDEX IF NOT EXISTS idx_scans_report ON scans(reportId);
CREATE INDEX IF NOT EXISTS idx_scans_name ON scans(workstationName);

CREATE TABLE IF NOT EXISTS canonical (
  workstationName TEXT PRIMARY KEY,
  lastHardwareScan TEXT,
  lastLoggedUserId TEXT,
  primaryUserId TEXT,
  ipAddress TEXT,
  subnet TEXT,
  reportId INTEGER,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lookups (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  reportId INTEGER NOT NULL,
  lineNo INTEGER NOT NULL,
  pcName TEXT NOT NULL,
  status TEXT NOT NULL,
  workstationName TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(reportId, lineNo),
  FOREIGN KEY(reportId) REFERENCES reports(id)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  reportId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(reportId) REFERENCES reports(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) UpsertReport(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.ReportRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO reports (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.ReportRow{}, err
	}

	row, err := d.GetReportByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.ReportRow{}, err
	}
	if row == nil {
		return internal.ReportRow{}, errors.New("failed to upsert report")
	}
	return *row, nil
}

func (d *DB) GetReportByProviderMessageID(provider, messageID string) (*internal.ReportRow, error) {
	return d.getReport(`
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM reports WHERE provider = ? AND messageId = ?
`, provider, messageID)
}

func (d *DB) GetReportByID(id int) (*internal.ReportRow, error) {
	return d.getReport(`
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM reports WHERE id = ?
`, id)
}

func (d *DB) getReport(query string, args ...any) (*internal.ReportRow, error) {
	var row internal.ReportRow
	err := d.conn.QueryRow(query, args...).Scan(
		&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender,
		&row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) MustReportByProviderMessageID(provider, messageID string) (internal.ReportRow, error) {
	row, err := d.GetReportByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.ReportRow{}, err
	}
	if row == nil {
		return internal.ReportRow{}, fmt.Errorf("report not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

func (d *DB) ListReportsByStatus(status string, limit int) ([]internal.ReportRow, error) {
	rows, err := d.conn.Query(`
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM reports WHERE status = ? ORDER BY receivedAt ASC LIMIT ?
`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ReportRow
	for rows.Next() {
		var row internal.ReportRow
		if err := rows.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateReportStatus(reportID int, status string) error {
	_, err := d.conn.Exec(`UPDATE reports SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, reportID)
	return err
}

// ClearReportResults drops previous scans and lookups for a report so it can
// be reprocessed from its stored raw message.
func (d *DB) ClearReportResults(reportID int) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM lookups WHERE reportId = ?`, reportID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM scans WHERE reportId = ?`, reportID); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *DB) InsertScans(reportID int, records []internal.ScanRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO scans (reportId, rowNo, source, workstationName, lastHardwareScan, lastLoggedUserId, primaryUserId, ipAddress, subnet)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(
			reportID, rec.RowNo, string(rec.Source), rec.WorkstationName,
			rec.LastHardwareScan, rec.LastLoggedUserID, rec.PrimaryUserID,
			rec.IPAddress, rec.Subnet,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReplaceCanonical swaps in a freshly selected latest-state table. The
// selector is the single dedup authority, so the table is rebuilt whole
// rather than merged row by row.
func (d *DB) ReplaceCanonical(reportID int, records []internal.CanonicalRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM canonical`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
INSERT INTO canonical (workstationName, lastHardwareScan, lastLoggedUserId, primaryUserId, ipAddress, subnet, reportId)
VALUES (?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(
			rec.WorkstationName, rec.LastHardwareScan, rec.LastLoggedUserID,
			rec.PrimaryUserID, rec.IPAddress, rec.Subnet, reportID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListCanonical() ([]internal.CanonicalRecord, error) {
	rows, err := d.conn.Query(`
SELECT workstationName, lastHardwareScan, lastLoggedUserId, primaryUserId, ipAddress, subnet
FROM canonical ORDER BY workstationName ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.CanonicalRecord
	for rows.Next() {
		var rec internal.CanonicalRecord
		if err := rows.Scan(&rec.WorkstationName, &rec.LastHardwareScan, &rec.LastLoggedUserID, &rec.PrimaryUserID, &rec.IPAddress, &rec.Subnet); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d *DB) InsertLookups(reportID int, rows []internal.LookupRow) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO lookups (reportId, lineNo, pcName, status, workstationName)
VALUES (?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		var matchedName *string
		if row.Canonical != nil {
			matchedName = &row.Canonical.WorkstationName
		}
		if _, err := stmt.Exec(reportID, row.LineNo, row.PCName, string(row.Status), matchedName); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetLookupRows rejoins stored lookup outcomes with the current canonical
// table, matched lines first.
func (d *DB) GetLookupRows(reportID int) ([]internal.LookupRow, error) {
	rows, err := d.conn.Query(`
SELECT
  l.lineNo,
  l.pcName,
  l.status,
  c.workstationName,
  c.lastHardwareScan,
  c.lastLoggedUserId,
  c.primaryUserId,
  c.ipAddress,
  c.subnet
FROM lookups l
LEFT JOIN canonical c ON c.workstationName = l.workstationName
WHERE l.reportId = ?
ORDER BY
  CASE l.status WHEN 'MATCHED' THEN 1 ELSE 2 END,
  l.lineNo ASC
`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LookupRow
	for rows.Next() {
		var row internal.LookupRow
		var status string
		var name, scan, lastUser, primary, ip, subnet sql.NullString
		if err := rows.Scan(&row.LineNo, &row.PCName, &status, &name, &scan, &lastUser, &primary, &ip, &subnet); err != nil {
			return nil, err
		}
		row.Status = internal.LookupStatus(status)
		if name.Valid {
			row.Canonical = &internal.CanonicalRecord{
				WorkstationName:  name.String,
				LastHardwareScan: scan.String,
				LastLoggedUserID: lastUser.String,
				PrimaryUserID:    primary.String,
				IPAddress:        ip.String,
				Subnet:           subnet.String,
			}
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

func (d *DB) InsertRun(traceID string, reportID int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, reportId, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, reportID, string(timingsJSON), string(countsJSON))
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
