// Package audit maintains the append-only JSONL audit trail. One file per
// calendar day, one self-contained record per pipeline transition, with
// content fingerprints for integrity checking.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Step names recorded in the audit trail.
const (
	StepCollectEvidence  = "collect_evidence"
	StepExtractData      = "extract_data"
	StepValidateData     = "validate_data"
	StepGenerateReport   = "generate_report"
	StepPipelineComplete = "pipeline_complete"
)

// Record statuses.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusRetrying = "retrying"
)

// Record is one audit trail entry. Fingerprints are truncated sha256 hex
// digests of the step's input and output payloads.
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	RunID             string    `json:"run_id"`
	Step              string    `json:"step"`
	Status            string    `json:"status"`
	InputFingerprint  string    `json:"input_fingerprint"`
	OutputFingerprint string    `json:"output_fingerprint"`
	RetryCount        int       `json:"retry_count"`
	Error             string    `json:"error,omitempty"`
}

// Fingerprint returns the hex sha256 digest of data truncated to 16 chars.
func Fingerprint(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// Logger appends records to the current day's audit file. Records are
// flushed on every append so a crash mid-run loses at most the record
// being written.
type Logger struct {
	path string
	f    *os.File
}

// DayFileName returns the audit file name for a given day.
func DayFileName(day time.Time) string {
	return fmt.Sprintf("audit_%s.jsonl", day.Format("20060102"))
}

// Open opens (creating if needed) the audit file for today under dir.
func Open(dir string) (*Logger, error) {
	return OpenDay(dir, time.Now())
}

// OpenDay opens the audit file for a specific day under dir.
func OpenDay(dir string, day time.Time) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "audit: create dir %s", dir)
	}

	path := filepath.Join(dir, DayFileName(day))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: open %s", path)
	}

	return &Logger{path: path, f: f}, nil
}

// Path returns the audit file path this logger appends to.
func (l *Logger) Path() string {
	return l.path
}

// Append writes one record as a JSON line and syncs it to disk.
func (l *Logger) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "audit: marshal record")
	}

	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return eris.Wrapf(err, "audit: append to %s", l.path)
	}
	if err := l.f.Sync(); err != nil {
		return eris.Wrapf(err, "audit: sync %s", l.path)
	}

	zap.L().Debug("audit: record appended",
		zap.String("run_id", rec.RunID),
		zap.String("step", rec.Step),
		zap.String("status", rec.Status),
	)
	return nil
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	if err := l.f.Close(); err != nil {
		return eris.Wrapf(err, "audit: close %s", l.path)
	}
	return nil
}

// ReadDay parses every record in the audit file for the given day. A missing
// file yields an empty slice.
func ReadDay(dir string, day time.Time) ([]Record, error) {
	path := filepath.Join(dir, DayFileName(day))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "audit: read %s", path)
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "audit: decode record %d in %s", len(records)+1, path)
		}
		records = append(records, rec)
	}
	return records, nil
}
