// Package report renders the final run state into a fixed-section textual
// report and persists it under the reports directory.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compliance-cli/internal/model"
)

const notFound = "Not found"

// Render produces the report text for a finished run. The output is stable
// for identical states except for the generation timestamp.
func Render(s *model.RunState, generatedAt time.Time) string {
	var b strings.Builder

	b.WriteString("COMPANY PROFILE EXTRACTION REPORT\n")
	b.WriteString("=================================\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Source URL: %s\n", s.URL)
	fmt.Fprintf(&b, "Run ID: %s\n\n", s.RunID)

	b.WriteString("EXTRACTED INFORMATION\n")
	b.WriteString("---------------------\n")
	for _, key := range model.FieldOrder {
		value := s.ExtractedFields[key]
		if value == "" {
			value = notFound
		}
		fmt.Fprintf(&b, "%s: %s\n", model.FieldLabels[key], value)
	}
	b.WriteString("\n")

	b.WriteString("EVIDENCE FILES\n")
	b.WriteString("--------------\n")
	if s.EvidencePath != "" {
		fmt.Fprintf(&b, "Raw HTML: %s\n", s.EvidencePath)
		if !s.CapturedAt.IsZero() {
			fmt.Fprintf(&b, "Captured: %s\n", s.CapturedAt.Format("2006-01-02 15:04:05"))
		}
	} else {
		b.WriteString("No evidence captured\n")
	}
	b.WriteString("\n")

	b.WriteString("EXTRACTION STATUS\n")
	b.WriteString("-----------------\n")
	fmt.Fprintf(&b, "Validation: %s\n", s.ValidationStatus)
	fmt.Fprintf(&b, "Fields Extracted: %d/%d\n", s.FieldsFound(), len(model.FieldOrder))
	fmt.Fprintf(&b, "Retry Attempts: %d\n", s.RetryCount)
	if len(s.MissingFields) > 0 {
		fmt.Fprintf(&b, "Missing Fields: %s\n", strings.Join(s.MissingFields, ", "))
	}

	return b.String()
}

// Write renders the report and persists it to a create-only file under dir,
// named by the generation timestamp. On a name collision a numeric suffix is
// appended rather than overwriting.
func Write(dir string, s *model.RunState, generatedAt time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create dir %s", dir)
	}

	text := Render(s, generatedAt)

	stamp := generatedAt.Format("20060102_150405")
	for i := 0; ; i++ {
		name := fmt.Sprintf("report_%s.txt", stamp)
		if i > 0 {
			name = fmt.Sprintf("report_%s_%d.txt", stamp, i)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", eris.Wrapf(err, "report: create %s", path)
		}

		if _, err := f.WriteString(text); err != nil {
			_ = f.Close()
			return "", eris.Wrapf(err, "report: write %s", path)
		}
		if err := f.Close(); err != nil {
			return "", eris.Wrapf(err, "report: close %s", path)
		}
		return path, nil
	}
}
