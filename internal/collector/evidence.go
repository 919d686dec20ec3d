package collector

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// SaveEvidence writes the captured HTML to a create-only file under dir,
// named by the capture timestamp. A prior file is never overwritten: on a
// name collision a numeric suffix is appended.
func SaveEvidence(dir string, ev *Evidence) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "evidence: create dir %s", dir)
	}

	stamp := ev.CapturedAt.Format("20060102_150405")
	for i := 0; ; i++ {
		name := fmt.Sprintf("raw_%s.html", stamp)
		if i > 0 {
			name = fmt.Sprintf("raw_%s_%d.html", stamp, i)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", eris.Wrapf(err, "evidence: create %s", path)
		}

		if _, err := f.WriteString(ev.HTML); err != nil {
			_ = f.Close()
			return "", eris.Wrapf(err, "evidence: write %s", path)
		}
		if err := f.Close(); err != nil {
			return "", eris.Wrapf(err, "evidence: close %s", path)
		}
		return path, nil
	}
}
