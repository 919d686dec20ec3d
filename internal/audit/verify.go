package audit

import (
	"fmt"
	"time"
)

// Violation describes one integrity problem found in a day's audit trail.
type Violation struct {
	RunID  string
	Index  int
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("run %s record %d: %s", v.RunID, v.Index, v.Detail)
}

// stepOrder ranks steps by pipeline position for transition checking.
// validate_data may be revisited after a retrying record.
var stepOrder = map[string]int{
	StepCollectEvidence:  0,
	StepExtractData:      1,
	StepValidateData:     2,
	StepGenerateReport:   3,
	StepPipelineComplete: 4,
}

// validNext lists the steps that may legally follow each step within a run.
var validNext = map[string][]string{
	StepCollectEvidence:  {StepExtractData, StepPipelineComplete},
	StepExtractData:      {StepExtractData, StepValidateData, StepPipelineComplete},
	StepValidateData:     {StepExtractData, StepGenerateReport, StepPipelineComplete},
	StepGenerateReport:   {StepPipelineComplete},
	StepPipelineComplete: {},
}

// VerifyDay re-reads a day's audit file and checks that every run's records
// form a valid pipeline path: known steps, legal transitions, monotonically
// non-decreasing timestamps, a non-decreasing retry count, at most one
// retrying record, and a re-extraction only after a retrying record.
func VerifyDay(dir string, day time.Time) (int, []Violation, error) {
	records, err := ReadDay(dir, day)
	if err != nil {
		return 0, nil, err
	}

	type runTrail struct {
		recs    []Record
		indexes []int
	}

	trails := make(map[string]*runTrail)
	order := make([]string, 0)
	for i, rec := range records {
		t, ok := trails[rec.RunID]
		if !ok {
			t = &runTrail{}
			trails[rec.RunID] = t
			order = append(order, rec.RunID)
		}
		t.recs = append(t.recs, rec)
		t.indexes = append(t.indexes, i)
	}

	var violations []Violation
	for _, runID := range order {
		violations = append(violations, verifyRun(runID, trails[runID].recs)...)
	}

	return len(records), violations, nil
}

func verifyRun(runID string, recs []Record) []Violation {
	var violations []Violation
	add := func(i int, format string, args ...any) {
		violations = append(violations, Violation{
			RunID:  runID,
			Index:  i,
			Detail: fmt.Sprintf(format, args...),
		})
	}

	retrying := 0
	for i, rec := range recs {
		if _, known := stepOrder[rec.Step]; !known {
			add(i, "unknown step %q", rec.Step)
			continue
		}

		switch rec.Status {
		case StatusSuccess, StatusFailure:
		case StatusRetrying:
			retrying++
			if rec.Step != StepValidateData && rec.Step != StepExtractData {
				add(i, "retrying status on step %q", rec.Step)
			}
		default:
			add(i, "unknown status %q", rec.Status)
		}

		if i == 0 {
			// A run that fails before its first step leaves only the
			// final record.
			if rec.Step != StepCollectEvidence && rec.Step != StepPipelineComplete {
				add(i, "run starts at %q, want %q", rec.Step, StepCollectEvidence)
			}
			continue
		}

		prev := recs[i-1]
		if rec.Timestamp.Before(prev.Timestamp) {
			add(i, "timestamp regresses: %s before %s",
				rec.Timestamp.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))
		}
		if rec.RetryCount < prev.RetryCount {
			add(i, "retry count regresses: %d after %d", rec.RetryCount, prev.RetryCount)
		}

		if !transitionAllowed(prev, rec) {
			add(i, "illegal transition %s -> %s", prev.Step, rec.Step)
		}
	}

	if retrying > 1 {
		add(len(recs)-1, "%d retrying records, want at most 1", retrying)
	}

	if n := len(recs); n > 0 {
		last := recs[n-1]
		if last.Step != StepPipelineComplete {
			add(n-1, "run ends at %q, want %q", last.Step, StepPipelineComplete)
		}
	}

	return violations
}

func transitionAllowed(prev, cur Record) bool {
	// A non-retryable failure short-circuits to the final record.
	if prev.Status == StatusFailure {
		return cur.Step == StepPipelineComplete
	}

	for _, next := range validNext[prev.Step] {
		if cur.Step != next {
			continue
		}
		// Looping back to extraction is only legal off a retrying record.
		if cur.Step == StepExtractData && (prev.Step == StepValidateData || prev.Step == StepExtractData) {
			return prev.Status == StatusRetrying
		}
		return true
	}
	return false
}
