package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compliance-cli/internal/audit"
	"github.com/sells-group/compliance-cli/internal/collector"
	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/store"
)

const testURL = "https://acme.example"

func fullFields() map[string]string {
	return map[string]string{
		"company_name":  "Acme GmbH",
		"contact_email": "info@acme.de",
		"phone_number":  "+49 221 975 8200",
		"address":       "Domstr. 1, 50668 Köln",
		"about_us_text": "Wir sind Acme.",
	}
}

func partialFields() map[string]string {
	return map[string]string{
		"company_name":  "Acme GmbH",
		"contact_email": "info@acme.de",
		"about_us_text": "Wir sind Acme.",
	}
}

func goodEvidence() *collector.Evidence {
	return &collector.Evidence{
		HTML:       "<html><body>Acme GmbH, info@acme.de</body></html>",
		CapturedAt: time.Now().UTC(),
		Source:     "browser",
	}
}

type testEnv struct {
	pipeline *Pipeline
	store    store.Store
	logsDir  string
}

func newTestEnv(t *testing.T, coll *mockCollector, ext *mockExtractor) *testEnv {
	t.Helper()

	base := t.TempDir()
	dirs := config.DirsConfig{
		Evidence: base + "/evidence",
		Reports:  base + "/reports",
		Logs:     base + "/logs",
	}

	st, err := store.NewSQLite(base + "/runs.db")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	al, err := audit.Open(dirs.Logs)
	require.NoError(t, err)
	t.Cleanup(func() { al.Close() })

	return &testEnv{
		pipeline: New(coll, ext, st, al, dirs, model.MaxRetries),
		store:    st,
		logsDir:  dirs.Logs,
	}
}

func (e *testEnv) records(t *testing.T) []audit.Record {
	t.Helper()
	recs, err := audit.ReadDay(e.logsDir, time.Now())
	require.NoError(t, err)
	return recs
}

func steps(recs []audit.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Step
	}
	return out
}

func TestRun_HappyPath(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)

	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, 0).
		Return(fullFields(), model.TokenUsage{InputTokens: 100, OutputTokens: 50}, nil)

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSuccess, s.FinalStatus)
	assert.Equal(t, model.ValidationValid, s.ValidationStatus)
	assert.Equal(t, 0, s.RetryCount)
	assert.Equal(t, 5, s.FieldsFound())
	assert.Equal(t, 100, s.Usage.InputTokens)

	recs := env.records(t)
	assert.Equal(t, []string{
		audit.StepCollectEvidence,
		audit.StepExtractData,
		audit.StepValidateData,
		audit.StepGenerateReport,
		audit.StepPipelineComplete,
	}, steps(recs))
	for _, r := range recs {
		assert.Equal(t, audit.StatusSuccess, r.Status)
		assert.Len(t, r.InputFingerprint, 16)
		assert.Len(t, r.OutputFingerprint, 16)
	}

	_, err = os.Stat(s.EvidencePath)
	assert.NoError(t, err, "evidence file must exist")
	_, err = os.Stat(s.ReportPath)
	assert.NoError(t, err, "report file must exist")

	run, err := env.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, 5, run.FieldsFound)
}

func TestRun_RetryThenSuccess(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)

	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, 0).
		Return(partialFields(), model.TokenUsage{}, nil).Once()
	ext.On("Extract", mock.Anything, mock.Anything, 1).
		Return(fullFields(), model.TokenUsage{}, nil).Once()

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSuccess, s.FinalStatus)
	assert.Equal(t, 1, s.RetryCount)

	recs := env.records(t)
	assert.Equal(t, []string{
		audit.StepCollectEvidence,
		audit.StepExtractData,
		audit.StepValidateData,
		audit.StepExtractData,
		audit.StepValidateData,
		audit.StepGenerateReport,
		audit.StepPipelineComplete,
	}, steps(recs))
	assert.Equal(t, audit.StatusRetrying, recs[2].Status)
	ext.AssertExpectations(t)
}

func TestRun_RetryExhaustedIsPartialExtraction(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)

	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(partialFields(), model.TokenUsage{}, nil)

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err, "partial extraction is not a run failure")

	assert.Equal(t, model.RunStatusPartialExtraction, s.FinalStatus)
	assert.Equal(t, model.ValidationInvalid, s.ValidationStatus)
	assert.Equal(t, 1, s.RetryCount)
	assert.Equal(t, []string{"phone_number", "address"}, s.MissingFields)
	assert.Equal(t, 3, s.FieldsFound())

	recs := env.records(t)
	require.Len(t, recs, 7)
	retrying := 0
	for _, r := range recs {
		if r.Status == audit.StatusRetrying {
			retrying++
		}
	}
	assert.Equal(t, 1, retrying, "exactly one retrying record")

	data, err := os.ReadFile(s.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Fields Extracted: 3/5")
	assert.Contains(t, string(data), "Phone Number: Not found")
}

func TestRun_CollectorFailure(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(nil, assert.AnError)

	ext := &mockExtractor{}

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, s.FinalStatus)
	require.NotNil(t, s.Err)
	assert.Equal(t, model.ErrEvidenceCollection, s.Err.Kind)
	assert.Empty(t, s.ReportPath, "no report on the failure branch")

	recs := env.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.StepCollectEvidence, recs[0].Step)
	assert.Equal(t, audit.StatusFailure, recs[0].Status)
	assert.NotEmpty(t, recs[0].Error)
	assert.Equal(t, audit.StepPipelineComplete, recs[1].Step)

	ext.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)

	run, err := env.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.Error)
	assert.Equal(t, model.ErrEvidenceCollection, run.Error.Kind)
}

func TestRun_ExtractionErrorIsRetried(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)

	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, 0).
		Return(nil, model.TokenUsage{}, assert.AnError).Once()
	ext.On("Extract", mock.Anything, mock.Anything, 1).
		Return(fullFields(), model.TokenUsage{}, nil).Once()

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSuccess, s.FinalStatus)
	assert.Equal(t, 1, s.RetryCount)

	recs := env.records(t)
	require.Len(t, recs, 6)
	assert.Equal(t, audit.StepExtractData, recs[1].Step)
	assert.Equal(t, audit.StatusRetrying, recs[1].Status)
	ext.AssertExpectations(t)
}

func TestRun_ExtractionErrorExhaustsBudget(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)

	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, model.TokenUsage{}, assert.AnError)

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, s.FinalStatus)
	require.NotNil(t, s.Err)
	assert.Equal(t, model.ErrExtraction, s.Err.Kind)

	recs := env.records(t)
	require.Len(t, recs, 4)
	assert.Equal(t, audit.StatusRetrying, recs[1].Status)
	assert.Equal(t, audit.StatusFailure, recs[2].Status)
}

// brokenStore fails every write so the pipeline never gets past run setup.
type brokenStore struct{}

func (brokenStore) CreateRun(ctx context.Context, runID, url string) (*model.Run, error) {
	return nil, assert.AnError
}

func (brokenStore) CompleteRun(ctx context.Context, run *model.Run) error { return assert.AnError }

func (brokenStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return nil, assert.AnError
}

func (brokenStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	return nil, assert.AnError
}

func (brokenStore) Migrate(ctx context.Context) error { return assert.AnError }
func (brokenStore) Close() error                      { return nil }

func TestRun_StoreCreateFailureStillAudited(t *testing.T) {
	coll := &mockCollector{}
	ext := &mockExtractor{}

	base := t.TempDir()
	dirs := config.DirsConfig{
		Evidence: base + "/evidence",
		Reports:  base + "/reports",
		Logs:     base + "/logs",
	}
	al, err := audit.Open(dirs.Logs)
	require.NoError(t, err)
	t.Cleanup(func() { al.Close() })

	p := New(coll, ext, brokenStore{}, al, dirs, model.MaxRetries)
	s, err := p.Run(context.Background(), "run-1", testURL)
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, s.FinalStatus)
	require.NotNil(t, s.Err)
	assert.Equal(t, model.ErrConfiguration, s.Err.Kind)
	coll.AssertNotCalled(t, "Collect", mock.Anything, mock.Anything)

	recs, err := audit.ReadDay(dirs.Logs, time.Now())
	require.NoError(t, err)
	require.Len(t, recs, 1, "a run that dies before its first step still gets a final record")
	assert.Equal(t, audit.StepPipelineComplete, recs[0].Step)
	assert.NotEmpty(t, recs[0].Error)

	_, violations, err := audit.VerifyDay(dirs.Logs, time.Now())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRun_ValidateFingerprintsCandidateFields(t *testing.T) {
	rawFields := func() map[string]string {
		f := fullFields()
		f["company_name"] = "  Acme   GmbH "
		return f
	}

	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)
	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, 0).
		Return(rawFields(), model.TokenUsage{}, nil)

	env := newTestEnv(t, coll, ext)
	s, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err)
	assert.Equal(t, "Acme GmbH", s.ExtractedFields["company_name"])

	recs := env.records(t)
	require.Len(t, recs, 5)
	validateRec := recs[2]
	require.Equal(t, audit.StepValidateData, validateRec.Step)

	want := audit.Fingerprint(fingerprintable(rawFields()))
	assert.Equal(t, want, validateRec.InputFingerprint,
		"validate_data input must fingerprint the fields as extracted")
	assert.NotEqual(t, audit.Fingerprint(fingerprintable(s.ExtractedFields)), validateRec.InputFingerprint)
}

func TestRun_AuditTrailVerifies(t *testing.T) {
	cases := map[string]func() (*mockCollector, *mockExtractor){
		"happy": func() (*mockCollector, *mockExtractor) {
			coll := &mockCollector{}
			coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)
			ext := &mockExtractor{}
			ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
				Return(fullFields(), model.TokenUsage{}, nil)
			return coll, ext
		},
		"partial": func() (*mockCollector, *mockExtractor) {
			coll := &mockCollector{}
			coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)
			ext := &mockExtractor{}
			ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
				Return(partialFields(), model.TokenUsage{}, nil)
			return coll, ext
		},
		"collect_fails": func() (*mockCollector, *mockExtractor) {
			coll := &mockCollector{}
			coll.On("Collect", mock.Anything, testURL).Return(nil, assert.AnError)
			return coll, &mockExtractor{}
		},
	}

	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			coll, ext := build()
			env := newTestEnv(t, coll, ext)
			_, _ = env.pipeline.Run(context.Background(), "run-1", testURL)

			n, violations, err := audit.VerifyDay(env.logsDir, time.Now())
			require.NoError(t, err)
			assert.Greater(t, n, 0)
			assert.Empty(t, violations)
		})
	}
}

func TestRun_TimestampsMonotonic(t *testing.T) {
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(goodEvidence(), nil)
	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(fullFields(), model.TokenUsage{}, nil)

	env := newTestEnv(t, coll, ext)
	_, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err)

	recs := env.records(t)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].Timestamp.Before(recs[i-1].Timestamp),
			"record %d timestamp regresses", i)
	}
}

func TestRun_PassesHTMLToExtractor(t *testing.T) {
	ev := goodEvidence()
	coll := &mockCollector{}
	coll.On("Collect", mock.Anything, testURL).Return(ev, nil)

	ext := &mockExtractor{}
	ext.On("Extract", mock.Anything, ev.HTML, 0).
		Return(fullFields(), model.TokenUsage{}, nil)

	env := newTestEnv(t, coll, ext)
	_, err := env.pipeline.Run(context.Background(), "run-1", testURL)
	require.NoError(t, err)
	ext.AssertExpectations(t)
}
