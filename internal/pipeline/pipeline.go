// Package pipeline orchestrates a single extraction run: evidence
// collection, LLM extraction, validation, a bounded retry loop, report
// generation, and the audit trail recording every transition.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/audit"
	"github.com/sells-group/compliance-cli/internal/collector"
	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/extractor"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/report"
	"github.com/sells-group/compliance-cli/internal/store"
	"github.com/sells-group/compliance-cli/internal/validator"
)

// state enumerates the orchestrator's positions between steps.
type state int

const (
	stateCollecting state = iota
	stateExtracting
	stateValidating
	stateReporting
	stateLoggingEnd
	stateEnd
)

// Pipeline sequences the run steps and owns the run state. Steps never see
// each other; all data flows through the state the orchestrator carries.
type Pipeline struct {
	collector  collector.Collector
	extractor  extractor.Extractor
	store      store.Store
	audit      *audit.Logger
	dirs       config.DirsConfig
	maxRetries int
}

// New assembles a pipeline from its collaborators.
func New(c collector.Collector, e extractor.Extractor, st store.Store, al *audit.Logger, dirs config.DirsConfig, maxRetries int) *Pipeline {
	return &Pipeline{
		collector:  c,
		extractor:  e,
		store:      st,
		audit:      al,
		dirs:       dirs,
		maxRetries: maxRetries,
	}
}

// Run executes the full pipeline for one URL. The returned state is always
// non-nil and terminal; the error is non-nil only when the run ended on the
// failure branch.
func (p *Pipeline) Run(ctx context.Context, runID, url string) (*model.RunState, error) {
	s := model.NewRunState(runID, url)

	if _, err := p.store.CreateRun(ctx, runID, url); err != nil {
		// Even a pre-step failure leaves a final audit record behind.
		s.Err = &model.StepError{Kind: model.ErrConfiguration, Message: err.Error()}
		p.finish(ctx, s)
		return s, eris.Wrap(err, "pipeline: create run record")
	}

	zap.L().Info("pipeline: run started", zap.String("run_id", runID), zap.String("url", url))

	for st := stateCollecting; st != stateEnd; {
		switch st {
		case stateCollecting:
			st = p.collect(ctx, s)
		case stateExtracting:
			st = p.extract(ctx, s)
		case stateValidating:
			st = p.validate(s)
		case stateReporting:
			st = p.report(s)
		case stateLoggingEnd:
			st = p.finish(ctx, s)
		}
	}

	if s.Err != nil {
		return s, eris.Wrapf(s.Err, "pipeline: run %s failed", runID)
	}
	return s, nil
}

func (p *Pipeline) collect(ctx context.Context, s *model.RunState) state {
	ev, err := p.collector.Collect(ctx, s.URL)
	if err != nil {
		s.Err = &model.StepError{Kind: model.ErrEvidenceCollection, Message: err.Error()}
		p.record(s, audit.StepCollectEvidence, audit.StatusFailure, s.URL, err.Error())
		return stateLoggingEnd
	}

	s.HTMLContent = ev.HTML
	s.CapturedAt = ev.CapturedAt

	path, err := collector.SaveEvidence(p.dirs.Evidence, ev)
	if err != nil {
		s.Err = &model.StepError{Kind: model.ErrEvidenceCollection, Message: err.Error()}
		p.record(s, audit.StepCollectEvidence, audit.StatusFailure, s.URL, err.Error())
		return stateLoggingEnd
	}
	s.EvidencePath = path

	p.record(s, audit.StepCollectEvidence, audit.StatusSuccess, s.URL, s.HTMLContent)
	return stateExtracting
}

func (p *Pipeline) extract(ctx context.Context, s *model.RunState) state {
	fields, usage, err := p.extractor.Extract(ctx, s.HTMLContent, s.RetryCount)
	s.Usage.Add(usage)

	if err != nil {
		if s.RetryCount < p.maxRetries {
			p.record(s, audit.StepExtractData, audit.StatusRetrying, s.HTMLContent, err.Error())
			s.RetryCount++
			zap.L().Warn("pipeline: extraction failed, retrying",
				zap.String("run_id", s.RunID), zap.Error(err))
			return stateExtracting
		}
		s.Err = &model.StepError{Kind: model.ErrExtraction, Message: err.Error()}
		p.record(s, audit.StepExtractData, audit.StatusFailure, s.HTMLContent, err.Error())
		return stateLoggingEnd
	}

	s.ExtractedFields = fields
	p.record(s, audit.StepExtractData, audit.StatusSuccess, s.HTMLContent, fingerprintable(fields))
	return stateValidating
}

func (p *Pipeline) validate(s *model.RunState) state {
	// Fingerprint the candidate mapping before normalization replaces it.
	in := fingerprintable(s.ExtractedFields)

	res := validator.Validate(s.ExtractedFields)
	s.ExtractedFields = res.Fields
	s.ValidationStatus = res.Status
	s.MissingFields = res.Missing

	if res.Status == model.ValidationInvalid && s.RetryCount < p.maxRetries {
		p.record(s, audit.StepValidateData, audit.StatusRetrying, in, fingerprintable(res.Missing))
		s.RetryCount++
		s.MissingFields = nil
		zap.L().Warn("pipeline: validation failed, retrying extraction",
			zap.String("run_id", s.RunID), zap.Strings("missing", res.Missing))
		return stateExtracting
	}

	p.record(s, audit.StepValidateData, audit.StatusSuccess, in, string(res.Status))
	return stateReporting
}

func (p *Pipeline) report(s *model.RunState) state {
	path, err := report.Write(p.dirs.Reports, s, time.Now())
	if err != nil {
		s.Err = &model.StepError{Kind: model.ErrReportGeneration, Message: err.Error()}
		p.record(s, audit.StepGenerateReport, audit.StatusFailure, fingerprintable(s.ExtractedFields), err.Error())
		return stateLoggingEnd
	}

	s.ReportPath = path
	p.record(s, audit.StepGenerateReport, audit.StatusSuccess, fingerprintable(s.ExtractedFields), path)
	return stateLoggingEnd
}

func (p *Pipeline) finish(ctx context.Context, s *model.RunState) state {
	switch {
	case s.Err != nil:
		s.FinalStatus = model.RunStatusFailed
	case s.ValidationStatus == model.ValidationValid:
		s.FinalStatus = model.RunStatusSuccess
	default:
		s.FinalStatus = model.RunStatusPartialExtraction
	}

	rec := audit.Record{
		Timestamp:         time.Now(),
		RunID:             s.RunID,
		Step:              audit.StepPipelineComplete,
		Status:            audit.StatusSuccess,
		InputFingerprint:  audit.Fingerprint(fingerprintable(s)),
		OutputFingerprint: audit.Fingerprint(string(s.FinalStatus)),
		RetryCount:        s.RetryCount,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	if err := p.audit.Append(rec); err != nil {
		zap.L().Error("pipeline: final audit append failed", zap.Error(err))
	}

	run := &model.Run{
		ID:           s.RunID,
		URL:          s.URL,
		Status:       s.FinalStatus,
		RetryCount:   s.RetryCount,
		FieldsFound:  s.FieldsFound(),
		FieldsTotal:  len(model.FieldOrder),
		EvidencePath: s.EvidencePath,
		ReportPath:   s.ReportPath,
		Error:        s.Err,
	}
	if err := p.store.CompleteRun(ctx, run); err != nil {
		zap.L().Error("pipeline: persist run failed", zap.Error(err))
	}

	zap.L().Info("pipeline: run finished",
		zap.String("run_id", s.RunID),
		zap.String("status", string(s.FinalStatus)),
		zap.Int("retries", s.RetryCount),
		zap.Int("fields_found", s.FieldsFound()),
		zap.Int("input_tokens", s.Usage.InputTokens),
		zap.Int("output_tokens", s.Usage.OutputTokens),
	)
	return stateEnd
}

// record appends one audit record for a step transition. Payloads are
// fingerprinted, never stored raw.
func (p *Pipeline) record(s *model.RunState, step, status, input, output string) {
	err := p.audit.Append(audit.Record{
		Timestamp:         time.Now(),
		RunID:             s.RunID,
		Step:              step,
		Status:            status,
		InputFingerprint:  audit.Fingerprint(input),
		OutputFingerprint: audit.Fingerprint(output),
		RetryCount:        s.RetryCount,
		Error:             errorDetail(status, output),
	})
	if err != nil {
		zap.L().Error("pipeline: audit append failed",
			zap.String("step", step), zap.Error(err))
	}
}

// errorDetail carries the raw error message only on non-success records.
func errorDetail(status, output string) string {
	if status == audit.StatusSuccess {
		return ""
	}
	return output
}

// fingerprintable renders a value to a stable string for fingerprinting.
func fingerprintable(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
