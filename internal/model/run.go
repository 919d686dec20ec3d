package model

import "time"

// RunStatus is the terminal outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning           RunStatus = "running"
	RunStatusSuccess           RunStatus = "success"
	RunStatusPartialExtraction RunStatus = "partial_extraction"
	RunStatusFailed            RunStatus = "failed"
)

// ValidationStatus tracks whether the extracted fields passed schema validation.
type ValidationStatus string

const (
	ValidationNotRun  ValidationStatus = "not_run"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// ErrorKind classifies a step failure for the audit trail.
type ErrorKind string

const (
	ErrEvidenceCollection ErrorKind = "evidence_collection_error"
	ErrExtraction         ErrorKind = "extraction_error"
	ErrReportGeneration   ErrorKind = "report_generation_error"
	ErrConfiguration      ErrorKind = "configuration_error"
)

// StepError carries the kind and message of a failed pipeline step.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// FieldOrder is the fixed set of profile fields, in validation and report order.
var FieldOrder = []string{
	FieldCompanyName,
	FieldContactEmail,
	FieldPhoneNumber,
	FieldAddress,
	FieldAboutUsText,
}

// Profile field keys. The extractor, validator, and report all address
// fields by these keys.
const (
	FieldCompanyName  = "company_name"
	FieldContactEmail = "contact_email"
	FieldPhoneNumber  = "phone_number"
	FieldAddress      = "address"
	FieldAboutUsText  = "about_us_text"
)

// FieldLabels maps field keys to their report display names.
var FieldLabels = map[string]string{
	FieldCompanyName:  "Company Name",
	FieldContactEmail: "Contact Email",
	FieldPhoneNumber:  "Phone Number",
	FieldAddress:      "Address",
	FieldAboutUsText:  "About Us",
}

// MaxRetries is the pipeline's extraction retry budget. Exactly one retry
// is permitted: LLM extraction is the only non-deterministic step, so
// retrying the deterministic steps would not change the outcome.
const MaxRetries = 1

// TokenUsage tallies model token consumption across extraction attempts.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another attempt.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// RunState is the single mutable record threaded through every pipeline
// step. It is owned exclusively by the orchestrator: leaf components
// receive read-only inputs derived from it and return new values.
type RunState struct {
	RunID            string            `json:"run_id"`
	URL              string            `json:"url"`
	HTMLContent      string            `json:"-"`
	EvidencePath     string            `json:"evidence_path,omitempty"`
	CapturedAt       time.Time         `json:"captured_at,omitempty"`
	ExtractedFields  map[string]string `json:"extracted_fields,omitempty"`
	ValidationStatus ValidationStatus  `json:"validation_status"`
	MissingFields    []string          `json:"missing_fields,omitempty"`
	RetryCount       int               `json:"retry_count"`
	Err              *StepError        `json:"error,omitempty"`
	ReportPath       string            `json:"report_path,omitempty"`
	FinalStatus      RunStatus         `json:"final_status,omitempty"`
	Usage            TokenUsage        `json:"token_usage"`
}

// NewRunState creates a run state with only the URL populated.
func NewRunState(runID, url string) *RunState {
	return &RunState{
		RunID:            runID,
		URL:              url,
		ValidationStatus: ValidationNotRun,
	}
}

// FieldsFound counts non-empty extracted fields.
func (s *RunState) FieldsFound() int {
	n := 0
	for _, key := range FieldOrder {
		if s.ExtractedFields[key] != "" {
			n++
		}
	}
	return n
}

// Run is a persisted record of one pipeline execution.
type Run struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Status       RunStatus  `json:"status"`
	RetryCount   int        `json:"retry_count"`
	FieldsFound  int        `json:"fields_found"`
	FieldsTotal  int        `json:"fields_total"`
	EvidencePath string     `json:"evidence_path,omitempty"`
	ReportPath   string     `json:"report_path,omitempty"`
	Error        *StepError `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
