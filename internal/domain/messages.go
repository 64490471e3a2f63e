package domain

import "time"

// ScanJob is the outbound queue message handed to the vision worker.
// The worker accepts the template reference under the `template` field name.
type ScanJob struct {
	ScanID     string `json:"scan_id"`
	ImagePath  string `json:"image_path"`
	TemplateID string `json:"template"`
}

// ResultStatus is the vision worker's overall verdict for one processed sheet.
type ResultStatus string

const (
	ResultSuccess     ResultStatus = "success"
	ResultFailed      ResultStatus = "failed"
	ResultNeedsReview ResultStatus = "needs_review"
)

// DetectionWarning is a non-critical issue reported by the vision worker.
type DetectionWarning struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	QuestionID *int   `json:"question_id,omitempty"`
}

// DetectionError is a critical error that prevented processing.
type DetectionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// DetectionResult is the inbound queue message produced by the vision worker.
// Facts only; the grading engine turns these into a grading result.
type DetectionResult struct {
	ScanID           string              `json:"scan_id"`
	TemplateID       string              `json:"template_id"`
	Status           ResultStatus        `json:"status"`
	Detections       []QuestionDetection `json:"detections"`
	QualityMetrics   *QualityMetrics     `json:"quality_metrics,omitempty"`
	Warnings         []DetectionWarning  `json:"warnings,omitempty"`
	Errors           []DetectionError    `json:"errors,omitempty"`
	ProcessingTimeMS *float64            `json:"processing_time_ms,omitempty"`
	Timestamp        *time.Time          `json:"timestamp,omitempty"`
}
