package domain

import "time"

// ScanStatus is the lifecycle state of a scan record.
type ScanStatus string

const (
	StatusUploaded    ScanStatus = "uploaded"
	StatusQueued      ScanStatus = "queued"
	StatusProcessing  ScanStatus = "processing"
	StatusDetected    ScanStatus = "detected"
	StatusGraded      ScanStatus = "graded"
	StatusNeedsReview ScanStatus = "needs_review"
	StatusReviewed    ScanStatus = "reviewed"
	StatusOutdated    ScanStatus = "outdated"
	StatusFailed      ScanStatus = "failed"
	StatusError       ScanStatus = "error"
)

// TerminalForPolling reports whether a caller polling for completion should stop here.
func (s ScanStatus) TerminalForPolling() bool {
	switch s {
	case StatusDetected, StatusGraded, StatusNeedsReview, StatusReviewed, StatusFailed, StatusError:
		return true
	}
	return false
}

// Active reports whether the record still counts toward the one-active-scan-per-
// (exam, student) invariant. Outdated, failed and error records are retired.
func (s ScanStatus) Active() bool {
	switch s {
	case StatusOutdated, StatusFailed, StatusError:
		return false
	}
	return true
}

// DetectionStatus is the vision worker's per-question verdict about the marks it saw.
type DetectionStatus string

const (
	DetectionAnswered   DetectionStatus = "answered"
	DetectionUnanswered DetectionStatus = "unanswered"
	DetectionAmbiguous  DetectionStatus = "ambiguous"
	DetectionStatusError DetectionStatus = "error"
)

// QuestionDetection holds raw per-question measurements. Facts only; correctness
// is decided later by the grading engine.
type QuestionDetection struct {
	QuestionID      int                `json:"question_id"`
	FillRatios      map[string]float64 `json:"fill_ratios,omitempty"`
	Selected        []string           `json:"selected"`
	DetectionStatus DetectionStatus    `json:"detection_status"`
	Confidence      *float64           `json:"confidence,omitempty"`
	ManuallyEdited  bool               `json:"manually_edited,omitempty"`
}

// QualityMetrics carries image quality measurements reported alongside detections.
type QualityMetrics struct {
	BlurScore                    *float64 `json:"blur_score,omitempty"`
	BrightnessMean               *float64 `json:"brightness_mean,omitempty"`
	BrightnessStd                *float64 `json:"brightness_std,omitempty"`
	SkewAngle                    *float64 `json:"skew_angle,omitempty"`
	PerspectiveCorrectionApplied *bool    `json:"perspective_correction_applied,omitempty"`
}

// AuditEntry is one line of a scan's append-only audit log.
type AuditEntry struct {
	At      time.Time      `json:"at"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ScanRecord is an immutable snapshot of one submitted sheet. Update methods
// return a new snapshot; persistence replaces the whole record in one write.
type ScanRecord struct {
	ID         string `json:"id"`
	ExamID     string `json:"exam_id,omitempty"`
	StudentID  string `json:"student_id"`
	ClassID    string `json:"class_id"`
	TemplateID string `json:"template_id"`
	ImagePath  string `json:"image_path"`

	Status ScanStatus `json:"status"`

	Detections []QuestionDetection `json:"detections,omitempty"`
	Quality    *QualityMetrics     `json:"quality_metrics,omitempty"`

	Grading *GradingResult `json:"grading,omitempty"`

	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`

	Audit []AuditEntry `json:"audit"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewScanRecord creates a freshly queued record for an upload.
func NewScanRecord(id, examID, studentID, classID, templateID, imagePath string, now time.Time) ScanRecord {
	rec := ScanRecord{
		ID:         id,
		ExamID:     examID,
		StudentID:  studentID,
		ClassID:    classID,
		TemplateID: templateID,
		ImagePath:  imagePath,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return rec.WithAudit("info", "scan created and queued for processing", nil, now)
}

// WithAudit returns a copy with one more audit entry appended.
func (r ScanRecord) WithAudit(level, message string, data map[string]any, now time.Time) ScanRecord {
	out := r
	out.Audit = append(append([]AuditEntry(nil), r.Audit...), AuditEntry{
		At:      now,
		Level:   level,
		Message: message,
		Data:    data,
	})
	out.UpdatedAt = now
	return out
}

// WithStatus returns a copy moved to the given status.
func (r ScanRecord) WithStatus(status ScanStatus, now time.Time) ScanRecord {
	out := r
	out.Status = status
	out.UpdatedAt = now
	return out
}

// MarkOutdated retires the record because a newer submission superseded it.
func (r ScanRecord) MarkOutdated(supersededBy string, now time.Time) ScanRecord {
	out := r.WithStatus(StatusOutdated, now)
	return out.WithAudit("info", "superseded by a newer submission", map[string]any{
		"superseded_by": supersededBy,
	}, now)
}

// ResetForRedo reuses the record identity for a re-scan: new image, facts
// cleared, back to queued. The discarded image path is kept in the audit log.
func (r ScanRecord) ResetForRedo(imagePath string, now time.Time) ScanRecord {
	out := r
	out.ImagePath = imagePath
	out.Status = StatusQueued
	out.Detections = nil
	out.Quality = nil
	out.Grading = nil
	out.FailureCode = ""
	out.FailureMessage = ""
	out.ReviewedBy = ""
	out.ReviewedAt = nil
	out.ReviewNotes = ""
	out.ProcessedAt = nil
	out.UpdatedAt = now
	return out.WithAudit("info", "redo requested, scan re-queued with a new image", map[string]any{
		"previous_image": r.ImagePath,
	}, now)
}

// ApplyDetections returns a copy carrying the detection facts of one result
// message, with status derived from the worker's verdict.
func (r ScanRecord) ApplyDetections(res DetectionResult, now time.Time) ScanRecord {
	out := r
	out.Detections = res.Detections
	out.Quality = res.QualityMetrics
	out.ProcessedAt = &now
	out.UpdatedAt = now

	switch res.Status {
	case ResultNeedsReview:
		out.Status = StatusNeedsReview
	case ResultFailed:
		out.Status = StatusFailed
		if len(res.Errors) > 0 {
			out.FailureCode = res.Errors[0].Code
			out.FailureMessage = res.Errors[0].Message
		}
	default:
		out.Status = StatusDetected
	}

	for _, w := range res.Warnings {
		data := map[string]any{"code": w.Code}
		if w.QuestionID != nil {
			data["question_id"] = *w.QuestionID
		}
		out = out.WithAudit("warn", w.Message, data, now)
	}
	msg := "detection result applied"
	data := map[string]any{"status": string(out.Status), "questions": len(res.Detections)}
	if res.ProcessingTimeMS != nil {
		data["processing_time_ms"] = *res.ProcessingTimeMS
	}
	return out.WithAudit("info", msg, data, now)
}

// WithGrading stores a grading result and moves the record to graded or
// needs_review accordingly.
func (r ScanRecord) WithGrading(g GradingResult, now time.Time) ScanRecord {
	out := r
	out.Grading = &g
	if g.NeedsManualReview {
		out.Status = StatusNeedsReview
	} else {
		out.Status = StatusGraded
	}
	out.UpdatedAt = now
	return out
}

// MarkReviewed records an explicit human review.
func (r ScanRecord) MarkReviewed(reviewedBy, notes string, now time.Time) ScanRecord {
	out := r
	out.Status = StatusReviewed
	out.ReviewedBy = reviewedBy
	out.ReviewedAt = &now
	out.ReviewNotes = notes
	out.UpdatedAt = now
	data := map[string]any{"reviewed_by": reviewedBy}
	if notes != "" {
		data["notes"] = notes
	}
	return out.WithAudit("info", "scan reviewed", data, now)
}
