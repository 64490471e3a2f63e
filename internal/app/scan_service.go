package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/grading"
)

// ScanRepository abstracts how scan records are stored (in-memory, Postgres).
// Save replaces the whole snapshot in a single atomic write.
type ScanRepository interface {
	Get(ctx context.Context, id string) (domain.ScanRecord, error)
	Save(ctx context.Context, rec domain.ScanRecord) error
	// ActiveByExamStudent returns non-retired records for the pair, newest first.
	ActiveByExamStudent(ctx context.Context, examID, studentID string) ([]domain.ScanRecord, error)
}

// JobQueue hands processing jobs to the vision worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.ScanJob) error
}

// AnswerKeySource loads answer keys (from cache/backing store).
type AnswerKeySource interface {
	AnswerKey(ctx context.Context, examID string) (domain.AnswerKey, error)
}

// ScanService owns the scan lifecycle: upload with duplicate/redo resolution,
// ingestion of detection results, manual edits with regrade, and review.
type ScanService struct {
	scans ScanRepository
	jobs  JobQueue
	keys  AnswerKeySource
	watch *WatchHub
	clock func() time.Time
	newID func() string
}

func NewScanService(scans ScanRepository, jobs JobQueue, keys AnswerKeySource) *ScanService {
	return &ScanService{
		scans: scans,
		jobs:  jobs,
		keys:  keys,
		watch: NewWatchHub(),
		clock: time.Now,
		newID: func() string { return "scan_" + uuid.NewString() },
	}
}

// NewScanServiceWithClock is test-only for deterministic timestamps and IDs.
func NewScanServiceWithClock(scans ScanRepository, jobs JobQueue, keys AnswerKeySource, clock func() time.Time, newID func() string) *ScanService {
	s := NewScanService(scans, jobs, keys)
	if clock != nil {
		s.clock = clock
	}
	if newID != nil {
		s.newID = newID
	}
	return s
}

// Watch exposes the status event hub for transports.
func (s *ScanService) Watch() *WatchHub {
	return s.watch
}

// CreateScanRequest is one upload submission.
type CreateScanRequest struct {
	ExamID     string
	StudentID  string
	ClassID    string
	TemplateID string
	ImagePath  string
	Redo       bool
}

// CreateScan registers a submission, resolves duplicates for the
// (exam, student) pair and enqueues a vision job.
//
// The resolver's read-then-write sequence is not guarded against two
// near-simultaneous uploads for the same pair both seeing no active record;
// this race is accepted and left to the storage layer's write serialization.
func (s *ScanService) CreateScan(ctx context.Context, req CreateScanRequest) (domain.ScanRecord, error) {
	if req.StudentID == "" {
		return domain.ScanRecord{}, domain.NewValidationError("student_id", "required")
	}
	if req.ClassID == "" {
		return domain.ScanRecord{}, domain.NewValidationError("class_id", "required")
	}
	if req.TemplateID == "" {
		return domain.ScanRecord{}, domain.NewValidationError("template_id", "required")
	}
	if req.ImagePath == "" {
		return domain.ScanRecord{}, domain.NewValidationError("image_path", "required")
	}

	now := s.clock()

	var existing []domain.ScanRecord
	if req.ExamID != "" {
		var err error
		existing, err = s.scans.ActiveByExamStudent(ctx, req.ExamID, req.StudentID)
		if err != nil {
			return domain.ScanRecord{}, err
		}
	}

	if req.Redo && len(existing) > 0 {
		// Keep the most recent record's identity; retire the rest.
		kept := existing[0]
		for _, other := range existing[1:] {
			if err := s.scans.Save(ctx, other.MarkOutdated(kept.ID, now)); err != nil {
				return domain.ScanRecord{}, err
			}
		}
		rec := kept.ResetForRedo(req.ImagePath, now)
		if req.TemplateID != "" {
			rec.TemplateID = req.TemplateID
		}
		return s.saveAndEnqueue(ctx, rec)
	}

	id := s.newID()
	for _, old := range existing {
		retired := old.MarkOutdated(id, now)
		if err := s.scans.Save(ctx, retired); err != nil {
			return domain.ScanRecord{}, err
		}
		s.watch.Publish(statusEvent(retired))
	}

	rec := domain.NewScanRecord(id, req.ExamID, req.StudentID, req.ClassID, req.TemplateID, req.ImagePath, now)
	return s.saveAndEnqueue(ctx, rec)
}

func (s *ScanService) saveAndEnqueue(ctx context.Context, rec domain.ScanRecord) (domain.ScanRecord, error) {
	if err := s.scans.Save(ctx, rec); err != nil {
		return domain.ScanRecord{}, err
	}
	job := domain.ScanJob{ScanID: rec.ID, ImagePath: rec.ImagePath, TemplateID: rec.TemplateID}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		failed := rec.WithAudit("error", "failed to enqueue vision job", map[string]any{"error": err.Error()}, s.clock())
		if saveErr := s.scans.Save(ctx, failed); saveErr != nil {
			log.Printf("scan %s: save after enqueue failure: %v", rec.ID, saveErr)
		}
		return domain.ScanRecord{}, err
	}
	s.watch.Publish(statusEvent(rec))
	return rec, nil
}

// GetScan returns the current snapshot; callers poll until the status is
// terminal for polling purposes.
func (s *ScanService) GetScan(ctx context.Context, id string) (domain.ScanRecord, error) {
	return s.scans.Get(ctx, id)
}

// ApplyDetectionResult ingests one result message from the vision worker:
// detection facts are applied, and if the record is linked to an exam the
// grading engine runs synchronously. The whole update is one Save.
func (s *ScanService) ApplyDetectionResult(ctx context.Context, res domain.DetectionResult) error {
	rec, err := s.scans.Get(ctx, res.ScanID)
	if err != nil {
		return err
	}

	now := s.clock()
	updated := rec.ApplyDetections(res, now)

	if updated.Status != domain.StatusFailed && rec.ExamID != "" && len(res.Detections) > 0 {
		updated = s.gradeInto(ctx, updated, res.Status == domain.ResultNeedsReview, now)
	}

	if err := s.scans.Save(ctx, updated); err != nil {
		return err
	}
	s.watch.Publish(statusEvent(updated))
	return nil
}

// gradeInto runs the grading engine against the record's detections. A
// grading failure (missing key, empty key) is logged and the record keeps
// its detection facts only.
func (s *ScanService) gradeInto(ctx context.Context, rec domain.ScanRecord, batchNeedsReview bool, now time.Time) domain.ScanRecord {
	key, err := s.keys.AnswerKey(ctx, rec.ExamID)
	if err != nil {
		log.Printf("scan %s: grading skipped, answer key for exam %s unavailable: %v", rec.ID, rec.ExamID, err)
		return rec.WithAudit("error", "grading skipped: answer key unavailable", map[string]any{"exam_id": rec.ExamID}, now)
	}
	result, err := grading.Grade(rec.Detections, key, batchNeedsReview)
	if err != nil {
		log.Printf("scan %s: grading failed: %v", rec.ID, err)
		return rec.WithAudit("error", "grading failed", map[string]any{"error": err.Error()}, now)
	}
	return rec.WithGrading(result, now)
}

// EditAnswers applies a manual correction to detected answers and regrades.
// Only questions whose selection actually changed are marked manually edited;
// if nothing changed the record is returned untouched.
func (s *ScanService) EditAnswers(ctx context.Context, id, editedBy string, answers map[int][]string) (domain.ScanRecord, error) {
	if editedBy == "" {
		return domain.ScanRecord{}, domain.NewValidationError("edited_by", "required")
	}
	rec, err := s.scans.Get(ctx, id)
	if err != nil {
		return domain.ScanRecord{}, err
	}
	if len(rec.Detections) == 0 {
		return domain.ScanRecord{}, domain.ErrNoDetections
	}

	detections := make([]domain.QuestionDetection, len(rec.Detections))
	copy(detections, rec.Detections)
	var changed []int
	for i, det := range detections {
		selection, ok := answers[det.QuestionID]
		if !ok || sameSelection(det.Selected, selection) {
			continue
		}
		det.Selected = append([]string(nil), selection...)
		det.ManuallyEdited = true
		if len(selection) == 0 {
			det.DetectionStatus = domain.DetectionUnanswered
		} else {
			det.DetectionStatus = domain.DetectionAnswered
		}
		detections[i] = det
		changed = append(changed, det.QuestionID)
	}
	if len(changed) == 0 {
		return rec, nil
	}

	now := s.clock()
	updated := rec
	updated.Detections = detections
	updated = updated.WithAudit("info", "answers manually edited", map[string]any{
		"edited_by": editedBy,
		"questions": changed,
	}, now)

	if updated.ExamID != "" {
		updated = s.gradeInto(ctx, updated, false, now)
	}

	if err := s.scans.Save(ctx, updated); err != nil {
		return domain.ScanRecord{}, err
	}
	s.watch.Publish(statusEvent(updated))
	return updated, nil
}

// Review marks a scan as reviewed by a human.
func (s *ScanService) Review(ctx context.Context, id, reviewedBy, notes string) (domain.ScanRecord, error) {
	if reviewedBy == "" {
		return domain.ScanRecord{}, domain.NewValidationError("reviewed_by", "required")
	}
	rec, err := s.scans.Get(ctx, id)
	if err != nil {
		return domain.ScanRecord{}, err
	}
	switch rec.Status {
	case domain.StatusDetected, domain.StatusGraded, domain.StatusNeedsReview:
	default:
		return domain.ScanRecord{}, domain.ErrScanNotReviewable
	}

	updated := rec.MarkReviewed(reviewedBy, notes, s.clock())
	if err := s.scans.Save(ctx, updated); err != nil {
		return domain.ScanRecord{}, err
	}
	s.watch.Publish(statusEvent(updated))
	return updated, nil
}

func sameSelection(a, b []string) bool {
	return grading.NormalizeSelection(a) == grading.NormalizeSelection(b)
}

func statusEvent(rec domain.ScanRecord) StatusEvent {
	return StatusEvent{ScanID: rec.ID, Status: rec.Status, UpdatedAt: rec.UpdatedAt}
}
