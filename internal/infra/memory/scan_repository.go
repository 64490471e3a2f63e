package memory

import (
	"context"
	"sort"
	"sync"

	"omr-scan-service/internal/domain"
)

// ScanRepository is an in-memory scan store used in tests and demo mode.
// Records are value snapshots; Save replaces the whole record in one step.
type ScanRepository struct {
	mu    sync.RWMutex
	scans map[string]domain.ScanRecord
}

func NewScanRepository() *ScanRepository {
	return &ScanRepository{scans: make(map[string]domain.ScanRecord)}
}

func (r *ScanRepository) Get(_ context.Context, id string) (domain.ScanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scans[id]
	if !ok {
		return domain.ScanRecord{}, domain.ErrScanNotFound
	}
	return rec, nil
}

func (r *ScanRepository) Save(_ context.Context, rec domain.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[rec.ID] = rec
	return nil
}

// ActiveByExamStudent returns non-retired records for the (exam, student)
// pair, newest first.
func (r *ScanRepository) ActiveByExamStudent(_ context.Context, examID, studentID string) ([]domain.ScanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ScanRecord
	for _, rec := range r.scans {
		if rec.ExamID == examID && rec.StudentID == studentID && rec.Status.Active() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ScoredScans returns records carrying grading facts for the exam, restricted
// to the given students.
func (r *ScanRepository) ScoredScans(_ context.Context, examID string, studentIDs []string) ([]domain.ScanRecord, error) {
	wanted := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ScanRecord
	for _, rec := range r.scans {
		if rec.ExamID != examID || rec.Grading == nil {
			continue
		}
		switch rec.Status {
		case domain.StatusGraded, domain.StatusNeedsReview, domain.StatusReviewed:
		default:
			continue
		}
		if _, ok := wanted[rec.StudentID]; !ok {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
