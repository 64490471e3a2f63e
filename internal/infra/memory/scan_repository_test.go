package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"omr-scan-service/internal/domain"
)

func TestScanRepositoryGetUnknown(t *testing.T) {
	repo := NewScanRepository()
	_, err := repo.Get(context.Background(), "scan-missing")
	if !errors.Is(err, domain.ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
}

func TestScanRepositoryActiveByExamStudent(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	older := domain.NewScanRecord("scan-1", "exam-1", "stu-1", "class-1", "form_A", "a.jpg", base)
	newer := domain.NewScanRecord("scan-2", "exam-1", "stu-1", "class-1", "form_A", "b.jpg", base.Add(time.Minute))
	retired := domain.NewScanRecord("scan-3", "exam-1", "stu-1", "class-1", "form_A", "c.jpg", base.Add(2*time.Minute)).
		MarkOutdated("scan-2", base.Add(3*time.Minute))
	otherStudent := domain.NewScanRecord("scan-4", "exam-1", "stu-2", "class-1", "form_A", "d.jpg", base)
	for _, rec := range []domain.ScanRecord{older, newer, retired, otherStudent} {
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	active, err := repo.ActiveByExamStudent(ctx, "exam-1", "stu-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active records, got %d", len(active))
	}
	if active[0].ID != "scan-2" || active[1].ID != "scan-1" {
		t.Fatalf("expected newest first, got %s then %s", active[0].ID, active[1].ID)
	}
}

func TestScanRepositoryScoredScans(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	grading := domain.GradingResult{
		Summary: domain.ScoreSummary{PointsEarned: 1, PointsPossible: 2, Percentage: 50},
	}
	graded := domain.NewScanRecord("scan-1", "exam-1", "stu-1", "class-1", "form_A", "a.jpg", base).
		WithGrading(grading, base.Add(time.Minute))
	ungraded := domain.NewScanRecord("scan-2", "exam-1", "stu-2", "class-1", "form_A", "b.jpg", base)
	outsideRoster := domain.NewScanRecord("scan-3", "exam-1", "stu-9", "class-1", "form_A", "c.jpg", base).
		WithGrading(grading, base.Add(time.Minute))
	for _, rec := range []domain.ScanRecord{graded, ungraded, outsideRoster} {
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	scored, err := repo.ScoredScans(ctx, "exam-1", []string{"stu-1", "stu-2"})
	if err != nil {
		t.Fatalf("scored: %v", err)
	}
	if len(scored) != 1 || scored[0].ID != "scan-1" {
		t.Fatalf("expected only scan-1, got %+v", scored)
	}
}
