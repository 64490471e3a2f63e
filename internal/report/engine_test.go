package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/infra/memory"
	"omr-scan-service/internal/report"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testKey() domain.AnswerKey {
	return domain.AnswerKey{
		ExamID: "exam-1",
		Answers: []domain.Answer{
			{QuestionID: 1, Correct: "A", Points: 1},
			{QuestionID: 2, Correct: "B", Points: 1},
		},
	}
}

func testDirectory() *memory.Directory {
	return memory.NewDirectory(
		map[string]domain.Class{"class-1": {ID: "class-1", Name: "Grade 6 - Mabini", GradeID: "grade-6"}},
		map[string]domain.Exam{"exam-1": {ID: "exam-1", Name: "Q3 Mastery Test", ClassID: "class-1"}},
		[]domain.Section{
			{ID: "sec-1", Name: "Section A", ClassID: "class-1"},
			{ID: "sec-2", Name: "Section B", ClassID: "class-1"},
		},
		[]domain.Student{
			{ID: "stu-1", Name: "Alice", ClassID: "class-1", SectionID: "sec-1", Active: true},
			{ID: "stu-2", Name: "Bob", ClassID: "class-1", SectionID: "sec-1", Active: true},
			{ID: "stu-3", Name: "Carol", ClassID: "class-1", SectionID: "sec-2", Active: true},
			{ID: "stu-4", Name: "Dave", ClassID: "class-1", SectionID: "sec-2", Active: false},
		},
	)
}

func gradedScan(id, studentID string, createdAt time.Time, earned float64, detections []domain.QuestionDetection) domain.ScanRecord {
	rec := domain.NewScanRecord(id, "exam-1", studentID, "class-1", "form_A", id+".jpg", createdAt)
	rec.CreatedAt = createdAt
	rec.Detections = detections
	return rec.WithGrading(domain.GradingResult{
		Summary: domain.ScoreSummary{PointsEarned: earned, PointsPossible: 2},
	}, createdAt)
}

func answered(q int, option string) domain.QuestionDetection {
	return domain.QuestionDetection{QuestionID: q, Selected: []string{option}, DetectionStatus: domain.DetectionAnswered}
}

func newTestEngine(t *testing.T, scans ...domain.ScanRecord) *report.Engine {
	t.Helper()
	repo := memory.NewScanRepository()
	for _, s := range scans {
		if err := repo.Save(context.Background(), s); err != nil {
			t.Fatalf("seed scan: %v", err)
		}
	}
	keys := memory.NewAnswerKeyStore(map[string]domain.AnswerKey{"exam-1": testKey()})
	return report.NewEngine(testDirectory(), keys, repo, 0)
}

func params(view string) report.Params {
	return report.Params{GradeID: "grade-6", ClassID: "class-1", ExamID: "exam-1", View: view}
}

func TestGenerateDistributionSpansFullRange(t *testing.T) {
	engine := newTestEngine(t,
		gradedScan("scan-1", "stu-1", baseTime, 2, []domain.QuestionDetection{answered(1, "A"), answered(2, "B")}),
		gradedScan("scan-2", "stu-2", baseTime.Add(time.Minute), 1, []domain.QuestionDetection{answered(1, "A"), answered(2, "C")}),
	)

	rep, err := engine.Generate(context.Background(), params(report.ViewSection))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(rep.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(rep.Sections))
	}

	sec := rep.Sections[0]
	if len(sec.Distribution) != 3 {
		t.Fatalf("expected rows for scores 2..0, got %d rows", len(sec.Distribution))
	}
	for i, row := range sec.Distribution {
		if row.Score != 2-i {
			t.Fatalf("expected descending full range, got row %d score %d", i, row.Score)
		}
	}
	if sec.Stats.TotalF != 2 {
		t.Fatalf("expected total frequency to match scored scans, got %d", sec.Stats.TotalF)
	}
	if sec.Stats.Mean != 1.5 || sec.Stats.PL != 75 {
		t.Fatalf("unexpected stats %+v", sec.Stats)
	}
	if sec.Stats.HSO != 2 || sec.Stats.LSO != 1 {
		t.Fatalf("unexpected HSO/LSO %+v", sec.Stats)
	}
	wantMPS := 75 + (100-75)*0.02
	if sec.Stats.MPS != wantMPS {
		t.Fatalf("expected MPS %v, got %v", wantMPS, sec.Stats.MPS)
	}

	// Section B has no scans: zeroed stats, full table still present.
	empty := rep.Sections[1]
	if empty.Stats.TotalF != 0 || empty.Stats.Mean != 0 || len(empty.Distribution) != 3 {
		t.Fatalf("unexpected empty-section report %+v", empty.Stats)
	}
}

func TestGenerateOverallUsesSummedRows(t *testing.T) {
	// Section A: scores 2 and 1 (mean 1.5); Section B: score 0 (mean 0).
	// Overall mean must be the weighted 1.0, not the unweighted 0.75.
	engine := newTestEngine(t,
		gradedScan("scan-1", "stu-1", baseTime, 2, []domain.QuestionDetection{answered(1, "A"), answered(2, "B")}),
		gradedScan("scan-2", "stu-2", baseTime.Add(time.Minute), 1, []domain.QuestionDetection{answered(1, "A"), answered(2, "C")}),
		gradedScan("scan-3", "stu-3", baseTime.Add(2*time.Minute), 0, []domain.QuestionDetection{answered(1, "C"), answered(2, "C")}),
	)

	rep, err := engine.Generate(context.Background(), params(report.ViewOverall))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Overall == nil {
		t.Fatalf("expected overall report")
	}
	if rep.Overall.Stats.TotalF != 3 {
		t.Fatalf("expected 3 observations overall, got %d", rep.Overall.Stats.TotalF)
	}
	if rep.Overall.Stats.Mean != 1.0 {
		t.Fatalf("expected weighted overall mean 1.0, got %v", rep.Overall.Stats.Mean)
	}
	if rep.Overall.Stats.HSO != 2 || rep.Overall.Stats.LSO != 0 {
		t.Fatalf("unexpected overall HSO/LSO %+v", rep.Overall.Stats)
	}

	// Overall item analysis: Q1 correct by stu-1 and stu-2 → 2/3.
	q1 := rep.Overall.Items[0]
	if q1.CorrectCount != 2 || q1.StudentsTookExam != 3 {
		t.Fatalf("unexpected overall item %+v", q1)
	}
}

func TestGenerateItemAnalysisDedupsStudents(t *testing.T) {
	// Bob's older scan answered Q1 correctly; the newer one did not. Only the
	// most recently created graded scan per student counts.
	engine := newTestEngine(t,
		gradedScan("scan-old", "stu-2", baseTime, 2, []domain.QuestionDetection{answered(1, "A"), answered(2, "B")}),
		gradedScan("scan-new", "stu-2", baseTime.Add(time.Hour), 1, []domain.QuestionDetection{answered(1, "C"), answered(2, "B")}),
	)

	rep, err := engine.Generate(context.Background(), params(report.ViewSection))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	items := rep.Sections[0].Items
	if items[0].StudentsTookExam != 1 {
		t.Fatalf("expected one counted student, got %d", items[0].StudentsTookExam)
	}
	if items[0].CorrectCount != 0 {
		t.Fatalf("expected newer scan to win for Q1, got %+v", items[0])
	}
	if items[1].CorrectCount != 1 {
		t.Fatalf("expected Q2 correct from newer scan, got %+v", items[1])
	}
	if items[1].Percentage != 100 || items[1].Remark != "M" {
		t.Fatalf("unexpected Q2 row %+v", items[1])
	}
	if items[0].Remark != "NTM" {
		t.Fatalf("expected NTM for 0%%, got %q", items[0].Remark)
	}
}

func TestGenerateCaseInsensitiveItemMatch(t *testing.T) {
	engine := newTestEngine(t,
		gradedScan("scan-1", "stu-1", baseTime, 2, []domain.QuestionDetection{answered(1, " a "), answered(2, "b")}),
	)
	rep, err := engine.Generate(context.Background(), params(report.ViewSection))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	items := rep.Sections[0].Items
	if items[0].CorrectCount != 1 || items[1].CorrectCount != 1 {
		t.Fatalf("expected trimmed case-insensitive matches, got %+v", items)
	}
}

func TestGenerateValidation(t *testing.T) {
	engine := newTestEngine(t)

	cases := []struct {
		name string
		p    report.Params
	}{
		{"missing grade", report.Params{ClassID: "class-1", ExamID: "exam-1"}},
		{"missing class", report.Params{GradeID: "grade-6", ExamID: "exam-1"}},
		{"missing exam", report.Params{GradeID: "grade-6", ClassID: "class-1"}},
		{"bad view", report.Params{GradeID: "grade-6", ClassID: "class-1", ExamID: "exam-1", View: "weekly"}},
	}
	for _, tc := range cases {
		if _, err := engine.Generate(context.Background(), tc.p); !domain.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestGenerateExamMustBelongToClass(t *testing.T) {
	dir := memory.NewDirectory(
		map[string]domain.Class{
			"class-1": {ID: "class-1"},
			"class-2": {ID: "class-2"},
		},
		map[string]domain.Exam{"exam-1": {ID: "exam-1", ClassID: "class-2"}},
		[]domain.Section{{ID: "sec-1", ClassID: "class-1"}},
		nil,
	)
	keys := memory.NewAnswerKeyStore(map[string]domain.AnswerKey{"exam-1": testKey()})
	engine := report.NewEngine(dir, keys, memory.NewScanRepository(), 0)

	_, err := engine.Generate(context.Background(), params(report.ViewSection))
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerateEmptyAnswerKeyRejected(t *testing.T) {
	keys := memory.NewAnswerKeyStore(map[string]domain.AnswerKey{"exam-1": {ExamID: "exam-1"}})
	engine := report.NewEngine(testDirectory(), keys, memory.NewScanRepository(), 0)

	_, err := engine.Generate(context.Background(), params(report.ViewSection))
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty key, got %v", err)
	}
}

func TestGenerateNotFoundDistinctFromValidation(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Generate(context.Background(), report.Params{GradeID: "grade-6", ClassID: "nope", ExamID: "exam-1"})
	if !errors.Is(err, domain.ErrClassNotFound) {
		t.Fatalf("expected class not found, got %v", err)
	}
	if domain.IsValidation(err) {
		t.Fatalf("not-found must not be a validation error")
	}
}

func TestGenerateInactiveStudentsExcluded(t *testing.T) {
	// Dave is inactive; his scan must not appear in Section B.
	engine := newTestEngine(t,
		gradedScan("scan-dave", "stu-4", baseTime, 2, []domain.QuestionDetection{answered(1, "A"), answered(2, "B")}),
	)
	rep, err := engine.Generate(context.Background(), params(report.ViewSection))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Sections[1].Stats.TotalF != 0 {
		t.Fatalf("expected inactive student excluded, got %+v", rep.Sections[1].Stats)
	}
}
