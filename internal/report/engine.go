// Package report computes exam-performance reports: score distributions,
// summary statistics and per-question item analysis, per section and overall.
// Reports are recomputed on every request and never persisted.
package report

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/grading"
)

// Views supported by the report query.
const (
	ViewSection = "section"
	ViewOverall = "overall"
)

// Params are the report query parameters. All three IDs are required.
type Params struct {
	GradeID string
	ClassID string
	ExamID  string
	View    string
}

// Directory exposes the collaborator-owned school structure, read-only.
type Directory interface {
	Class(ctx context.Context, id string) (domain.Class, error)
	Exam(ctx context.Context, id string) (domain.Exam, error)
	SectionsByClass(ctx context.Context, classID string) ([]domain.Section, error)
	ActiveStudentsByClass(ctx context.Context, classID string) ([]domain.Student, error)
}

// AnswerKeySource loads the exam's answer key.
type AnswerKeySource interface {
	AnswerKey(ctx context.Context, examID string) (domain.AnswerKey, error)
}

// ScanSource returns scans that carry grading facts (graded, needs_review or
// reviewed) for the given exam, restricted to the given students.
type ScanSource interface {
	ScoredScans(ctx context.Context, examID string, studentIDs []string) ([]domain.ScanRecord, error)
}

// DistributionRow is one line of the fixed score table.
type DistributionRow struct {
	Score     int `json:"score"`
	Frequency int `json:"f"`
	FX        int `json:"fx"`
}

// Stats are the derived distribution statistics, kept at full precision so the
// overall aggregation stays exact. Display rounding happens via Rounded.
type Stats struct {
	TotalF  int     `json:"total_f"`
	TotalFX int     `json:"total_fx"`
	Mean    float64 `json:"mean"`
	PL      float64 `json:"pl"`
	MPS     float64 `json:"mps"`
	HSO     int     `json:"hso"`
	LSO     int     `json:"lso"`
}

// Rounded returns a copy with the derived values rounded to 2 decimals.
func (s Stats) Rounded() Stats {
	s.Mean = Round2(s.Mean)
	s.PL = Round2(s.PL)
	s.MPS = Round2(s.MPS)
	return s
}

// Round2 rounds to 2 decimal places for display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ItemRow is the per-question item analysis for one population.
type ItemRow struct {
	QuestionNumber   int     `json:"question_number"`
	CorrectCount     int     `json:"correct_count"`
	StudentsTookExam int     `json:"students_took_exam"`
	Percentage       float64 `json:"percentage"`
	Remark           string  `json:"remark"`
	RankLabel        string  `json:"rank_label"`
	RankNumbers      []int   `json:"rank_numbers"`
}

// SectionReport is one population's full report (a section, or the summed
// overall population).
type SectionReport struct {
	SectionID    string            `json:"section_id,omitempty"`
	SectionName  string            `json:"section_name,omitempty"`
	Distribution []DistributionRow `json:"distribution"`
	Stats        Stats             `json:"stats"`
	Items        []ItemRow         `json:"items"`
}

// Report is the engine's response for one query.
type Report struct {
	GradeID     string          `json:"grade_id"`
	ClassID     string          `json:"class_id"`
	ExamID      string          `json:"exam_id"`
	ExamName    string          `json:"exam_name,omitempty"`
	View        string          `json:"view"`
	TotalPoints float64         `json:"total_points"`
	Sections    []SectionReport `json:"sections,omitempty"`
	Overall     *SectionReport  `json:"overall,omitempty"`
}

// Engine computes reports. Read-only; safe for concurrent use.
type Engine struct {
	dir     Directory
	keys    AnswerKeySource
	scans   ScanSource
	workers int
}

// NewEngine builds an Engine. workers bounds the per-section fan-out; values
// below 1 fall back to 4.
func NewEngine(dir Directory, keys AnswerKeySource, scans ScanSource, workers int) *Engine {
	if workers < 1 {
		workers = 4
	}
	return &Engine{dir: dir, keys: keys, scans: scans, workers: workers}
}

// Generate runs the full aggregation for one exam and class.
func (e *Engine) Generate(ctx context.Context, p Params) (Report, error) {
	if p.GradeID == "" {
		return Report{}, domain.NewValidationError("grade_id", "required")
	}
	if p.ClassID == "" {
		return Report{}, domain.NewValidationError("class_id", "required")
	}
	if p.ExamID == "" {
		return Report{}, domain.NewValidationError("exam_id", "required")
	}
	view := p.View
	if view == "" {
		view = ViewSection
	}
	if view != ViewSection && view != ViewOverall {
		return Report{}, domain.NewValidationError("view", "must be section or overall")
	}

	if _, err := e.dir.Class(ctx, p.ClassID); err != nil {
		return Report{}, err
	}
	exam, err := e.dir.Exam(ctx, p.ExamID)
	if err != nil {
		return Report{}, err
	}
	if exam.ClassID != p.ClassID {
		return Report{}, domain.NewValidationError("exam_id", "exam does not belong to the given class")
	}

	sections, err := e.dir.SectionsByClass(ctx, p.ClassID)
	if err != nil {
		return Report{}, err
	}
	if len(sections) == 0 {
		return Report{}, domain.NewValidationError("class_id", "class has no sections")
	}

	key, err := e.keys.AnswerKey(ctx, p.ExamID)
	if err != nil {
		return Report{}, err
	}
	if len(key.Answers) == 0 {
		return Report{}, domain.NewValidationError("exam_id", "exam has an empty answer key")
	}
	if key.TotalPoints() <= 0 {
		return Report{}, domain.NewValidationError("exam_id", "answer key has no positive total points")
	}

	students, err := e.dir.ActiveStudentsByClass(ctx, p.ClassID)
	if err != nil {
		return Report{}, err
	}

	// Per-section computations are independent; fan out, fan in.
	results := make([]SectionReport, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, sec := range sections {
		i, sec := i, sec
		g.Go(func() error {
			sr, err := e.computeSection(gctx, sec, sectionRoster(students, sec.ID), p.ExamID, key)
			if err != nil {
				return err
			}
			results[i] = sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{
		GradeID:     p.GradeID,
		ClassID:     p.ClassID,
		ExamID:      p.ExamID,
		ExamName:    exam.Name,
		View:        view,
		TotalPoints: key.TotalPoints(),
		Sections:    results,
	}
	if view == ViewOverall {
		overall := sumSections(results, key)
		rep.Overall = &overall
	}
	return rep, nil
}

// sectionRoster scopes students to a section: explicitly assigned students plus
// legacy records that belong to the class with no section assignment.
func sectionRoster(students []domain.Student, sectionID string) []domain.Student {
	roster := make([]domain.Student, 0, len(students))
	for _, s := range students {
		if s.SectionID == sectionID || s.SectionID == "" {
			roster = append(roster, s)
		}
	}
	return roster
}

func (e *Engine) computeSection(ctx context.Context, sec domain.Section, roster []domain.Student, examID string, key domain.AnswerKey) (SectionReport, error) {
	ids := make([]string, 0, len(roster))
	for _, s := range roster {
		ids = append(ids, s.ID)
	}
	scans, err := e.scans.ScoredScans(ctx, examID, ids)
	if err != nil {
		return SectionReport{}, err
	}

	dist, stats := buildDistribution(scans, key.TotalPoints())
	items := buildItems(scans, key)

	return SectionReport{
		SectionID:    sec.ID,
		SectionName:  sec.Name,
		Distribution: dist,
		Stats:        stats,
		Items:        rankItems(items),
	}, nil
}

// buildDistribution fills the fixed score table from total points down to zero
// and derives the summary statistics from it.
func buildDistribution(scans []domain.ScanRecord, totalPoints float64) ([]DistributionRow, Stats) {
	maxScore := int(math.Round(totalPoints))
	rows := make([]DistributionRow, maxScore+1)
	for i := range rows {
		rows[i].Score = maxScore - i
	}

	for _, scan := range scans {
		if scan.Grading == nil {
			continue
		}
		score := int(math.Round(scan.Grading.Summary.PointsEarned))
		if score < 0 {
			score = 0
		}
		if score > maxScore {
			score = maxScore
		}
		rows[maxScore-score].Frequency++
	}
	for i := range rows {
		rows[i].FX = rows[i].Frequency * rows[i].Score
	}
	return rows, statsFromRows(rows, totalPoints)
}

// statsFromRows derives TotalF/TotalFX/Mean/PL/MPS/HSO/LSO from a distribution
// table. The overall report reuses this on summed rows so no rounded
// per-section mean ever leaks into the overall figures.
func statsFromRows(rows []DistributionRow, totalPoints float64) Stats {
	var st Stats
	first := true
	for _, row := range rows {
		if row.Frequency == 0 {
			continue
		}
		st.TotalF += row.Frequency
		st.TotalFX += row.FX
		if first || row.Score > st.HSO {
			st.HSO = row.Score
		}
		if first || row.Score < st.LSO {
			st.LSO = row.Score
		}
		first = false
	}
	if st.TotalF > 0 {
		st.Mean = float64(st.TotalFX) / float64(st.TotalF)
	}
	if totalPoints > 0 {
		st.PL = st.Mean / totalPoints * 100
	}
	st.MPS = st.PL + (100-st.PL)*0.02
	return st
}

// buildItems runs the per-question item analysis for one population, counting
// one scan per student: the most recently created graded or reviewed scan.
func buildItems(scans []domain.ScanRecord, key domain.AnswerKey) []ItemRow {
	selected := make(map[string]domain.ScanRecord)
	for _, scan := range scans {
		if scan.Status != domain.StatusGraded && scan.Status != domain.StatusReviewed {
			continue
		}
		prev, ok := selected[scan.StudentID]
		if !ok || scan.CreatedAt.After(prev.CreatedAt) {
			selected[scan.StudentID] = scan
		}
	}
	took := len(selected)

	items := make([]ItemRow, 0, len(key.Answers))
	for _, keyed := range key.Answers {
		correct := 0
		want := grading.Normalize(keyed.Correct)
		for _, scan := range selected {
			for _, det := range scan.Detections {
				if det.QuestionID != keyed.QuestionID {
					continue
				}
				if grading.NormalizeSelection(det.Selected) == want {
					correct++
				}
				break
			}
		}
		items = append(items, newItemRow(keyed.QuestionID, correct, took))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].QuestionNumber < items[j].QuestionNumber })
	return items
}

func newItemRow(question, correct, took int) ItemRow {
	row := ItemRow{
		QuestionNumber:   question,
		CorrectCount:     correct,
		StudentsTookExam: took,
	}
	if took > 0 {
		row.Percentage = float64(correct) / float64(took) * 100
	}
	row.Remark = remarkFor(row.Percentage)
	return row
}

// remarkFor buckets a question into mastered / nearly mastered / not mastered.
func remarkFor(percentage float64) string {
	switch {
	case percentage >= 75:
		return "M"
	case percentage >= 60:
		return "NM"
	default:
		return "NTM"
	}
}

// sumSections builds the overall report by summing raw distribution rows and
// item counts across sections, then recomputing every derived value from the
// summed tables. Averaging already-rounded per-section means would be wrong.
func sumSections(sections []SectionReport, key domain.AnswerKey) SectionReport {
	maxScore := int(math.Round(key.TotalPoints()))
	rows := make([]DistributionRow, maxScore+1)
	for i := range rows {
		rows[i].Score = maxScore - i
	}
	for _, sec := range sections {
		for i, row := range sec.Distribution {
			rows[i].Frequency += row.Frequency
		}
	}
	for i := range rows {
		rows[i].FX = rows[i].Frequency * rows[i].Score
	}

	items := make([]ItemRow, 0, len(key.Answers))
	for _, keyed := range key.Answers {
		correct, took := 0, 0
		for _, sec := range sections {
			for _, item := range sec.Items {
				if item.QuestionNumber == keyed.QuestionID {
					correct += item.CorrectCount
					took += item.StudentsTookExam
					break
				}
			}
		}
		items = append(items, newItemRow(keyed.QuestionID, correct, took))
	}

	return SectionReport{
		Distribution: rows,
		Stats:        statsFromRows(rows, key.TotalPoints()),
		Items:        rankItems(items),
	}
}
