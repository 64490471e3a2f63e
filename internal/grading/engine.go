// Package grading turns raw detection facts and an answer key into a grading
// result. The engine is pure: the same inputs always produce the same output,
// and the regrade path after a manual edit is this same function.
package grading

import (
	"strings"

	"omr-scan-service/internal/domain"
)

const (
	reviewReasonAmbiguous = "ambiguous"
)

// Grade scores one scan's detections against the exam's answer key.
//
// Every keyed question contributes to points-possible whether or not a
// detection was matched to it; a keyed question without a detection grades as
// unanswered. batchNeedsReview is the vision worker's own needs-review flag for
// the whole sheet and forces NeedsManualReview regardless of policy.
func Grade(detections []domain.QuestionDetection, key domain.AnswerKey, batchNeedsReview bool) (domain.GradingResult, error) {
	if len(key.Answers) == 0 {
		return domain.GradingResult{}, domain.ErrAnswerKeyNotFound
	}

	byQuestion := make(map[int]domain.QuestionDetection, len(detections))
	for _, d := range detections {
		byQuestion[d.QuestionID] = d
	}

	result := domain.GradingResult{
		Questions: make([]domain.QuestionGrade, 0, len(key.Answers)),
	}
	var running float64

	for _, keyed := range key.Answers {
		grade := domain.QuestionGrade{
			QuestionID:     keyed.QuestionID,
			PointsPossible: keyed.Points,
		}
		result.Summary.PointsPossible += keyed.Points

		det, found := byQuestion[keyed.QuestionID]
		switch {
		case found && det.DetectionStatus == domain.DetectionAmbiguous:
			grade.Correct = domain.CorrectnessUnknown
			grade.RequiresReview = true
			grade.ReviewReason = reviewReasonAmbiguous
			result.Summary.AmbiguousCount++

		case !found || len(det.Selected) == 0:
			grade.Correct = domain.CorrectnessFalse
			result.Summary.UnansweredCount++

		case isCorrect(det.Selected, keyed.Correct):
			grade.Correct = domain.CorrectnessTrue
			grade.PointsEarned = keyed.Points
			running += keyed.Points
			result.Summary.CorrectCount++

		default:
			grade.Correct = domain.CorrectnessFalse
			result.Summary.IncorrectCount++
			if key.Policy.PenaltyIncorrect > 0 {
				// The penalty may push the running total negative; only the
				// final summary is floored at zero.
				grade.PointsEarned = -key.Policy.PenaltyIncorrect
				running -= key.Policy.PenaltyIncorrect
			}
		}

		result.Questions = append(result.Questions, grade)
	}

	if running < 0 {
		running = 0
	}
	result.Summary.PointsEarned = running
	if result.Summary.PointsPossible > 0 {
		result.Summary.Percentage = running / result.Summary.PointsPossible * 100
	}

	result.NeedsManualReview = batchNeedsReview ||
		(key.Policy.RequireManualReviewOnAmbiguity && result.Summary.AmbiguousCount > 0)

	return result, nil
}

// isCorrect applies the exactly-one-selected rule with case-insensitive,
// trimmed comparison.
func isCorrect(selected []string, correct string) bool {
	if len(selected) != 1 {
		return false
	}
	return Normalize(selected[0]) == Normalize(correct)
}

// Normalize canonicalizes an option for comparison. Multi-select detections are
// joined into one comparable string by NormalizeSelection.
func Normalize(option string) string {
	return strings.ToLower(strings.TrimSpace(option))
}

// NormalizeSelection joins a (possibly multi-select) detection into a single
// comparable string. The report engine uses the same form for item analysis.
func NormalizeSelection(selected []string) string {
	parts := make([]string, 0, len(selected))
	for _, s := range selected {
		parts = append(parts, Normalize(s))
	}
	return strings.Join(parts, "")
}
