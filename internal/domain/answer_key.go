package domain

// Answer is one keyed question: the correct option letter and its point value.
type Answer struct {
	QuestionID int     `json:"question_id"`
	Correct    string  `json:"correct"`
	Points     float64 `json:"points"`
}

// GradingPolicy holds the grading rules attached to an answer key.
type GradingPolicy struct {
	PartialCredit                  bool    `json:"partial_credit"`
	PenaltyIncorrect               float64 `json:"penalty_incorrect"`
	RequireManualReviewOnAmbiguity bool    `json:"require_manual_review_on_ambiguity"`
}

// AnswerKey is the collaborator-owned set of correct answers for an exam,
// consumed read-only by the grading and reporting engines.
type AnswerKey struct {
	ExamID     string        `json:"exam_id"`
	TemplateID string        `json:"template_id"`
	Name       string        `json:"name,omitempty"`
	Answers    []Answer      `json:"answers"`
	Policy     GradingPolicy `json:"grading_policy"`
}

// TotalPoints sums the per-question point values.
func (k AnswerKey) TotalPoints() float64 {
	var total float64
	for _, a := range k.Answers {
		total += a.Points
	}
	return total
}
