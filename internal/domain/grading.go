package domain

// Correctness is the per-question grading verdict. Ambiguous detections grade
// to unknown rather than forcing a wrong answer.
type Correctness string

const (
	CorrectnessTrue    Correctness = "true"
	CorrectnessFalse   Correctness = "false"
	CorrectnessUnknown Correctness = "unknown"
)

// QuestionGrade is the grading outcome for one keyed question.
type QuestionGrade struct {
	QuestionID     int         `json:"question_id"`
	Correct        Correctness `json:"correct"`
	PointsEarned   float64     `json:"points_earned"`
	PointsPossible float64     `json:"points_possible"`
	RequiresReview bool        `json:"requires_review,omitempty"`
	ReviewReason   string      `json:"review_reason,omitempty"`
}

// ScoreSummary aggregates a grading pass. PointsEarned is floored at zero even
// when per-question penalties drive the running total negative.
type ScoreSummary struct {
	PointsEarned    float64 `json:"points_earned"`
	PointsPossible  float64 `json:"points_possible"`
	Percentage      float64 `json:"percentage"`
	CorrectCount    int     `json:"correct_count"`
	IncorrectCount  int     `json:"incorrect_count"`
	UnansweredCount int     `json:"unanswered_count"`
	AmbiguousCount  int     `json:"ambiguous_count"`
}

// GradingResult is the pure output of the grading engine for one scan.
type GradingResult struct {
	Questions         []QuestionGrade `json:"questions"`
	Summary           ScoreSummary    `json:"summary"`
	NeedsManualReview bool            `json:"needs_manual_review"`
}
