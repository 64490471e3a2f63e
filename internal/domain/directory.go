package domain

// Student is the read-only directory view of an enrolled student. A student
// with an empty SectionID is a legacy record scoped by class membership alone.
type Student struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassID   string `json:"class_id"`
	SectionID string `json:"section_id,omitempty"`
	Active    bool   `json:"active"`
}

// Section is one class section.
type Section struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ClassID string `json:"class_id"`
}

// Class groups sections under a grade level.
type Class struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GradeID string `json:"grade_id"`
}

// Exam is the read-only directory view of an exam.
type Exam struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ClassID    string `json:"class_id"`
	TemplateID string `json:"template_id"`
}
