package memory

import (
	"context"

	"omr-scan-service/internal/domain"
)

// AnswerKeyStore is a static answer-key source backed by a map (tests/demo).
type AnswerKeyStore struct {
	keys map[string]domain.AnswerKey
}

func NewAnswerKeyStore(keys map[string]domain.AnswerKey) *AnswerKeyStore {
	return &AnswerKeyStore{keys: keys}
}

func (s *AnswerKeyStore) AnswerKey(_ context.Context, examID string) (domain.AnswerKey, error) {
	if key, ok := s.keys[examID]; ok {
		return key, nil
	}
	return domain.AnswerKey{}, domain.ErrAnswerKeyNotFound
}

// Directory is a static school directory backed by maps and slices.
type Directory struct {
	classes  map[string]domain.Class
	exams    map[string]domain.Exam
	sections []domain.Section
	students []domain.Student
}

func NewDirectory(classes map[string]domain.Class, exams map[string]domain.Exam, sections []domain.Section, students []domain.Student) *Directory {
	if classes == nil {
		classes = make(map[string]domain.Class)
	}
	if exams == nil {
		exams = make(map[string]domain.Exam)
	}
	return &Directory{classes: classes, exams: exams, sections: sections, students: students}
}

func (d *Directory) Class(_ context.Context, id string) (domain.Class, error) {
	if c, ok := d.classes[id]; ok {
		return c, nil
	}
	return domain.Class{}, domain.ErrClassNotFound
}

func (d *Directory) Exam(_ context.Context, id string) (domain.Exam, error) {
	if e, ok := d.exams[id]; ok {
		return e, nil
	}
	return domain.Exam{}, domain.ErrExamNotFound
}

func (d *Directory) SectionsByClass(_ context.Context, classID string) ([]domain.Section, error) {
	var out []domain.Section
	for _, s := range d.sections {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *Directory) ActiveStudentsByClass(_ context.Context, classID string) ([]domain.Student, error) {
	var out []domain.Student
	for _, s := range d.students {
		if s.ClassID == classID && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}
