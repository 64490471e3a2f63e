package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"omr-scan-service/internal/domain"
)

// AnswerKeyLoader loads answer-key JSONB from Postgres. The table is
// collaborator-owned; this core only reads it.
type AnswerKeyLoader struct {
	pool *pgxpool.Pool
}

func NewAnswerKeyLoader(pool *pgxpool.Pool) *AnswerKeyLoader {
	return &AnswerKeyLoader{pool: pool}
}

func (l *AnswerKeyLoader) AnswerKey(ctx context.Context, examID string) (domain.AnswerKey, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM answer_keys WHERE exam_id=$1`, examID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnswerKey{}, domain.ErrAnswerKeyNotFound
	}
	if err != nil {
		return domain.AnswerKey{}, fmt.Errorf("load answer key: %w", err)
	}
	var key domain.AnswerKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return domain.AnswerKey{}, fmt.Errorf("unmarshal answer key: %w", err)
	}
	return key, nil
}

// Directory reads the collaborator-owned school structure with simple
// synchronous lookups.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) Class(ctx context.Context, id string) (domain.Class, error) {
	var c domain.Class
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, grade_id FROM classes WHERE id=$1`, id,
	).Scan(&c.ID, &c.Name, &c.GradeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Class{}, domain.ErrClassNotFound
	}
	if err != nil {
		return domain.Class{}, fmt.Errorf("load class: %w", err)
	}
	return c, nil
}

func (d *Directory) Exam(ctx context.Context, id string) (domain.Exam, error) {
	var e domain.Exam
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, class_id, template_id FROM exams WHERE id=$1`, id,
	).Scan(&e.ID, &e.Name, &e.ClassID, &e.TemplateID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load exam: %w", err)
	}
	return e, nil
}

func (d *Directory) SectionsByClass(ctx context.Context, classID string) ([]domain.Section, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, class_id FROM sections WHERE class_id=$1 ORDER BY name`, classID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var out []domain.Section
	for rows.Next() {
		var s domain.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.ClassID); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *Directory) ActiveStudentsByClass(ctx context.Context, classID string) ([]domain.Student, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, class_id, COALESCE(section_id, ''), active
		 FROM students WHERE class_id=$1 AND active ORDER BY name`, classID,
	)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []domain.Student
	for rows.Next() {
		var s domain.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.ClassID, &s.SectionID, &s.Active); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
