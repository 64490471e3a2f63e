package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"omr-scan-service/internal/domain"
)

// scanRow is the persisted shape of a scan record: filterable columns plus the
// full snapshot as JSONB. Save replaces the whole row in one statement.
type scanRow struct {
	bun.BaseModel `bun:"table:scans,alias:s"`

	ID        string    `bun:"id,pk"`
	ExamID    string    `bun:"exam_id"`
	StudentID string    `bun:"student_id"`
	ClassID   string    `bun:"class_id"`
	Status    string    `bun:"status"`
	CreatedAt time.Time `bun:"created_at"`
	Snapshot  []byte    `bun:"snapshot,type:jsonb"`
}

// ScanRepository stores scan records in Postgres via bun.
type ScanRepository struct {
	db *bun.DB
}

func NewScanRepository(db *bun.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

func (r *ScanRepository) Get(ctx context.Context, id string) (domain.ScanRecord, error) {
	row := new(scanRow)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScanRecord{}, domain.ErrScanNotFound
	}
	if err != nil {
		return domain.ScanRecord{}, fmt.Errorf("load scan: %w", err)
	}
	return decodeSnapshot(row.Snapshot)
}

// Save upserts the record in a single statement; there is no multi-record
// transaction in this core.
func (r *ScanRepository) Save(ctx context.Context, rec domain.ScanRecord) error {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode scan: %w", err)
	}
	row := &scanRow{
		ID:        rec.ID,
		ExamID:    rec.ExamID,
		StudentID: rec.StudentID,
		ClassID:   rec.ClassID,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		Snapshot:  snapshot,
	}
	_, err = r.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("exam_id = EXCLUDED.exam_id").
		Set("student_id = EXCLUDED.student_id").
		Set("class_id = EXCLUDED.class_id").
		Set("status = EXCLUDED.status").
		Set("snapshot = EXCLUDED.snapshot").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save scan: %w", err)
	}
	return nil
}

// ActiveByExamStudent returns non-retired records for the pair, newest first.
func (r *ScanRepository) ActiveByExamStudent(ctx context.Context, examID, studentID string) ([]domain.ScanRecord, error) {
	var rows []scanRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("exam_id = ?", examID).
		Where("student_id = ?", studentID).
		Where("status NOT IN (?)", bun.In([]string{
			string(domain.StatusOutdated),
			string(domain.StatusFailed),
			string(domain.StatusError),
		})).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active scans: %w", err)
	}
	return decodeRows(rows)
}

// ScoredScans returns records carrying grading facts for the exam, restricted
// to the given students.
func (r *ScanRepository) ScoredScans(ctx context.Context, examID string, studentIDs []string) ([]domain.ScanRecord, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	var rows []scanRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("exam_id = ?", examID).
		Where("student_id IN (?)", bun.In(studentIDs)).
		Where("status IN (?)", bun.In([]string{
			string(domain.StatusGraded),
			string(domain.StatusNeedsReview),
			string(domain.StatusReviewed),
		})).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scored scans: %w", err)
	}
	records, err := decodeRows(rows)
	if err != nil {
		return nil, err
	}
	// Only records that actually carry grading facts count.
	out := records[:0]
	for _, rec := range records {
		if rec.Grading != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func decodeRows(rows []scanRow) ([]domain.ScanRecord, error) {
	out := make([]domain.ScanRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeSnapshot(row.Snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeSnapshot(snapshot []byte) (domain.ScanRecord, error) {
	var rec domain.ScanRecord
	if err := json.Unmarshal(snapshot, &rec); err != nil {
		return domain.ScanRecord{}, fmt.Errorf("decode scan: %w", err)
	}
	return rec, nil
}
