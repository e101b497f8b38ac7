package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

const consultationColumns = `id, teacher_id, date, time, student_id, student_name, topic, original_content, ai_summary, created_at, updated_at`

// ConsultationRepository manages persistence for consultation records.
type ConsultationRepository struct {
	db *sqlx.DB
}

// NewConsultationRepository constructs a ConsultationRepository.
func NewConsultationRepository(db *sqlx.DB) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

// List returns a page of the teacher's records, newest first, with the total count.
func (r *ConsultationRepository) List(ctx context.Context, filter models.ConsultationFilter) ([]models.Consultation, int, error) {
	args := []interface{}{filter.TeacherID}
	conditions := []string{"teacher_id = $1"}

	if filter.Date != "" {
		conditions = append(conditions, fmt.Sprintf("date = $%d", len(args)+1))
		args = append(args, filter.Date)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(student_name) LIKE $%d OR LOWER(COALESCE(topic, '')) LIKE $%d OR LOWER(original_content) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM consultations WHERE %s ORDER BY date DESC, time DESC LIMIT %d OFFSET %d", consultationColumns, where, size, offset)
	var records []models.Consultation
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM consultations WHERE %s", where), args...); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}
	return records, total, nil
}

// ListByTeacher returns every record owned by the teacher, newest first.
func (r *ConsultationRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Consultation, error) {
	query := fmt.Sprintf("SELECT %s FROM consultations WHERE teacher_id = $1 ORDER BY date DESC, time DESC", consultationColumns)
	var records []models.Consultation
	if err := r.db.SelectContext(ctx, &records, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher consultations: %w", err)
	}
	return records, nil
}

// FindByID fetches one record scoped to its owner. sql.ErrNoRows is returned unwrapped.
func (r *ConsultationRepository) FindByID(ctx context.Context, teacherID, id string) (*models.Consultation, error) {
	query := fmt.Sprintf("SELECT %s FROM consultations WHERE id = $1 AND teacher_id = $2", consultationColumns)
	var record models.Consultation
	if err := r.db.GetContext(ctx, &record, query, id, teacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find consultation: %w", err)
	}
	return &record, nil
}

// Create inserts a new record.
func (r *ConsultationRepository) Create(ctx context.Context, record *models.Consultation) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO consultations (id, teacher_id, date, time, student_id, student_name, topic, original_content, ai_summary, created_at, updated_at)
        VALUES (:id, :teacher_id, :date, :time, :student_id, :student_name, :topic, :original_content, :ai_summary, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create consultation: %w", err)
	}
	return nil
}

// Update modifies an existing record owned by the same teacher.
func (r *ConsultationRepository) Update(ctx context.Context, record *models.Consultation) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE consultations SET date = :date, time = :time, student_id = :student_id, student_name = :student_name, topic = :topic,
        original_content = :original_content, ai_summary = :ai_summary, updated_at = :updated_at WHERE id = :id AND teacher_id = :teacher_id`
	res, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a record owned by the teacher.
func (r *ConsultationRepository) Delete(ctx context.Context, teacherID, id string) error {
	const query = `DELETE FROM consultations WHERE id = $1 AND teacher_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, teacherID)
	if err != nil {
		return fmt.Errorf("delete consultation: %w", err)
	}
	return requireAffected(res)
}

// DeleteByStudent removes every record of one student and reports how many were deleted.
func (r *ConsultationRepository) DeleteByStudent(ctx context.Context, teacherID, studentID, studentName string) (int64, error) {
	const query = `DELETE FROM consultations WHERE teacher_id = $1 AND student_id = $2 AND student_name = $3`
	res, err := r.db.ExecContext(ctx, query, teacherID, studentID, studentName)
	if err != nil {
		return 0, fmt.Errorf("delete student consultations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// Totals counts the teacher's records, those with a stored summary, and distinct student names.
func (r *ConsultationRepository) Totals(ctx context.Context, teacherID string) (*models.ConsultationTotals, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE COALESCE(ai_summary, '') <> '') AS ai_summary_count,
        COUNT(DISTINCT student_name) AS student_count
        FROM consultations WHERE teacher_id = $1`
	var totals models.ConsultationTotals
	if err := r.db.GetContext(ctx, &totals, query, teacherID); err != nil {
		return nil, fmt.Errorf("consultation totals: %w", err)
	}
	return &totals, nil
}

// MonthlyCounts returns record counts keyed by yyyy-MM for dates on or after since (yyyy-MM-dd).
func (r *ConsultationRepository) MonthlyCounts(ctx context.Context, teacherID, since string) (map[string]int, error) {
	const query = `SELECT LEFT(date::text, 7) AS month, COUNT(*) AS count
        FROM consultations WHERE teacher_id = $1 AND date::text >= $2
        GROUP BY month ORDER BY month`
	var rows []struct {
		Month string `db:"month"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, teacherID, since); err != nil {
		return nil, fmt.Errorf("monthly consultation counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Month] = row.Count
	}
	return counts, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
