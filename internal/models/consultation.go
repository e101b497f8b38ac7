package models

import (
	"strings"
	"time"
)

// Consultation is one logged teacher/student interaction.
type Consultation struct {
	ID              string    `db:"id" json:"id"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	Date            string    `db:"date" json:"date"`
	Time            string    `db:"time" json:"time"`
	StudentID       string    `db:"student_id" json:"student_id"`
	StudentName     string    `db:"student_name" json:"student_name"`
	Topic           *string   `db:"topic" json:"topic,omitempty"`
	OriginalContent string    `db:"original_content" json:"original_content"`
	AISummary       *string   `db:"ai_summary" json:"ai_summary,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// TopicValue returns the topic or an empty string.
func (c Consultation) TopicValue() string {
	if c.Topic == nil {
		return ""
	}
	return *c.Topic
}

// SummaryValue returns the AI summary or an empty string.
func (c Consultation) SummaryValue() string {
	if c.AISummary == nil {
		return ""
	}
	return *c.AISummary
}

// StudentKey identifies a student across regenerations by id and display name.
func (c Consultation) StudentKey() string {
	return BuildStudentKey(c.StudentID, c.StudentName)
}

// BuildStudentKey joins a student id and name into a stable key.
func BuildStudentKey(studentID, studentName string) string {
	return strings.TrimSpace(studentID) + "::" + strings.TrimSpace(studentName)
}

// ConsultationFilter narrows consultation listings for a teacher.
type ConsultationFilter struct {
	TeacherID string
	Date      string
	StudentID string
	Search    string
	Page      int
	PageSize  int
}

// StudentGroup aggregates one student's consultation records for draft generation.
type StudentGroup struct {
	StudentKey        string         `json:"student_key"`
	StudentID         string         `json:"student_id"`
	StudentName       string         `json:"student_name"`
	Records           []Consultation `json:"records,omitempty"`
	SelectedRecordIDs []string       `json:"selected_record_ids,omitempty"`
	ConsultationCount int            `json:"consultation_count"`
	LastConsultation  string         `json:"last_consultation"`
}

// SelectedRecords returns the records whose ids are selected, preserving record order.
func (g StudentGroup) SelectedRecords() []Consultation {
	if len(g.SelectedRecordIDs) == 0 {
		return nil
	}
	selected := make(map[string]struct{}, len(g.SelectedRecordIDs))
	for _, id := range g.SelectedRecordIDs {
		selected[id] = struct{}{}
	}
	out := make([]Consultation, 0, len(g.SelectedRecordIDs))
	for _, record := range g.Records {
		if _, ok := selected[record.ID]; ok {
			out = append(out, record)
		}
	}
	return out
}

// ConsultationTotals holds the headline counts for a teacher's records.
type ConsultationTotals struct {
	Total          int `db:"total" json:"total_consultations"`
	AISummaryCount int `db:"ai_summary_count" json:"ai_summary_count"`
	StudentCount   int `db:"student_count" json:"student_count"`
}

// MonthlyCount is the number of records dated in one calendar month.
type MonthlyCount struct {
	Month string `json:"month"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ConsultationStats backs the teacher dashboard.
type ConsultationStats struct {
	ConsultationTotals
	Monthly []MonthlyCount `json:"monthly"`
}
