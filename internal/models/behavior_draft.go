package models

import "time"

// EvidenceMode selects which of a student's records feed the prompt.
type EvidenceMode string

const (
	EvidenceModeAllRecords   EvidenceMode = "all_records"
	EvidenceModeSelectedOnly EvidenceMode = "selected_only"
)

// Valid reports whether the mode is known.
func (m EvidenceMode) Valid() bool {
	return m == EvidenceModeAllRecords || m == EvidenceModeSelectedOnly
}

// DraftStatus is the lifecycle state of a behavior draft.
type DraftStatus string

const (
	DraftStatusPending    DraftStatus = "pending"
	DraftStatusGenerating DraftStatus = "generating"
	DraftStatusCompleted  DraftStatus = "completed"
	DraftStatusFailed     DraftStatus = "failed"
)

// Label returns the status label used in exports.
func (s DraftStatus) Label() string {
	switch s {
	case DraftStatusPending:
		return "대기"
	case DraftStatusGenerating:
		return "생성 중"
	case DraftStatusCompleted:
		return "완료"
	case DraftStatusFailed:
		return "실패"
	default:
		return string(s)
	}
}

// Terminal reports whether the draft finished generating.
func (s DraftStatus) Terminal() bool {
	return s == DraftStatusCompleted || s == DraftStatusFailed
}

// EvidenceItem is one formatted consultation line inserted into a prompt.
type EvidenceItem struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Topic       string `json:"topic"`
	Observation string `json:"observation"`
}

// DraftRequest is the input to one student's prompt.
type DraftRequest struct {
	StudentName  string
	StudentID    string
	Evidence     []EvidenceItem
	TotalRecords int
	Mode         EvidenceMode
	LengthGuide  string
}

// Violation is one named reason a candidate draft was rejected.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ViolationReport is the result of validating one candidate draft.
type ViolationReport struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Messages returns the violation messages in order.
func (r ViolationReport) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// BehaviorDraft is the per-student draft record kept for a teacher.
type BehaviorDraft struct {
	StudentKey        string      `json:"student_key"`
	StudentID         string      `json:"student_id"`
	StudentName       string      `json:"student_name"`
	ConsultationCount int         `json:"consultation_count"`
	LastConsultation  string      `json:"last_consultation"`
	Content           string      `json:"content"`
	Status            DraftStatus `json:"status"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	Violations        []string    `json:"violations,omitempty"`
	Model             string      `json:"model,omitempty"`
	GeneratedAt       *time.Time  `json:"generated_at,omitempty"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// BatchProgress tracks aggregate progress of one batch run.
type BatchProgress struct {
	BatchID    string       `json:"batch_id"`
	Mode       EvidenceMode `json:"mode"`
	Model      string       `json:"model"`
	Total      int          `json:"total"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Running    bool         `json:"running"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// DraftResult is emitted once per student as a batch progresses.
type DraftResult struct {
	StudentKey string        `json:"student_key"`
	Draft      BehaviorDraft `json:"draft"`
	Progress   BatchProgress `json:"progress"`
	Err        error         `json:"-"`
}
