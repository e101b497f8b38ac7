package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/llm"
)

// SummarySystemMessage instructs the model to tidy one consultation note.
const SummarySystemMessage = `당신은 학교 교사의 학생 상담 기록을 정리하는 전문가입니다.
다음 상담 내용을 포멀하고 공식적인 문체로 정돈하여 작성해주세요.

[중요 규칙]
• 마크다운 기호(##, **, -, * 등)를 절대 사용하지 마세요
• "상담교사"라는 단어를 절대 사용하지 마세요 (일반 교사의 상담임)
• 원본에 없는 내용을 절대 만들어 내지 마세요
• 작성된 내용을 그대로 포멀한 문체로 다듬기만 하세요

[작성 형식]
• 제목은 【】로 표시
• 불릿은 • 사용
• 중요 키워드는 「」로 강조

[작성 내용 - 아래 두 섹션만 작성]
【상담 개요】
→ 상담 주제를 한 줄로 정리

【상담 내용】
→ 원본 내용을 포멀한 문체로 정돈하여 작성
→ 새로운 내용 추가 금지, 원본 내용만 다듬어서 작성`

type consultationRepository interface {
	List(ctx context.Context, filter models.ConsultationFilter) ([]models.Consultation, int, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Consultation, error)
	FindByID(ctx context.Context, teacherID, id string) (*models.Consultation, error)
	Create(ctx context.Context, record *models.Consultation) error
	Update(ctx context.Context, record *models.Consultation) error
	Delete(ctx context.Context, teacherID, id string) error
	DeleteByStudent(ctx context.Context, teacherID, studentID, studentName string) (int64, error)
	Totals(ctx context.Context, teacherID string) (*models.ConsultationTotals, error)
	MonthlyCounts(ctx context.Context, teacherID, since string) (map[string]int, error)
}

// statsMonths is how many calendar months the dashboard chart covers, current month included.
const statsMonths = 6

type dbQueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// ConsultationServiceConfig toggles optional features.
type ConsultationServiceConfig struct {
	SummarizeEnabled bool
}

// ConsultationService manages a teacher's consultation records.
type ConsultationService struct {
	repo      consultationRepository
	llm       textGenerator
	validator *validator.Validate
	logger    *zap.Logger
	metrics   dbQueryObserver
	now       func() time.Time
	cfg       ConsultationServiceConfig
}

// NewConsultationService constructs the service.
func NewConsultationService(repo consultationRepository, llmClient textGenerator, validate *validator.Validate, logger *zap.Logger, cfg ConsultationServiceConfig) *ConsultationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ConsultationService{repo: repo, llm: llmClient, validator: validate, logger: logger, now: time.Now, cfg: cfg}
	svc.validator.RegisterValidation("yyyymmdd", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
	svc.validator.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})
	return svc
}

// ConsultationListRequest describes filters for listing records.
type ConsultationListRequest struct {
	Date      string `form:"date"`
	StudentID string `form:"student_id"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// CreateConsultationRequest describes the create payload.
type CreateConsultationRequest struct {
	Date            string  `json:"date" validate:"required,yyyymmdd"`
	Time            string  `json:"time" validate:"required,hhmm"`
	StudentID       string  `json:"student_id" validate:"max=32"`
	StudentName     string  `json:"student_name" validate:"required,max=64"`
	Topic           *string `json:"topic" validate:"omitempty,max=200"`
	OriginalContent string  `json:"original_content" validate:"required"`
	AISummary       *string `json:"ai_summary"`
}

// UpdateConsultationRequest describes the update payload.
type UpdateConsultationRequest = CreateConsultationRequest

// SummarizeRequest asks for a tidied version of one note. When ConsultationID is set the
// record's fields are used and the summary is stored on it.
type SummarizeRequest struct {
	ConsultationID         string `json:"consultation_id"`
	Date                   string `json:"date"`
	Time                   string `json:"time"`
	StudentID              string `json:"student_id"`
	StudentName            string `json:"student_name"`
	Topic                  string `json:"topic"`
	Content                string `json:"content"`
	Model                  string `json:"model"`
	AdditionalInstructions string `json:"additional_instructions"`
	TargetChars            int    `json:"target_chars" validate:"omitempty,min=50,max=500"`
}

// SummarizeResponse carries the cleaned summary.
type SummarizeResponse struct {
	Summary        string `json:"summary"`
	ConsultationID string `json:"consultation_id,omitempty"`
	Saved          bool   `json:"saved"`
}

// SetMetrics enables query timing for the listing paths.
func (s *ConsultationService) SetMetrics(metrics dbQueryObserver) {
	s.metrics = metrics
}

func (s *ConsultationService) observe(label string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

// List returns the teacher's records with pagination.
func (s *ConsultationService) List(ctx context.Context, teacherID string, req ConsultationListRequest) ([]models.Consultation, *models.Pagination, error) {
	filter := models.ConsultationFilter{
		TeacherID: teacherID,
		Date:      strings.TrimSpace(req.Date),
		StudentID: strings.TrimSpace(req.StudentID),
		Search:    strings.TrimSpace(req.Search),
		Page:      req.Page,
		PageSize:  req.PageSize,
	}
	start := time.Now()
	records, total, err := s.repo.List(ctx, filter)
	s.observe("consultations_list", start)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list consultations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one record owned by the teacher.
func (s *ConsultationService) Get(ctx context.Context, teacherID, id string) (*models.Consultation, error) {
	record, err := s.repo.FindByID(ctx, teacherID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "consultation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consultation")
	}
	return record, nil
}

// Create stores a new record for the teacher.
func (s *ConsultationService) Create(ctx context.Context, teacherID string, req CreateConsultationRequest) (*models.Consultation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid consultation payload")
	}
	record := &models.Consultation{TeacherID: teacherID}
	applyConsultation(record, req)
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create consultation")
	}
	return record, nil
}

// Update replaces the editable fields of a record.
func (s *ConsultationService) Update(ctx context.Context, teacherID, id string, req UpdateConsultationRequest) (*models.Consultation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid consultation payload")
	}
	record, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return nil, err
	}
	applyConsultation(record, req)
	if err := s.repo.Update(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "consultation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update consultation")
	}
	return record, nil
}

// Delete removes a record.
func (s *ConsultationService) Delete(ctx context.Context, teacherID, id string) error {
	if err := s.repo.Delete(ctx, teacherID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "consultation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete consultation")
	}
	return nil
}

// DeleteStudent removes every record of the student identified by key (id::name) and
// returns how many were deleted.
func (s *ConsultationService) DeleteStudent(ctx context.Context, teacherID, studentKey string) (int64, error) {
	studentID, studentName, ok := strings.Cut(studentKey, "::")
	studentID, studentName = strings.TrimSpace(studentID), strings.TrimSpace(studentName)
	if !ok || studentName == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid student key")
	}
	deleted, err := s.repo.DeleteByStudent(ctx, teacherID, studentID, studentName)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student consultations")
	}
	if deleted == 0 {
		return 0, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	s.logger.Info("student consultations deleted", zap.String("teacher_id", teacherID), zap.String("student_key", studentKey), zap.Int64("deleted", deleted))
	return deleted, nil
}

// Stats returns the dashboard counts and a per-month series for the last six months,
// oldest first, with empty months reported as zero.
func (s *ConsultationService) Stats(ctx context.Context, teacherID string) (*models.ConsultationStats, error) {
	start := time.Now()
	totals, err := s.repo.Totals(ctx, teacherID)
	s.observe("consultations_totals", start)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consultation stats")
	}

	now := s.now()
	first := time.Date(now.Year(), now.Month()-(statsMonths-1), 1, 0, 0, 0, 0, now.Location())
	start = time.Now()
	counts, err := s.repo.MonthlyCounts(ctx, teacherID, first.Format("2006-01-02"))
	s.observe("consultations_monthly", start)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consultation stats")
	}

	stats := &models.ConsultationStats{ConsultationTotals: *totals, Monthly: make([]models.MonthlyCount, 0, statsMonths)}
	for i := 0; i < statsMonths; i++ {
		month := first.AddDate(0, i, 0)
		key := month.Format("2006-01")
		stats.Monthly = append(stats.Monthly, models.MonthlyCount{
			Month: key,
			Label: strconv.Itoa(int(month.Month())) + "월",
			Count: counts[key],
		})
	}
	return stats, nil
}

// StudentGroups aggregates the teacher's records per student. selected maps student keys to
// record ids the teacher ticked; ids belonging to other students are ignored.
func (s *ConsultationService) StudentGroups(ctx context.Context, teacherID string, selected map[string][]string) ([]models.StudentGroup, error) {
	start := time.Now()
	records, err := s.repo.ListByTeacher(ctx, teacherID)
	s.observe("consultations_by_teacher", start)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consultations")
	}
	return GroupByStudent(records, selected), nil
}

// GroupByStudent groups records by student key, newest record first inside each group, and
// orders groups by student name.
func GroupByStudent(records []models.Consultation, selected map[string][]string) []models.StudentGroup {
	index := make(map[string]int)
	groups := make([]models.StudentGroup, 0)
	for _, record := range records {
		key := record.StudentKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, models.StudentGroup{
				StudentKey:  key,
				StudentID:   strings.TrimSpace(record.StudentID),
				StudentName: strings.TrimSpace(record.StudentName),
			})
		}
		groups[i].Records = append(groups[i].Records, record)
	}

	for i := range groups {
		group := &groups[i]
		sort.SliceStable(group.Records, func(a, b int) bool {
			if group.Records[a].Date != group.Records[b].Date {
				return group.Records[a].Date > group.Records[b].Date
			}
			return group.Records[a].Time > group.Records[b].Time
		})
		group.ConsultationCount = len(group.Records)
		if len(group.Records) > 0 {
			group.LastConsultation = strings.TrimSpace(group.Records[0].Date + " " + group.Records[0].Time)
		}
		if ids, ok := selected[group.StudentKey]; ok {
			owned := make(map[string]struct{}, len(group.Records))
			for _, record := range group.Records {
				owned[record.ID] = struct{}{}
			}
			for _, id := range ids {
				if _, mine := owned[id]; mine {
					group.SelectedRecordIDs = append(group.SelectedRecordIDs, id)
				}
			}
		}
	}

	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].StudentName != groups[b].StudentName {
			return groups[a].StudentName < groups[b].StudentName
		}
		return groups[a].StudentID < groups[b].StudentID
	})
	return groups
}

// Summarize tidies one consultation note with the completion backend.
func (s *ConsultationService) Summarize(ctx context.Context, teacherID string, req SummarizeRequest) (*SummarizeResponse, error) {
	if !s.cfg.SummarizeEnabled || s.llm == nil {
		return nil, appErrors.Clone(appErrors.ErrFeatureDisabled, "summarize is disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid summarize payload")
	}

	var record *models.Consultation
	if req.ConsultationID != "" {
		found, err := s.Get(ctx, teacherID, req.ConsultationID)
		if err != nil {
			return nil, err
		}
		record = found
		req.Date, req.Time = found.Date, found.Time
		req.StudentID, req.StudentName = found.StudentID, found.StudentName
		req.Topic = found.TopicValue()
		if strings.TrimSpace(req.Content) == "" {
			req.Content = found.OriginalContent
		}
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "요약할 내용이 없습니다.")
	}

	prompt := buildSummaryPrompt(req)
	if req.TargetChars > 0 {
		prompt += "\n" + CharacterGuideline(req.TargetChars)
	}
	raw, err := s.llm.GenerateWithRetry(ctx, llm.GenerateRequest{
		SystemMessage:          SummarySystemMessage,
		Prompt:                 prompt,
		AdditionalInstructions: req.AdditionalInstructions,
		Model:                  req.Model,
	})
	if err != nil {
		return nil, generationError(err)
	}

	summary := CleanMetaInfo(raw)
	if req.TargetChars > 0 {
		if truncated := TruncateToCompleteSentence(summary, req.TargetChars); truncated != "" {
			summary = truncated
		}
	}
	if summary == "" {
		return nil, appErrors.WrapAs(llm.ErrEmptyResponse, appErrors.ErrGenerationFailed, llm.ErrEmptyResponse.Error())
	}

	resp := &SummarizeResponse{Summary: summary}
	if record != nil {
		record.AISummary = &summary
		if err := s.repo.Update(ctx, record); err != nil {
			s.logger.Warn("failed to store consultation summary", zap.String("consultation_id", record.ID), zap.Error(err))
		} else {
			resp.ConsultationID = record.ID
			resp.Saved = true
		}
	}
	return resp, nil
}

func buildSummaryPrompt(req SummarizeRequest) string {
	var b strings.Builder
	b.WriteString("날짜: " + strings.TrimSpace(req.Date+" "+req.Time) + "\n")
	b.WriteString("학생: " + req.StudentName + " (" + req.StudentID + ")\n")
	b.WriteString("주제: " + req.Topic + "\n")
	b.WriteString("내용: " + req.Content + "\n\n")
	b.WriteString("위 형식대로 간결하게 정리해주세요:")
	return b.String()
}

func applyConsultation(record *models.Consultation, req CreateConsultationRequest) {
	record.Date = req.Date
	record.Time = req.Time
	record.StudentID = strings.TrimSpace(req.StudentID)
	record.StudentName = strings.TrimSpace(req.StudentName)
	record.Topic = trimmedOrNil(req.Topic)
	record.OriginalContent = req.OriginalContent
	record.AISummary = trimmedOrNil(req.AISummary)
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// generationError maps completion failures to API errors.
func generationError(err error) error {
	var svcErr *llm.ServiceError
	if errors.As(err, &svcErr) {
		return appErrors.WrapAs(err, appErrors.ErrGenerationFailed, svcErr.Message)
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return appErrors.WrapAs(err, appErrors.ErrGenerationFailed, llm.ErrEmptyResponse.Error())
	}
	return appErrors.WrapAs(err, appErrors.ErrGenerationFailed, "")
}
