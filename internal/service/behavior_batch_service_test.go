package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/dto"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/jobs"
	"github.com/noah-isme/sma-counsel-api/pkg/llm"
)

const testTeacher = "teacher-1"

type memDraftStore struct {
	mu       sync.Mutex
	drafts   map[string]models.BehaviorDraft
	progress *models.BatchProgress
	saves    int
	deleted  []string
}

func newMemDraftStore() *memDraftStore {
	return &memDraftStore{drafts: make(map[string]models.BehaviorDraft)}
}

func (s *memDraftStore) Get(ctx context.Context, teacherID, studentKey string) (*models.BehaviorDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[studentKey]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (s *memDraftStore) List(ctx context.Context, teacherID string) ([]models.BehaviorDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BehaviorDraft, 0, len(s.drafts))
	for _, draft := range s.drafts {
		out = append(out, draft)
	}
	return out, nil
}

func (s *memDraftStore) Save(ctx context.Context, teacherID string, draft *models.BehaviorDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.drafts[draft.StudentKey] = *draft
	return nil
}

func (s *memDraftStore) Delete(ctx context.Context, teacherID string, studentKeys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range studentKeys {
		delete(s.drafts, key)
		s.deleted = append(s.deleted, key)
	}
	return nil
}

func (s *memDraftStore) SaveProgress(ctx context.Context, teacherID string, progress *models.BatchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *progress
	s.progress = &copied
	return nil
}

func (s *memDraftStore) GetProgress(ctx context.Context, teacherID string) (*models.BatchProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return nil, nil
	}
	copied := *s.progress
	return &copied, nil
}

func (s *memDraftStore) draft(key string) models.BehaviorDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[key]
}

type staticGroups struct {
	records []models.Consultation
}

func (g staticGroups) StudentGroups(ctx context.Context, teacherID string, selected map[string][]string) ([]models.StudentGroup, error) {
	return GroupByStudent(g.records, selected), nil
}

// namedPipeline fails for students listed in failFor and echoes a valid draft otherwise.
type namedPipeline struct {
	mu      sync.Mutex
	failFor map[string]error
	calls   []string
}

func (p *namedPipeline) GenerateValidatedDraft(ctx context.Context, prompt, model string) (string, error) {
	name := studentNameFromPrompt(prompt)
	p.mu.Lock()
	p.calls = append(p.calls, name)
	p.mu.Unlock()
	if err, ok := p.failFor[name]; ok {
		return "", err
	}
	return name + " 성실함.", nil
}

func (p *namedPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func studentNameFromPrompt(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "- 이름: ") {
			return strings.TrimPrefix(line, "- 이름: ")
		}
	}
	return ""
}

type testCatalog struct{}

func (testCatalog) Default() string         { return "model-default" }
func (testCatalog) Contains(id string) bool { return id == "model-default" || id == "model-b" }

type captureDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *captureDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type statusCounter struct {
	mu     sync.Mutex
	counts map[models.DraftStatus]int
}

func (c *statusCounter) RecordDraftStatus(status models.DraftStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[models.DraftStatus]int)
	}
	c.counts[status]++
}

func studentRecords(names ...string) []models.Consultation {
	var records []models.Consultation
	for i, name := range names {
		for j := 0; j < 2; j++ {
			records = append(records, models.Consultation{
				ID:              fmt.Sprintf("%s-%d", name, j),
				TeacherID:       testTeacher,
				Date:            fmt.Sprintf("2024-04-%02d", j+1),
				Time:            "10:00",
				StudentID:       fmt.Sprintf("S%d", i+1),
				StudentName:     name,
				OriginalContent: name + " 관찰",
			})
		}
	}
	return records
}

func studentKeyFor(index int, name string) string {
	return models.BuildStudentKey(fmt.Sprintf("S%d", index), name)
}

func newBatchServiceForTest(store draftStore, records []models.Consultation, pipeline draftPipeline, metrics draftStatusRecorder) *BehaviorBatchService {
	return NewBehaviorBatchService(store, staticGroups{records: records}, pipeline, testCatalog{}, metrics, validator.New(), zap.NewNop(), BehaviorBatchConfig{})
}

func allTargets(t *testing.T, svc *BehaviorBatchService, keys ...string) []models.StudentGroup {
	t.Helper()
	targets, err := svc.ResolveTargets(context.Background(), testTeacher, dto.BehaviorBatchRequest{StudentKeys: keys, Mode: models.EvidenceModeAllRecords})
	require.NoError(t, err)
	return targets
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	store := newMemDraftStore()
	pipeline := &namedPipeline{failFor: map[string]error{"나학생": &llm.ServiceError{StatusCode: 500, Message: "서버 오류 (500)"}}}
	metrics := &statusCounter{}
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생", "다학생"), pipeline, metrics)
	targets := allTargets(t, svc, studentKeyFor(1, "가학생"), studentKeyFor(2, "나학생"), studentKeyFor(3, "다학생"))

	drafts, progress, err := svc.RunBatch(context.Background(), testTeacher, targets, models.EvidenceModeAllRecords, "")
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.Equal(t, models.DraftStatusCompleted, drafts[0].Status)
	assert.Equal(t, "가학생 성실함.", drafts[0].Content)
	assert.Equal(t, models.DraftStatusFailed, drafts[1].Status)
	assert.Equal(t, "서버 오류 (500)", drafts[1].ErrorMessage)
	assert.Equal(t, models.DraftStatusCompleted, drafts[2].Status)
	assert.Equal(t, "다학생 성실함.", drafts[2].Content)
	assert.Equal(t, "model-default", drafts[2].Model)

	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)

	stored, err := svc.Progress(context.Background(), testTeacher)
	require.NoError(t, err)
	assert.False(t, stored.Running)
	assert.NotNil(t, stored.FinishedAt)
	assert.False(t, svc.Running(testTeacher))
	assert.Equal(t, []string{"가학생", "나학생", "다학생"}, pipeline.calls)
	assert.Equal(t, 2, metrics.counts[models.DraftStatusCompleted])
	assert.Equal(t, 1, metrics.counts[models.DraftStatusFailed])
	assert.Equal(t, models.DraftStatusFailed, store.draft(studentKeyFor(2, "나학생")).Status)
}

func TestRunBatchRecordsValidationViolations(t *testing.T) {
	store := newMemDraftStore()
	exhausted := &ValidationExhaustedError{Attempts: 5, Violations: []models.Violation{{Code: ViolationMissingPeriod, Message: "본문이 마침표(.)로 끝나지 않음."}}}
	pipeline := &namedPipeline{failFor: map[string]error{"가학생": exhausted}}
	svc := newBatchServiceForTest(store, studentRecords("가학생"), pipeline, nil)

	drafts, _, err := svc.RunBatch(context.Background(), testTeacher, allTargets(t, svc), models.EvidenceModeAllRecords, "model-b")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "검증 규칙을 통과하지 못했습니다.", drafts[0].ErrorMessage)
	assert.Equal(t, []string{"본문이 마침표(.)로 끝나지 않음."}, drafts[0].Violations)
	assert.Equal(t, "model-b", drafts[0].Model)
}

func TestRunBatchPreflightRejectsBeforeGeneration(t *testing.T) {
	store := newMemDraftStore()
	existing := models.BehaviorDraft{StudentKey: studentKeyFor(2, "나학생"), StudentName: "나학생", Status: models.DraftStatusPending, Content: "기존 내용"}
	store.drafts[existing.StudentKey] = existing
	pipeline := &namedPipeline{}
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생"), pipeline, nil)

	targets, err := svc.ResolveTargets(context.Background(), testTeacher, dto.BehaviorBatchRequest{
		Mode:              models.EvidenceModeSelectedOnly,
		SelectedRecordIDs: map[string][]string{studentKeyFor(1, "가학생"): {"가학생-0"}},
	})
	require.NoError(t, err)

	_, _, err = svc.RunBatch(context.Background(), testTeacher, targets, models.EvidenceModeSelectedOnly, "")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPreflightRejected.Code, appErr.Code)
	assert.Equal(t, []string{"나학생"}, appErr.Details)

	var rejection *PreflightRejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, []string{"나학생"}, rejection.StudentNames)

	assert.Zero(t, pipeline.callCount())
	assert.Zero(t, store.saves)
	assert.Equal(t, existing, store.draft(existing.StudentKey))
	assert.False(t, svc.Running(testTeacher))
}

func TestRunBatchSelectedOnlyUsesSelectedRecords(t *testing.T) {
	store := newMemDraftStore()
	var prompts []string
	pipeline := draftPipelineFunc(func(ctx context.Context, prompt, model string) (string, error) {
		prompts = append(prompts, prompt)
		return "성실함.", nil
	})
	svc := newBatchServiceForTest(store, studentRecords("가학생"), pipeline, nil)

	targets, err := svc.ResolveTargets(context.Background(), testTeacher, dto.BehaviorBatchRequest{
		Mode:              models.EvidenceModeSelectedOnly,
		SelectedRecordIDs: map[string][]string{studentKeyFor(1, "가학생"): {"가학생-1", "someone-else"}},
	})
	require.NoError(t, err)
	_, _, err = svc.RunBatch(context.Background(), testTeacher, targets, models.EvidenceModeSelectedOnly, "")
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "- 전체 상담 건수: 1건")
	assert.Contains(t, prompts[0], "- 2024-04-02 10:00")
	assert.NotContains(t, prompts[0], "- 2024-04-01 10:00")
}

type draftPipelineFunc func(ctx context.Context, prompt, model string) (string, error)

func (f draftPipelineFunc) GenerateValidatedDraft(ctx context.Context, prompt, model string) (string, error) {
	return f(ctx, prompt, model)
}

func TestRunBatchPreservesEditedContentOnFailure(t *testing.T) {
	store := newMemDraftStore()
	store.drafts[studentKeyFor(1, "가학생")] = models.BehaviorDraft{StudentKey: studentKeyFor(1, "가학생"), Status: models.DraftStatusCompleted, Content: "교사가 수정한 내용."}
	pipeline := &namedPipeline{failFor: map[string]error{"가학생": llm.ErrEmptyResponse}}
	svc := newBatchServiceForTest(store, studentRecords("가학생"), pipeline, nil)

	drafts, _, err := svc.RunBatch(context.Background(), testTeacher, allTargets(t, svc), models.EvidenceModeAllRecords, "")
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusFailed, drafts[0].Status)
	assert.Equal(t, "교사가 수정한 내용.", drafts[0].Content)
	assert.Equal(t, llm.ErrEmptyResponse.Error(), drafts[0].ErrorMessage)
}

func TestStreamDeliversInOrderWithProgress(t *testing.T) {
	store := newMemDraftStore()
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생", "다학생"), &namedPipeline{}, nil)
	targets := allTargets(t, svc, studentKeyFor(3, "다학생"), studentKeyFor(1, "가학생"), studentKeyFor(2, "나학생"))

	results, err := svc.Stream(context.Background(), testTeacher, targets, models.EvidenceModeAllRecords, "")
	require.NoError(t, err)

	var order []string
	for result := range results {
		order = append(order, result.Draft.StudentName)
		assert.Equal(t, len(order), result.Progress.Completed)
		assert.Equal(t, 3, result.Progress.Total)
		assert.True(t, result.Progress.Running)
	}
	assert.Equal(t, []string{"다학생", "가학생", "나학생"}, order)
}

func TestStreamCancellationFailsRemaining(t *testing.T) {
	store := newMemDraftStore()
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생", "다학생"), &namedPipeline{}, nil)
	targets := allTargets(t, svc, studentKeyFor(1, "가학생"), studentKeyFor(2, "나학생"), studentKeyFor(3, "다학생"))

	ctx, cancel := context.WithCancel(context.Background())
	results, err := svc.Stream(ctx, testTeacher, targets, models.EvidenceModeAllRecords, "")
	require.NoError(t, err)

	first := <-results
	assert.Equal(t, models.DraftStatusCompleted, first.Draft.Status)
	cancel()
	for range results {
	}

	last := store.draft(studentKeyFor(3, "다학생"))
	assert.Equal(t, models.DraftStatusFailed, last.Status)
	assert.Equal(t, "작업이 취소되었습니다.", last.ErrorMessage)

	progress, err := svc.Progress(context.Background(), testTeacher)
	require.NoError(t, err)
	assert.False(t, progress.Running)
	assert.Equal(t, 3, progress.Completed+progress.Failed)
	assert.False(t, svc.Running(testTeacher))
}

func TestBatchRejectsConcurrentRuns(t *testing.T) {
	store := newMemDraftStore()
	svc := newBatchServiceForTest(store, studentRecords("가학생"), &namedPipeline{}, nil)
	require.NoError(t, svc.acquire(testTeacher, "other-batch"))

	_, err := svc.Stream(context.Background(), testTeacher, allTargets(t, svc), models.EvidenceModeAllRecords, "")
	assert.Equal(t, appErrors.ErrBatchRunning.Code, appErrors.FromError(err).Code)

	_, err = svc.RegenerateOne(context.Background(), testTeacher, studentKeyFor(1, "가학생"), dto.RegenerateDraftRequest{Mode: models.EvidenceModeAllRecords})
	assert.Equal(t, appErrors.ErrBatchRunning.Code, appErrors.FromError(err).Code)
	assert.Zero(t, store.saves)

	// another teacher is unaffected
	_, _, err = svc.RunBatch(context.Background(), "teacher-2", allTargets(t, svc), models.EvidenceModeAllRecords, "")
	assert.NoError(t, err)
}

func TestBatchRejectsUnknownModelAndEmptyTargets(t *testing.T) {
	svc := newBatchServiceForTest(newMemDraftStore(), studentRecords("가학생"), &namedPipeline{}, nil)

	_, err := svc.Stream(context.Background(), testTeacher, allTargets(t, svc), models.EvidenceModeAllRecords, "unknown")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Stream(context.Background(), testTeacher, nil, models.EvidenceModeAllRecords, "")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.ResolveTargets(context.Background(), testTeacher, dto.BehaviorBatchRequest{Mode: "bogus"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.ResolveTargets(context.Background(), testTeacher, dto.BehaviorBatchRequest{Mode: models.EvidenceModeAllRecords, StudentKeys: []string{"nobody::없음"}})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, []string{"nobody::없음"}, appErr.Details)
}

func TestStartBatchQueuesAndHandleJobRuns(t *testing.T) {
	store := newMemDraftStore()
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생"), &namedPipeline{}, nil)
	dispatcher := &captureDispatcher{}
	svc.SetQueue(dispatcher)
	req := dto.BehaviorBatchRequest{Mode: models.EvidenceModeAllRecords}

	res, err := svc.StartBatch(context.Background(), testTeacher, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "model-default", res.Model)
	require.Len(t, dispatcher.jobs, 1)
	assert.Equal(t, res.BatchID, dispatcher.jobs[0].ID)
	assert.Equal(t, behaviorBatchJobType, dispatcher.jobs[0].Type)

	assert.True(t, svc.Running(testTeacher))
	assert.Equal(t, models.DraftStatusPending, store.draft(studentKeyFor(1, "가학생")).Status)
	_, err = svc.StartBatch(context.Background(), testTeacher, req)
	assert.Equal(t, appErrors.ErrBatchRunning.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.HandleJob(context.Background(), dispatcher.jobs[0]))
	assert.False(t, svc.Running(testTeacher))
	assert.Equal(t, models.DraftStatusCompleted, store.draft(studentKeyFor(1, "가학생")).Status)
	assert.Equal(t, models.DraftStatusCompleted, store.draft(studentKeyFor(2, "나학생")).Status)

	progress, err := svc.Progress(context.Background(), testTeacher)
	require.NoError(t, err)
	assert.Equal(t, res.BatchID, progress.BatchID)
	assert.Equal(t, 2, progress.Completed)

	assert.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "x", Payload: "junk"}))
}

func TestStartBatchEnqueueFailureReleasesSlot(t *testing.T) {
	store := newMemDraftStore()
	svc := newBatchServiceForTest(store, studentRecords("가학생"), &namedPipeline{}, nil)

	_, err := svc.StartBatch(context.Background(), testTeacher, dto.BehaviorBatchRequest{Mode: models.EvidenceModeAllRecords})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	svc.SetQueue(&captureDispatcher{err: errors.New("queue stopped")})
	_, err = svc.StartBatch(context.Background(), testTeacher, dto.BehaviorBatchRequest{Mode: models.EvidenceModeAllRecords})
	require.Error(t, err)
	assert.False(t, svc.Running(testTeacher))
	assert.Equal(t, models.DraftStatusFailed, store.draft(studentKeyFor(1, "가학생")).Status)
}

func TestRegenerateOneLeavesOthersUntouched(t *testing.T) {
	store := newMemDraftStore()
	pipeline := &namedPipeline{}
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생"), pipeline, nil)
	_, _, err := svc.RunBatch(context.Background(), testTeacher, allTargets(t, svc), models.EvidenceModeAllRecords, "")
	require.NoError(t, err)
	before := store.draft(studentKeyFor(2, "나학생"))

	draft, err := svc.RegenerateOne(context.Background(), testTeacher, studentKeyFor(1, "가학생"), dto.RegenerateDraftRequest{Mode: models.EvidenceModeAllRecords, Model: "model-b"})
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusCompleted, draft.Status)
	assert.Equal(t, "model-b", draft.Model)
	assert.Equal(t, before, store.draft(studentKeyFor(2, "나학생")))
	assert.Equal(t, 3, pipeline.callCount())
	assert.False(t, svc.Running(testTeacher))

	_, err = svc.RegenerateOne(context.Background(), testTeacher, "missing::없음", dto.RegenerateDraftRequest{Mode: models.EvidenceModeAllRecords})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.RegenerateOne(context.Background(), testTeacher, studentKeyFor(1, "가학생"), dto.RegenerateDraftRequest{Mode: models.EvidenceModeSelectedOnly})
	assert.Equal(t, appErrors.ErrPreflightRejected.Code, appErrors.FromError(err).Code)
}

func TestUpdateContentStoresVerbatim(t *testing.T) {
	store := newMemDraftStore()
	store.drafts["done"] = models.BehaviorDraft{StudentKey: "done", Status: models.DraftStatusCompleted, Content: "원래 내용."}
	store.drafts["busy"] = models.BehaviorDraft{StudentKey: "busy", Status: models.DraftStatusGenerating}
	svc := newBatchServiceForTest(store, nil, &namedPipeline{}, nil)

	draft, err := svc.UpdateContent(context.Background(), testTeacher, "done", dto.UpdateDraftRequest{Content: "하지만 검증 안 된\n내용"})
	require.NoError(t, err)
	assert.Equal(t, "하지만 검증 안 된\n내용", draft.Content)
	assert.Equal(t, models.DraftStatusCompleted, store.draft("done").Status)
	assert.Equal(t, "하지만 검증 안 된\n내용", store.draft("done").Content)

	_, err = svc.UpdateContent(context.Background(), testTeacher, "busy", dto.UpdateDraftRequest{Content: "x"})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateContent(context.Background(), testTeacher, "nope", dto.UpdateDraftRequest{Content: "x"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUpdateContentRejectedWhileBatchRuns(t *testing.T) {
	store := newMemDraftStore()
	store.drafts["done"] = models.BehaviorDraft{StudentKey: "done", Status: models.DraftStatusCompleted, Content: "원래 내용."}
	svc := newBatchServiceForTest(store, nil, &namedPipeline{}, nil)
	require.NoError(t, svc.acquire(testTeacher, "batch"))

	_, err := svc.UpdateContent(context.Background(), testTeacher, "done", dto.UpdateDraftRequest{Content: "수정"})
	assert.Equal(t, appErrors.ErrBatchRunning.Code, appErrors.FromError(err).Code)
	assert.Equal(t, "원래 내용.", store.draft("done").Content)
	assert.Zero(t, store.saves)

	svc.release(testTeacher)
	draft, err := svc.UpdateContent(context.Background(), testTeacher, "done", dto.UpdateDraftRequest{Content: "수정"})
	require.NoError(t, err)
	assert.Equal(t, "수정", draft.Content)
}

func TestListDraftsPrunesStaleAndSorts(t *testing.T) {
	store := newMemDraftStore()
	store.drafts[studentKeyFor(2, "나학생")] = models.BehaviorDraft{StudentKey: studentKeyFor(2, "나학생"), StudentName: "나학생", Status: models.DraftStatusCompleted}
	store.drafts[studentKeyFor(1, "가학생")] = models.BehaviorDraft{StudentKey: studentKeyFor(1, "가학생"), StudentName: "가학생", Status: models.DraftStatusFailed}
	store.drafts["S9::전학생"] = models.BehaviorDraft{StudentKey: "S9::전학생", StudentName: "전학생"}
	svc := newBatchServiceForTest(store, studentRecords("가학생", "나학생"), &namedPipeline{}, nil)

	drafts, err := svc.ListDrafts(context.Background(), testTeacher)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "가학생", drafts[0].StudentName)
	assert.Equal(t, "나학생", drafts[1].StudentName)
	assert.Equal(t, 2, drafts[0].ConsultationCount)
	assert.Equal(t, "2024-04-02 10:00", drafts[0].LastConsultation)
	assert.Equal(t, []string{"S9::전학생"}, store.deleted)

	empty, err := newBatchServiceForTest(newMemDraftStore(), nil, &namedPipeline{}, nil).ListDrafts(context.Background(), testTeacher)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProgressNotFoundBeforeFirstBatch(t *testing.T) {
	svc := newBatchServiceForTest(newMemDraftStore(), nil, &namedPipeline{}, nil)
	_, err := svc.Progress(context.Background(), testTeacher)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
