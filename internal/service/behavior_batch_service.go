package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/dto"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/jobs"
	"github.com/noah-isme/sma-counsel-api/pkg/llm"
)

const behaviorBatchJobType = "behavior_batch"

type draftStore interface {
	Get(ctx context.Context, teacherID, studentKey string) (*models.BehaviorDraft, error)
	List(ctx context.Context, teacherID string) ([]models.BehaviorDraft, error)
	Save(ctx context.Context, teacherID string, draft *models.BehaviorDraft) error
	Delete(ctx context.Context, teacherID string, studentKeys ...string) error
	SaveProgress(ctx context.Context, teacherID string, progress *models.BatchProgress) error
	GetProgress(ctx context.Context, teacherID string) (*models.BatchProgress, error)
}

type studentGroupSource interface {
	StudentGroups(ctx context.Context, teacherID string, selected map[string][]string) ([]models.StudentGroup, error)
}

type draftPipeline interface {
	GenerateValidatedDraft(ctx context.Context, prompt, model string) (string, error)
}

type batchDispatcher interface {
	Enqueue(job jobs.Job) error
}

type modelCatalog interface {
	Default() string
	Contains(id string) bool
}

type draftStatusRecorder interface {
	RecordDraftStatus(status models.DraftStatus)
}

// PreflightRejectionError lists students that have no selected records in selected-only mode.
type PreflightRejectionError struct {
	StudentNames []string
}

func (e *PreflightRejectionError) Error() string {
	return fmt.Sprintf("선택된 상담 기록이 없는 학생이 있습니다: %s", strings.Join(e.StudentNames, ", "))
}

// BehaviorBatchConfig tunes evidence selection for prompts.
type BehaviorBatchConfig struct {
	MaxEvidenceItems int
	MaxNoteChars     int
	LengthGuide      string
}

// BehaviorBatchService coordinates per-student draft generation for a teacher.
type BehaviorBatchService struct {
	store     draftStore
	groups    studentGroupSource
	pipeline  draftPipeline
	catalog   modelCatalog
	metrics   draftStatusRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       BehaviorBatchConfig
	now       func() time.Time

	queueMu sync.RWMutex
	queue   batchDispatcher

	mu      sync.Mutex
	running map[string]string
}

// batchRun is a prepared batch: targets validated, drafts initialised, teacher slot held.
type batchRun struct {
	teacherID string
	targets   []models.StudentGroup
	drafts    []*models.BehaviorDraft
	mode      models.EvidenceMode
	model     string
	progress  models.BatchProgress
}

// NewBehaviorBatchService constructs the coordinator.
func NewBehaviorBatchService(store draftStore, groups studentGroupSource, pipeline draftPipeline, catalog modelCatalog, metrics draftStatusRecorder, validate *validator.Validate, logger *zap.Logger, cfg BehaviorBatchConfig) *BehaviorBatchService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxEvidenceItems <= 0 {
		cfg.MaxEvidenceItems = DefaultMaxEvidenceItems
	}
	if cfg.MaxNoteChars <= 0 {
		cfg.MaxNoteChars = DefaultMaxNoteChars
	}
	if cfg.LengthGuide == "" {
		cfg.LengthGuide = DefaultLengthGuide
	}
	svc := &BehaviorBatchService{
		store:     store,
		groups:    groups,
		pipeline:  pipeline,
		catalog:   catalog,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		running:   make(map[string]string),
	}
	svc.validator.RegisterValidation("evidence_mode", func(fl validator.FieldLevel) bool {
		return models.EvidenceMode(fl.Field().String()).Valid()
	})
	return svc
}

// SetQueue attaches the background dispatcher used by StartBatch.
func (s *BehaviorBatchService) SetQueue(queue batchDispatcher) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = queue
}

// ResolveTargets returns the teacher's student groups for the request, in the order the
// caller listed them. Selections are attached per student key.
func (s *BehaviorBatchService) ResolveTargets(ctx context.Context, teacherID string, req dto.BehaviorBatchRequest) ([]models.StudentGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	groups, err := s.groups.StudentGroups(ctx, teacherID, req.SelectedRecordIDs)
	if err != nil {
		return nil, err
	}
	if len(req.StudentKeys) == 0 {
		return groups, nil
	}

	byKey := make(map[string]models.StudentGroup, len(groups))
	for _, group := range groups {
		byKey[group.StudentKey] = group
	}
	targets := make([]models.StudentGroup, 0, len(req.StudentKeys))
	seen := make(map[string]struct{}, len(req.StudentKeys))
	var unknown []string
	for _, key := range req.StudentKeys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		group, ok := byKey[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		targets = append(targets, group)
	}
	if len(unknown) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "unknown student keys"), unknown)
	}
	return targets, nil
}

// Stream validates and initialises a batch, then generates drafts one student at a time in
// a single goroutine. Each finished student is delivered on the returned unbuffered channel
// before the next one starts; the channel is closed when the batch ends or ctx is cancelled.
func (s *BehaviorBatchService) Stream(ctx context.Context, teacherID string, targets []models.StudentGroup, mode models.EvidenceMode, model string) (<-chan models.DraftResult, error) {
	run, err := s.prepare(ctx, teacherID, targets, mode, model)
	if err != nil {
		return nil, err
	}

	out := make(chan models.DraftResult)
	go func() {
		defer close(out)
		s.execute(ctx, run, func(result models.DraftResult) bool {
			select {
			case out <- result:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// RunBatch drains Stream and returns the final drafts with the last progress snapshot.
func (s *BehaviorBatchService) RunBatch(ctx context.Context, teacherID string, targets []models.StudentGroup, mode models.EvidenceMode, model string) ([]models.BehaviorDraft, *models.BatchProgress, error) {
	results, err := s.Stream(ctx, teacherID, targets, mode, model)
	if err != nil {
		return nil, nil, err
	}
	drafts := make([]models.BehaviorDraft, 0, len(targets))
	progress := &models.BatchProgress{Mode: mode, Total: len(targets)}
	for result := range results {
		drafts = append(drafts, result.Draft)
		p := result.Progress
		progress = &p
	}
	return drafts, progress, nil
}

// StartBatch prepares a batch synchronously, so preflight and concurrency rejections reach the
// caller, and hands generation to the background queue.
func (s *BehaviorBatchService) StartBatch(ctx context.Context, teacherID string, req dto.BehaviorBatchRequest) (*dto.BatchStartResponse, error) {
	s.queueMu.RLock()
	queue := s.queue
	s.queueMu.RUnlock()
	if queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "batch queue not configured")
	}

	targets, err := s.ResolveTargets(ctx, teacherID, req)
	if err != nil {
		return nil, err
	}
	run, err := s.prepare(ctx, teacherID, targets, req.Mode, req.Model)
	if err != nil {
		return nil, err
	}

	if err := queue.Enqueue(jobs.Job{ID: run.progress.BatchID, Type: behaviorBatchJobType, Payload: run}); err != nil {
		s.abort(context.WithoutCancel(ctx), run, "작업을 시작하지 못했습니다.")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue draft batch")
	}

	s.logger.Info("behavior batch queued",
		zap.String("teacher_id", teacherID),
		zap.String("batch_id", run.progress.BatchID),
		zap.Int("total", len(targets)),
	)
	return &dto.BatchStartResponse{
		BatchID: run.progress.BatchID,
		Total:   len(targets),
		Mode:    run.mode,
		Model:   run.model,
	}, nil
}

// HandleJob is the queue handler for batches enqueued by StartBatch. It never asks for a retry.
func (s *BehaviorBatchService) HandleJob(ctx context.Context, job jobs.Job) error {
	run, ok := job.Payload.(*batchRun)
	if !ok || run == nil {
		s.logger.Error("unexpected batch job payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	s.execute(ctx, run, nil)
	return nil
}

// RegenerateOne reruns the pipeline for a single student, leaving other drafts untouched.
func (s *BehaviorBatchService) RegenerateOne(ctx context.Context, teacherID, studentKey string, req dto.RegenerateDraftRequest) (*models.BehaviorDraft, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid regenerate payload")
	}
	var selected map[string][]string
	if len(req.SelectedRecordIDs) > 0 {
		selected = map[string][]string{studentKey: req.SelectedRecordIDs}
	}
	groups, err := s.groups.StudentGroups(ctx, teacherID, selected)
	if err != nil {
		return nil, err
	}
	var target *models.StudentGroup
	for i := range groups {
		if groups[i].StudentKey == studentKey {
			target = &groups[i]
			break
		}
	}
	if target == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	model, err := s.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	if err := preflight([]models.StudentGroup{*target}, req.Mode); err != nil {
		return nil, err
	}
	if err := s.acquire(teacherID, "regenerate:"+studentKey); err != nil {
		return nil, err
	}
	defer s.release(teacherID)

	storeCtx := context.WithoutCancel(ctx)
	draft, err := s.initialDraft(storeCtx, teacherID, *target, model)
	if err != nil {
		return nil, err
	}
	result := s.generateOne(ctx, storeCtx, teacherID, *target, req.Mode, model, draft)
	return &result.Draft, nil
}

// UpdateContent stores user-edited text verbatim; edited drafts are not revalidated.
func (s *BehaviorBatchService) UpdateContent(ctx context.Context, teacherID, studentKey string, req dto.UpdateDraftRequest) (*models.BehaviorDraft, error) {
	if s.Running(teacherID) {
		return nil, appErrors.Clone(appErrors.ErrBatchRunning, "drafts cannot be edited while a batch is running")
	}
	draft, err := s.store.Get(ctx, teacherID, studentKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft")
	}
	if draft == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "draft not found")
	}
	if !draft.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "draft is still being generated")
	}
	draft.Content = req.Content
	draft.UpdatedAt = s.now()
	if err := s.store.Save(ctx, teacherID, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save draft")
	}
	return draft, nil
}

// ListDrafts returns the teacher's drafts, pruning those whose student no longer has records.
func (s *BehaviorBatchService) ListDrafts(ctx context.Context, teacherID string) ([]models.BehaviorDraft, error) {
	drafts, err := s.store.List(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list drafts")
	}
	if len(drafts) == 0 {
		return []models.BehaviorDraft{}, nil
	}
	groups, err := s.groups.StudentGroups(ctx, teacherID, nil)
	if err != nil {
		return nil, err
	}
	groupByKey := make(map[string]models.StudentGroup, len(groups))
	for _, group := range groups {
		groupByKey[group.StudentKey] = group
	}

	kept := make([]models.BehaviorDraft, 0, len(drafts))
	var stale []string
	for _, draft := range drafts {
		group, ok := groupByKey[draft.StudentKey]
		if !ok {
			stale = append(stale, draft.StudentKey)
			continue
		}
		draft.ConsultationCount = group.ConsultationCount
		draft.LastConsultation = group.LastConsultation
		kept = append(kept, draft)
	}
	if len(stale) > 0 {
		if err := s.store.Delete(ctx, teacherID, stale...); err != nil {
			s.logger.Warn("failed to prune stale drafts", zap.String("teacher_id", teacherID), zap.Error(err))
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].StudentName != kept[j].StudentName {
			return kept[i].StudentName < kept[j].StudentName
		}
		return kept[i].StudentKey < kept[j].StudentKey
	})
	return kept, nil
}

// Progress returns the most recent batch progress for the teacher.
func (s *BehaviorBatchService) Progress(ctx context.Context, teacherID string) (*models.BatchProgress, error) {
	progress, err := s.store.GetProgress(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch progress")
	}
	if progress == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no batch has been started")
	}
	return progress, nil
}

// Running reports whether the teacher currently holds a batch slot.
func (s *BehaviorBatchService) Running(teacherID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[teacherID]
	return ok
}

func (s *BehaviorBatchService) prepare(ctx context.Context, teacherID string, targets []models.StudentGroup, mode models.EvidenceMode, model string) (*batchRun, error) {
	if !mode.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported evidence mode")
	}
	if len(targets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no students to generate drafts for")
	}
	resolvedModel, err := s.resolveModel(model)
	if err != nil {
		return nil, err
	}
	if err := preflight(targets, mode); err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	if err := s.acquire(teacherID, batchID); err != nil {
		return nil, err
	}

	storeCtx := context.WithoutCancel(ctx)
	run := &batchRun{
		teacherID: teacherID,
		targets:   targets,
		drafts:    make([]*models.BehaviorDraft, 0, len(targets)),
		mode:      mode,
		model:     resolvedModel,
		progress: models.BatchProgress{
			BatchID:   batchID,
			Mode:      mode,
			Model:     resolvedModel,
			Total:     len(targets),
			Running:   true,
			StartedAt: s.now(),
		},
	}
	for _, target := range targets {
		draft, err := s.initialDraft(storeCtx, teacherID, target, resolvedModel)
		if err != nil {
			s.release(teacherID)
			return nil, err
		}
		run.drafts = append(run.drafts, draft)
	}
	if err := s.store.SaveProgress(storeCtx, teacherID, &run.progress); err != nil {
		s.release(teacherID)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save batch progress")
	}

	s.logger.Info("behavior batch started",
		zap.String("teacher_id", teacherID),
		zap.String("batch_id", batchID),
		zap.String("mode", string(mode)),
		zap.String("model", resolvedModel),
		zap.Int("total", len(targets)),
	)
	return run, nil
}

// execute processes students strictly in order and releases the teacher slot when done.
// emit returning false means the consumer went away; remaining students are then cancelled.
func (s *BehaviorBatchService) execute(ctx context.Context, run *batchRun, emit func(models.DraftResult) bool) {
	defer s.release(run.teacherID)
	storeCtx := context.WithoutCancel(ctx)

	for i, target := range run.targets {
		if ctx.Err() != nil {
			s.cancelRemaining(storeCtx, run, i)
			break
		}

		result := s.generateOne(ctx, storeCtx, run.teacherID, target, run.mode, run.model, run.drafts[i])
		if result.Draft.Status == models.DraftStatusCompleted {
			run.progress.Completed++
		} else {
			run.progress.Failed++
		}
		if err := s.store.SaveProgress(storeCtx, run.teacherID, &run.progress); err != nil {
			s.logger.Warn("failed to save batch progress", zap.String("batch_id", run.progress.BatchID), zap.Error(err))
		}
		result.Progress = run.progress

		if emit != nil && !emit(result) {
			s.cancelRemaining(storeCtx, run, i+1)
			break
		}
	}

	finished := s.now()
	run.progress.Running = false
	run.progress.FinishedAt = &finished
	if err := s.store.SaveProgress(storeCtx, run.teacherID, &run.progress); err != nil {
		s.logger.Warn("failed to save batch progress", zap.String("batch_id", run.progress.BatchID), zap.Error(err))
	}
	s.logger.Info("behavior batch finished",
		zap.String("teacher_id", run.teacherID),
		zap.String("batch_id", run.progress.BatchID),
		zap.Int("completed", run.progress.Completed),
		zap.Int("failed", run.progress.Failed),
	)
}

// generateOne moves one draft through generating to completed or failed. Errors are recorded
// on the draft and never returned, so a failing student cannot abort its siblings.
func (s *BehaviorBatchService) generateOne(ctx, storeCtx context.Context, teacherID string, target models.StudentGroup, mode models.EvidenceMode, model string, draft *models.BehaviorDraft) models.DraftResult {
	draft.Status = models.DraftStatusGenerating
	draft.ErrorMessage = ""
	draft.Violations = nil
	draft.Model = model
	draft.UpdatedAt = s.now()
	s.saveDraft(storeCtx, teacherID, draft)

	req := BuildDraftRequest(target, mode, s.cfg.MaxEvidenceItems, s.cfg.MaxNoteChars, s.cfg.LengthGuide)
	text, err := s.pipeline.GenerateValidatedDraft(ctx, BuildInitialPrompt(req), model)

	now := s.now()
	draft.UpdatedAt = now
	if err != nil {
		draft.Status = models.DraftStatusFailed
		draft.ErrorMessage, draft.Violations = describeFailure(err)
		s.logger.Warn("behavior draft failed",
			zap.String("teacher_id", teacherID),
			zap.String("student_key", draft.StudentKey),
			zap.String("reason", draft.ErrorMessage),
			zap.Error(err),
		)
	} else {
		draft.Status = models.DraftStatusCompleted
		draft.Content = text
		draft.GeneratedAt = &now
	}
	s.saveDraft(storeCtx, teacherID, draft)
	if s.metrics != nil {
		s.metrics.RecordDraftStatus(draft.Status)
	}
	return models.DraftResult{StudentKey: draft.StudentKey, Draft: *draft, Err: err}
}

func (s *BehaviorBatchService) initialDraft(ctx context.Context, teacherID string, target models.StudentGroup, model string) (*models.BehaviorDraft, error) {
	existing, err := s.store.Get(ctx, teacherID, target.StudentKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft")
	}
	draft := &models.BehaviorDraft{
		StudentKey:        target.StudentKey,
		StudentID:         target.StudentID,
		StudentName:       target.StudentName,
		ConsultationCount: target.ConsultationCount,
		LastConsultation:  target.LastConsultation,
		Status:            models.DraftStatusPending,
		Model:             model,
		UpdatedAt:         s.now(),
	}
	if existing != nil {
		draft.Content = existing.Content
		draft.GeneratedAt = existing.GeneratedAt
	}
	if err := s.store.Save(ctx, teacherID, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save draft")
	}
	return draft, nil
}

func (s *BehaviorBatchService) cancelRemaining(ctx context.Context, run *batchRun, from int) {
	for _, draft := range run.drafts[from:] {
		draft.Status = models.DraftStatusFailed
		draft.ErrorMessage = "작업이 취소되었습니다."
		draft.UpdatedAt = s.now()
		s.saveDraft(ctx, run.teacherID, draft)
		run.progress.Failed++
	}
	s.logger.Info("behavior batch cancelled",
		zap.String("batch_id", run.progress.BatchID),
		zap.Int("cancelled", len(run.drafts)-from),
	)
}

// abort marks every draft of a prepared run failed and frees the slot.
func (s *BehaviorBatchService) abort(ctx context.Context, run *batchRun, message string) {
	defer s.release(run.teacherID)
	for _, draft := range run.drafts {
		draft.Status = models.DraftStatusFailed
		draft.ErrorMessage = message
		draft.UpdatedAt = s.now()
		s.saveDraft(ctx, run.teacherID, draft)
	}
	finished := s.now()
	run.progress.Failed = len(run.drafts)
	run.progress.Running = false
	run.progress.FinishedAt = &finished
	if err := s.store.SaveProgress(ctx, run.teacherID, &run.progress); err != nil {
		s.logger.Warn("failed to save batch progress", zap.String("batch_id", run.progress.BatchID), zap.Error(err))
	}
}

func (s *BehaviorBatchService) saveDraft(ctx context.Context, teacherID string, draft *models.BehaviorDraft) {
	if err := s.store.Save(ctx, teacherID, draft); err != nil {
		s.logger.Warn("failed to save draft",
			zap.String("teacher_id", teacherID),
			zap.String("student_key", draft.StudentKey),
			zap.String("status", string(draft.Status)),
			zap.Error(err),
		)
	}
}

func (s *BehaviorBatchService) resolveModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if s.catalog == nil {
		return model, nil
	}
	if model == "" {
		return s.catalog.Default(), nil
	}
	if !s.catalog.Contains(model) {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown model")
	}
	return model, nil
}

func (s *BehaviorBatchService) acquire(teacherID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.running[teacherID]; ok {
		return appErrors.WithDetails(appErrors.ErrBatchRunning, map[string]string{"running": current})
	}
	s.running[teacherID] = runID
	return nil
}

func (s *BehaviorBatchService) release(teacherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, teacherID)
}

// preflight rejects selected-only batches where any student has nothing selected.
func preflight(targets []models.StudentGroup, mode models.EvidenceMode) error {
	if mode != models.EvidenceModeSelectedOnly {
		return nil
	}
	var missing []string
	for _, target := range targets {
		if len(target.SelectedRecords()) == 0 {
			missing = append(missing, target.StudentName)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	rejection := &PreflightRejectionError{StudentNames: missing}
	return appErrors.WithDetails(appErrors.WrapAs(rejection, appErrors.ErrPreflightRejected, rejection.Error()), missing)
}

func describeFailure(err error) (string, []string) {
	var exhausted *ValidationExhaustedError
	if errors.As(err, &exhausted) {
		return "검증 규칙을 통과하지 못했습니다.", exhausted.Messages()
	}
	var svcErr *llm.ServiceError
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message, nil
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return llm.ErrEmptyResponse.Error(), nil
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg, nil
	}
	return "알 수 없는 오류가 발생했습니다.", nil
}
