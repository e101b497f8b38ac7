package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

const (
	draftKeyPrefix    = "behavior:drafts:"
	progressKeyPrefix = "behavior:progress:"
)

type storeObserver interface {
	ObserveDraftStore(op string, duration time.Duration)
}

// DraftRepository keeps behavior drafts in Redis, one hash per teacher keyed by student key.
type DraftRepository struct {
	client   redis.UniversalClient
	ttl      time.Duration
	observer storeObserver
	logger   *zap.Logger
}

// NewDraftRepository constructs a draft repository. A zero ttl keeps drafts indefinitely.
func NewDraftRepository(client redis.UniversalClient, ttl time.Duration, observer storeObserver, logger *zap.Logger) *DraftRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftRepository{client: client, ttl: ttl, observer: observer, logger: logger}
}

// Get returns the draft for a student, or nil when none is stored.
func (r *DraftRepository) Get(ctx context.Context, teacherID, studentKey string) (*models.BehaviorDraft, error) {
	defer r.observe("get", time.Now())
	raw, err := r.client.HGet(ctx, draftKey(teacherID), studentKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis hget draft %s: %w", studentKey, err)
	}
	var draft models.BehaviorDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft %s: %w", studentKey, err)
	}
	return &draft, nil
}

// List returns every stored draft for the teacher. Undecodable entries are skipped.
func (r *DraftRepository) List(ctx context.Context, teacherID string) ([]models.BehaviorDraft, error) {
	defer r.observe("list", time.Now())
	entries, err := r.client.HGetAll(ctx, draftKey(teacherID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall drafts: %w", err)
	}
	drafts := make([]models.BehaviorDraft, 0, len(entries))
	for field, raw := range entries {
		var draft models.BehaviorDraft
		if err := json.Unmarshal([]byte(raw), &draft); err != nil {
			r.logger.Warn("skipping undecodable draft", zap.String("teacher_id", teacherID), zap.String("student_key", field), zap.Error(err))
			continue
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// Save upserts one draft and refreshes the teacher's hash expiry.
func (r *DraftRepository) Save(ctx context.Context, teacherID string, draft *models.BehaviorDraft) error {
	defer r.observe("save", time.Now())
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft %s: %w", draft.StudentKey, err)
	}
	key := draftKey(teacherID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, draft.StudentKey, payload)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save draft %s: %w", draft.StudentKey, err)
	}
	return nil
}

// Delete removes drafts for the given student keys.
func (r *DraftRepository) Delete(ctx context.Context, teacherID string, studentKeys ...string) error {
	if len(studentKeys) == 0 {
		return nil
	}
	defer r.observe("delete", time.Now())
	if err := r.client.HDel(ctx, draftKey(teacherID), studentKeys...).Err(); err != nil {
		return fmt.Errorf("redis delete drafts: %w", err)
	}
	return nil
}

// SaveProgress stores the latest batch progress for the teacher.
func (r *DraftRepository) SaveProgress(ctx context.Context, teacherID string, progress *models.BatchProgress) error {
	defer r.observe("save_progress", time.Now())
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal batch progress: %w", err)
	}
	if err := r.client.Set(ctx, progressKeyPrefix+teacherID, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set batch progress: %w", err)
	}
	return nil
}

// GetProgress returns the latest batch progress, or nil when no batch ran.
func (r *DraftRepository) GetProgress(ctx context.Context, teacherID string) (*models.BatchProgress, error) {
	defer r.observe("get_progress", time.Now())
	raw, err := r.client.Get(ctx, progressKeyPrefix+teacherID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get batch progress: %w", err)
	}
	var progress models.BatchProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return nil, fmt.Errorf("unmarshal batch progress: %w", err)
	}
	return &progress, nil
}

// Ping checks the Redis connection for readiness probes.
func (r *DraftRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *DraftRepository) observe(op string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDraftStore(op, time.Since(start))
	}
}

func draftKey(teacherID string) string {
	return draftKeyPrefix + teacherID
}
