package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

type opRecorder struct {
	ops []string
}

func (r *opRecorder) ObserveDraftStore(op string, duration time.Duration) {
	r.ops = append(r.ops, op)
}

func newDraftRepoForTest(t *testing.T, ttl time.Duration) (*DraftRepository, *miniredis.Miniredis, *opRecorder) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	observer := &opRecorder{}
	return NewDraftRepository(client, ttl, observer, nil), server, observer
}

func TestDraftRepositorySaveGetList(t *testing.T) {
	repo, server, observer := newDraftRepoForTest(t, time.Hour)
	ctx := context.Background()

	missing, err := repo.Get(ctx, "t1", "S1::김민수")
	require.NoError(t, err)
	assert.Nil(t, missing)

	draft := &models.BehaviorDraft{StudentKey: "S1::김민수", StudentName: "김민수", Content: "성실함.", Status: models.DraftStatusCompleted, Violations: []string{"a"}}
	require.NoError(t, repo.Save(ctx, "t1", draft))
	require.NoError(t, repo.Save(ctx, "t1", &models.BehaviorDraft{StudentKey: "S2::이서연", Status: models.DraftStatusPending}))
	require.NoError(t, repo.Save(ctx, "t2", &models.BehaviorDraft{StudentKey: "S9::other"}))

	got, err := repo.Get(ctx, "t1", "S1::김민수")
	require.NoError(t, err)
	assert.Equal(t, "성실함.", got.Content)
	assert.Equal(t, []string{"a"}, got.Violations)

	drafts, err := repo.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	assert.Equal(t, time.Hour, server.TTL(draftKey("t1")))
	assert.Contains(t, observer.ops, "save")
	assert.Contains(t, observer.ops, "list")
}

func TestDraftRepositoryListSkipsUndecodable(t *testing.T) {
	repo, server, _ := newDraftRepoForTest(t, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "t1", &models.BehaviorDraft{StudentKey: "S1::a"}))
	server.HSet(draftKey("t1"), "S2::b", "not-json")

	drafts, err := repo.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "S1::a", drafts[0].StudentKey)
	assert.Zero(t, server.TTL(draftKey("t1")))
}

func TestDraftRepositoryDelete(t *testing.T) {
	repo, _, _ := newDraftRepoForTest(t, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "t1", &models.BehaviorDraft{StudentKey: "S1::a"}))
	require.NoError(t, repo.Save(ctx, "t1", &models.BehaviorDraft{StudentKey: "S2::b"}))
	require.NoError(t, repo.Delete(ctx, "t1", "S1::a"))
	require.NoError(t, repo.Delete(ctx, "t1"))

	drafts, err := repo.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "S2::b", drafts[0].StudentKey)
}

func TestDraftRepositoryProgress(t *testing.T) {
	repo, _, _ := newDraftRepoForTest(t, time.Hour)
	ctx := context.Background()

	none, err := repo.GetProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, none)

	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveProgress(ctx, "t1", &models.BatchProgress{BatchID: "b1", Total: 3, Completed: 1, Running: true, StartedAt: started}))

	progress, err := repo.GetProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "b1", progress.BatchID)
	assert.Equal(t, 1, progress.Completed)
	assert.True(t, progress.StartedAt.Equal(started))
	assert.NoError(t, repo.Ping(ctx))
}
