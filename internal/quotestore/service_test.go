package quotestore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotebot/quotegallery/internal/broker"
	"github.com/quotebot/quotegallery/internal/quotes"
)

type recordingObjects struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recordingObjects) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return r.err
}

func newTestService(t *testing.T, policy Policy) (*Service, *broker.Memory, *recordingObjects) {
	t.Helper()
	b := broker.NewMemory(16)
	t.Cleanup(func() { _ = b.Close() })
	objects := &recordingObjects{}
	svc, err := NewService(ServiceOptions{
		Store:   NewMemoryStore(),
		Broker:  b,
		Objects: objects,
		Policy:  policy,
		Now:     func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc, b, objects
}

func next(t *testing.T, stream quotes.ChangeStream) quotes.Change {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	change, err := stream.Next(ctx)
	require.NoError(t, err)
	return change
}

func TestServiceIngestPublishesAndEnforcesQuota(t *testing.T) {
	limit := 2
	svc, b, _ := newTestService(t, Policy{DefaultLimit: 10, Owners: map[string]OwnerPolicy{"owner-1": {Limit: &limit}}})
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "owner-1")
	require.NoError(t, err)

	first, err := svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1", Template: "neon"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	change := next(t, sub)
	assert.Equal(t, quotes.ChangeInserted, change.Kind)
	assert.Equal(t, first.ID, change.ArtifactID)
	assert.NotEmpty(t, change.EventID)

	_, err = svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1"})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	page, err := svc.Page(ctx, "owner-1", quotes.DefaultQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, page.Quota.Used)
	require.NotNil(t, page.Quota.Remaining)
	assert.Equal(t, 0, *page.Quota.Remaining)
	assert.Len(t, page.Items, 2)
}

func TestServiceDeletePublishesAndRemovesImage(t *testing.T) {
	svc, b, objects := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	a, err := svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1", StorageKey: "renders/a.png"})
	require.NoError(t, err)
	sub, err := b.Subscribe(ctx, "owner-1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "owner-1", a.ID))
	change := next(t, sub)
	assert.Equal(t, quotes.ChangeDeleted, change.Kind)
	assert.Equal(t, a.ID, change.ArtifactID)
	assert.Equal(t, []string{"renders/a.png"}, objects.keys)

	assert.ErrorIs(t, svc.Delete(ctx, "owner-1", a.ID), quotes.ErrNotFound)
}

func TestServiceDeleteManyAllOrNothing(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	a, _ := svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1"})
	b, _ := svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1"})

	_, err := svc.DeleteMany(ctx, "owner-1", []string{a.ID, "ghost"})
	assert.ErrorIs(t, err, quotes.ErrNotFound)

	n, err := svc.DeleteMany(ctx, "owner-1", []string{a.ID, b.ID, a.ID, " "})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.DeleteMany(ctx, "owner-1", nil)
	assert.ErrorIs(t, err, quotes.ErrInvalidInput)
}

func TestServiceModerationAndCaptionEdit(t *testing.T) {
	svc, b, objects := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	a, _ := svc.Ingest(ctx, quotes.Artifact{OwnerID: "owner-1", Caption: "before"})
	sub, _ := b.Subscribe(ctx, "owner-1")

	updated, err := svc.EditCaption(ctx, a.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Caption)
	change := next(t, sub)
	assert.Equal(t, quotes.ChangeUpdated, change.Kind)
	assert.Equal(t, "after", change.Artifact.Caption)

	objects.err = errors.New("bucket gone")
	removed, err := svc.Moderate(ctx, a.ID)
	require.NoError(t, err, "image removal failure must not fail the delete")
	assert.Equal(t, "owner-1", removed.OwnerID)
	assert.Equal(t, quotes.ChangeDeleted, next(t, sub).Kind)
}

func TestPolicyParsing(t *testing.T) {
	policy, err := ParsePolicy([]byte(`
defaultLimit: 25
owners:
  vip:
    unlimited: true
    displayName: VIP
  small:
    limit: 3
`))
	require.NoError(t, err)

	assert.True(t, policy.Quota("vip", 400).IsUnlimited)
	small := policy.Quota("small", 1)
	assert.Equal(t, 3, *small.Max)
	assert.Equal(t, 2, *small.Remaining)
	assert.Equal(t, 25, *policy.Quota("anyone", 0).Max)
	assert.Equal(t, "VIP", policy.Profile("vip").DisplayName)
	assert.Equal(t, "anyone", policy.Profile("anyone").DisplayName)

	_, err = ParsePolicy([]byte("defaultLimit: -1"))
	assert.ErrorIs(t, err, quotes.ErrInvalidInput)

	policy, err = LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultQuotaLimit, policy.DefaultLimit)
}

func TestS3ObjectsRemove(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	objects, err := NewS3Objects(context.Background(), S3Config{
		Bucket:       "renders",
		Region:       "us-east-1",
		Endpoint:     server.URL,
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, objects.Remove(context.Background(), "owner-1/q1.png"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/renders/owner-1/q1.png", gotPath)

	require.NoError(t, objects.Remove(context.Background(), ""))
	_, err = NewS3Objects(context.Background(), S3Config{})
	assert.Error(t, err)
}
