package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-school/backend/internal/models"
	"github.com/meridian-school/backend/pkg/queue"
)

type fakeAdminStore struct {
	entries map[uuid.UUID]*models.RecordingEntry
}

func (s *fakeAdminStore) GetByID(_ context.Context, id uuid.UUID) (*models.RecordingEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeAdminStore) ListByStatus(_ context.Context, status models.RecordingStatus, limit int) ([]models.RecordingEntry, error) {
	var out []models.RecordingEntry
	for _, e := range s.entries {
		if e.Status == status && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeAdminStore) ResetForRetry(_ context.Context, id uuid.UUID) (*models.RecordingEntry, error) {
	e, ok := s.entries[id]
	if !ok || e.Status != models.RecordingStatusError {
		return nil, ErrNotFound
	}
	e.Status = models.RecordingStatusPending
	e.Attempts = 0
	e.LastError = ""
	e.Version++
	cp := *e
	return &cp, nil
}

func (s *fakeAdminStore) MarkArchived(_ context.Context, id uuid.UUID, version int) error {
	e, ok := s.entries[id]
	if !ok || e.Version != version || e.Status != models.RecordingStatusReady {
		return ErrStaleEntry
	}
	e.Status = models.RecordingStatusArchived
	e.Version++
	return nil
}

type fakeTaskQueue struct {
	payloads []queue.MigrationPayload
}

func (q *fakeTaskQueue) EnqueueMigration(_ context.Context, p queue.MigrationPayload) error {
	q.payloads = append(q.payloads, p)
	return nil
}

type fakeReaper struct {
	reapErr error
	swept   bool
}

func (r *fakeReaper) ReapOne(_ context.Context, id uuid.UUID) error { return r.reapErr }

func (r *fakeReaper) Sweep(context.Context) (int, int, error) {
	r.swept = true
	return 2, 1, nil
}

type fakePoller struct{ created int }

func (p *fakePoller) PollOnce(context.Context) (int, error) { return p.created, nil }

func adminRouter(store *fakeAdminStore, q *fakeTaskQueue, r *fakeReaper, p *fakePoller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(store, q, r, p, nil).Routes(router.Group("/admin"))
	return router
}

func post(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRetryResetsAndEnqueues(t *testing.T) {
	entry := &models.RecordingEntry{
		ID:        uuid.New(),
		SessionID: "sess-1",
		Status:    models.RecordingStatusError,
		Attempts:  3,
		LastError: "source unavailable",
	}
	store := &fakeAdminStore{entries: map[uuid.UUID]*models.RecordingEntry{entry.ID: entry}}
	q := &fakeTaskQueue{}
	router := adminRouter(store, q, &fakeReaper{}, &fakePoller{})

	w := post(router, "/admin/recordings/"+entry.ID.String()+"/retry")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, models.RecordingStatusPending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, entry.ID, q.payloads[0].EntryID)
}

func TestRetryReschedulesPendingEntry(t *testing.T) {
	// A pending entry with no task on the queue: the original enqueue was
	// lost. Retry schedules a task without resetting anything.
	entry := &models.RecordingEntry{
		ID:        uuid.New(),
		SessionID: "sess-1",
		Status:    models.RecordingStatusPending,
	}
	store := &fakeAdminStore{entries: map[uuid.UUID]*models.RecordingEntry{entry.ID: entry}}
	q := &fakeTaskQueue{}
	router := adminRouter(store, q, &fakeReaper{}, &fakePoller{})

	w := post(router, "/admin/recordings/"+entry.ID.String()+"/retry")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, models.RecordingStatusPending, entry.Status)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, entry.ID, q.payloads[0].EntryID)
	assert.Equal(t, "sess-1", q.payloads[0].SessionID)
}

func TestRetryRejectsNonErrorEntry(t *testing.T) {
	entry := &models.RecordingEntry{ID: uuid.New(), Status: models.RecordingStatusReady}
	store := &fakeAdminStore{entries: map[uuid.UUID]*models.RecordingEntry{entry.ID: entry}}
	q := &fakeTaskQueue{}
	router := adminRouter(store, q, &fakeReaper{}, &fakePoller{})

	w := post(router, "/admin/recordings/"+entry.ID.String()+"/retry")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, q.payloads)
	assert.Equal(t, models.RecordingStatusReady, entry.Status)
}

func TestArchiveReadyEntry(t *testing.T) {
	entry := &models.RecordingEntry{ID: uuid.New(), Status: models.RecordingStatusReady, Version: 2}
	store := &fakeAdminStore{entries: map[uuid.UUID]*models.RecordingEntry{entry.ID: entry}}
	router := adminRouter(store, &fakeTaskQueue{}, &fakeReaper{}, &fakePoller{})

	w := post(router, "/admin/recordings/"+entry.ID.String()+"/archive")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RecordingStatusArchived, entry.Status)

	// Archived is terminal: a second archive conflicts.
	w = post(router, "/admin/recordings/"+entry.ID.String()+"/archive")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReapRefusalIsConflict(t *testing.T) {
	router := adminRouter(&fakeAdminStore{}, &fakeTaskQueue{},
		&fakeReaper{reapErr: errors.New("durable object missing")}, &fakePoller{})

	w := post(router, "/admin/recordings/"+uuid.New().String()+"/reap")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSweepReportsCounts(t *testing.T) {
	r := &fakeReaper{}
	router := adminRouter(&fakeAdminStore{}, &fakeTaskQueue{}, r, &fakePoller{})

	w := post(router, "/admin/reaper/sweep")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, r.swept)

	var resp struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data["deleted"])
	assert.Equal(t, 1, resp.Data["aborted"])
}

func TestListRejectsUnknownStatus(t *testing.T) {
	router := adminRouter(&fakeAdminStore{}, &fakeTaskQueue{}, &fakeReaper{}, &fakePoller{})

	req := httptest.NewRequest(http.MethodGet, "/admin/recordings?status=bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
