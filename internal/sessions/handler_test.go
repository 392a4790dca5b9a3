package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-school/backend/internal/accounts"
	"github.com/meridian-school/backend/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*models.ClassSession
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*models.ClassSession)}
}

func (s *fakeStore) Create(_ context.Context, externalID string, hostAccountID uuid.UUID, topic string) (*models.ClassSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	sess := &models.ClassSession{
		ID:            uuid.New(),
		ExternalID:    externalID,
		HostAccountID: hostAccountID,
		Topic:         topic,
		StartedAt:     time.Now(),
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *fakeStore) End(_ context.Context, id uuid.UUID) (*models.ClassSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.EndedAt != nil {
		return nil, ErrAlreadyEnded
	}
	now := time.Now()
	sess.EndedAt = &now
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.ClassSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) ListEndedSince(context.Context, time.Time) ([]models.ClassSession, error) {
	return nil, nil
}

type fakeLeaser struct {
	mu       sync.Mutex
	cap      int
	inUse    int
	released int
	acct     models.HostAccount
}

func newFakeLeaser(capacity int) *fakeLeaser {
	return &fakeLeaser{
		cap:  capacity,
		acct: models.HostAccount{ID: uuid.New(), Email: "host-1@school.example", MaxConcurrent: capacity},
	}
}

func (l *fakeLeaser) Acquire(context.Context) (*models.HostAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse >= l.cap {
		return nil, accounts.ErrPoolExhausted
	}
	l.inUse++
	cp := l.acct
	cp.InUse = l.inUse
	return &cp, nil
}

func (l *fakeLeaser) Release(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse > 0 {
		l.inUse--
	}
	l.released++
	return nil
}

type fakeLister struct {
	entries map[string][]models.RecordingEntry
}

func (l *fakeLister) ListBySession(_ context.Context, sessionID string) ([]models.RecordingEntry, error) {
	return l.entries[sessionID], nil
}

func newRouter(store *fakeStore, leaser *fakeLeaser, lister *fakeLister) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if lister == nil {
		lister = &fakeLister{}
	}
	router := gin.New()
	NewHandler(store, leaser, lister, nil).Routes(router.Group("/api/v1"))
	return router
}

func startSession(t *testing.T, router *gin.Engine, externalID string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(gin.H{"external_id": externalID, "topic": "algebra"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sessionIDFrom(t *testing.T, w *httptest.ResponseRecorder) uuid.UUID {
	t.Helper()
	var resp struct {
		Data struct {
			Session models.ClassSession `json:"session"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.Session.ID
}

func endSession(router *gin.Engine, id uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id.String()+"/end", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartExhaustedPoolReturns503(t *testing.T) {
	store := newFakeStore()
	leaser := newFakeLeaser(1)
	router := newRouter(store, leaser, nil)

	require.Equal(t, http.StatusCreated, startSession(t, router, "ext-1").Code)

	w := startSession(t, router, "ext-2")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Len(t, store.sessions, 1, "exhausted start creates nothing")
}

func TestEndReleasesLeaseOnce(t *testing.T) {
	store := newFakeStore()
	leaser := newFakeLeaser(1)
	router := newRouter(store, leaser, nil)

	id := sessionIDFrom(t, startSession(t, router, "ext-1"))

	assert.Equal(t, http.StatusOK, endSession(router, id).Code)
	assert.Equal(t, 1, leaser.released)

	// Ending again must not release a second time.
	assert.Equal(t, http.StatusConflict, endSession(router, id).Code)
	assert.Equal(t, 1, leaser.released)

	// Capacity is back: a new session can start.
	assert.Equal(t, http.StatusCreated, startSession(t, router, "ext-2").Code)
}

func TestStartReleasesLeaseWhenCreateFails(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	leaser := newFakeLeaser(1)
	router := newRouter(store, leaser, nil)

	w := startSession(t, router, "ext-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, leaser.inUse, "failed start leaks no lease")
}

func TestEndUnknownSession(t *testing.T) {
	router := newRouter(newFakeStore(), newFakeLeaser(1), nil)
	assert.Equal(t, http.StatusNotFound, endSession(router, uuid.New()).Code)
}

func TestSessionRecordings(t *testing.T) {
	store := newFakeStore()
	leaser := newFakeLeaser(1)
	lister := &fakeLister{entries: map[string][]models.RecordingEntry{
		"ext-1": {{ID: uuid.New(), SessionID: "ext-1", Status: models.RecordingStatusReady}},
	}}
	router := newRouter(store, leaser, lister)

	id := sessionIDFrom(t, startSession(t, router, "ext-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id.String()+"/recordings", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Recordings []models.RecordingEntry `json:"recordings"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Recordings, 1)
}
