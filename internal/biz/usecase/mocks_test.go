package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// Mock implementations

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	putErr   error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (m *mockSessionRepo) Put(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if s.IsActive() {
		for id, other := range m.sessions {
			if id != s.ID && other.IsActive() {
				return errors.New("UNIQUE constraint failed: sessions.terminal_state")
			}
		}
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *mockSessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Clone(), nil
}

func (m *mockSessionRepo) GetActive(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.IsActive() {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (m *mockSessionRepo) List(ctx context.Context, limit int) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*domain.Session
	for _, s := range m.sessions {
		list = append(list, s.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

type mockDiagnosticRepo struct {
	mu        sync.Mutex
	events    map[string][]*domain.DiagnosticEvent
	appendErr error
}

func newMockDiagnosticRepo() *mockDiagnosticRepo {
	return &mockDiagnosticRepo{events: make(map[string][]*domain.DiagnosticEvent)}
}

func (m *mockDiagnosticRepo) Append(ctx context.Context, e *domain.DiagnosticEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, existing := range m.events[e.SessionID] {
		if existing.Seq == e.Seq {
			return errors.New("UNIQUE constraint failed: diagnostic_events")
		}
	}
	copied := *e
	m.events[e.SessionID] = append(m.events[e.SessionID], &copied)
	return nil
}

func (m *mockDiagnosticRepo) MaxSeq(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, e := range m.events[sessionID] {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max, nil
}

func (m *mockDiagnosticRepo) List(ctx context.Context, sessionID string) ([]*domain.DiagnosticEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]*domain.DiagnosticEvent(nil), m.events[sessionID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (m *mockDiagnosticRepo) SessionIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockDiagnosticRepo) kinds(sessionID string) []domain.DiagnosticKind {
	events, _ := m.List(context.Background(), sessionID)
	var kinds []domain.DiagnosticKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type mockAdjunctRepo struct {
	mu     sync.Mutex
	events []*domain.AdjunctEvent
}

func (m *mockAdjunctRepo) Add(ctx context.Context, e *domain.AdjunctEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockAdjunctRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.AdjunctEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*domain.AdjunctEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (m *mockAdjunctRepo) ListByDate(ctx context.Context, key domain.SessionKey) ([]*domain.AdjunctEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*domain.AdjunctEvent
	for _, e := range m.events {
		if e.SessionDate == key {
			list = append(list, e)
		}
	}
	return list, nil
}

func (m *mockAdjunctRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*domain.AdjunctEvent
	var n int64
	for _, e := range m.events {
		if e.SessionID == sessionID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

type mockSyncSink struct {
	mu        sync.Mutex
	tasks     []*domain.SyncTask
	cancelled []string
}

func (m *mockSyncSink) Enqueue(task *domain.SyncTask) {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
}

func (m *mockSyncSink) CancelSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.cancelled = append(m.cancelled, sessionID)
	m.mu.Unlock()
	return nil
}

type mockOutboxRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.SyncTask
}

func newMockOutboxRepo() *mockOutboxRepo {
	return &mockOutboxRepo{tasks: make(map[string]*domain.SyncTask)}
}

func (m *mockOutboxRepo) Enqueue(ctx context.Context, task *domain.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.IdempotencyKey == task.IdempotencyKey {
			return nil
		}
	}
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

func (m *mockOutboxRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.SyncTask
	for _, t := range m.tasks {
		if t.Status == domain.SyncPending && !t.NextAttemptAt.After(now) {
			copied := *t
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].IdempotencyKey < due[j].IdempotencyKey })
	return due, nil
}

func (m *mockOutboxRepo) Update(ctx context.Context, task *domain.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tasks[task.ID]; ok && existing.Status == domain.SyncCancelled {
		return nil
	}
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

func (m *mockOutboxRepo) ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*domain.SyncTask
	for _, t := range m.tasks {
		if t.Status == status {
			copied := *t
			list = append(list, &copied)
		}
	}
	return list, nil
}

func (m *mockOutboxRepo) CancelSession(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tasks {
		if t.SessionID == sessionID && t.Status == domain.SyncPending {
			t.Status = domain.SyncCancelled
			n++
		}
	}
	return n, nil
}

func (m *mockOutboxRepo) CleanupDelivered(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		if t.Status == domain.SyncDelivered && t.UpdatedAt.Before(before) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *mockOutboxRepo) get(id string) *domain.SyncTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		copied := *t
		return &copied
	}
	return nil
}
