package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/internal/transport"
	"github.com/emailez/backend/pkg/queue"
)

type memStore struct {
	mu     sync.Mutex
	emails map[uuid.UUID]models.Email
	outbox map[string]*OutboxEntry
	now    func() time.Time
	// beforeSave runs under no lock before every Save, to simulate a concurrent writer.
	beforeSave func(e *models.Email)
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{emails: map[uuid.UUID]models.Email{}, outbox: map[string]*OutboxEntry{}, now: now}
}

func (m *memStore) Create(ctx context.Context, e *models.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Version = 1
	m.emails[e.ID] = *e
	m.addOutbox(e)
	return nil
}

func (m *memStore) addOutbox(e *models.Email) {
	if e.JobID == nil {
		return
	}
	m.outbox[*e.JobID] = &OutboxEntry{JobID: *e.JobID, EmailID: e.ID, WorkspaceID: e.WorkspaceID, CreatedAt: m.now()}
}

func (m *memStore) Get(ctx context.Context, workspaceID, id uuid.UUID) (*models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok || e.WorkspaceID != workspaceID {
		return nil, ErrEmailNotFound
	}
	return &e, nil
}

func (m *memStore) Save(ctx context.Context, e *models.Email) error {
	if m.beforeSave != nil {
		m.beforeSave(e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(e)
}

func (m *memStore) saveLocked(e *models.Email) error {
	cur, ok := m.emails[e.ID]
	if !ok {
		return ErrEmailNotFound
	}
	if cur.Version != e.Version {
		return ErrVersionConflict
	}
	e.Version++
	m.emails[e.ID] = *e
	return nil
}

func (m *memStore) Requeue(ctx context.Context, e *models.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(e); err != nil {
		return err
	}
	m.addOutbox(e)
	return nil
}

func (m *memStore) MarkDispatched(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.outbox[jobID]; ok {
		t := m.now()
		entry.DispatchedAt = &t
	}
	return nil
}

func (m *memStore) ListFailed(ctx context.Context, workspaceID uuid.UUID, maxAttempts int, includePermanent bool) ([]*models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Email
	for _, e := range m.emails {
		if e.WorkspaceID != workspaceID || e.Status != models.EmailStatusFailed || e.AttemptCount >= maxAttempts {
			continue
		}
		if !e.Retryable && !includePermanent {
			continue
		}
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (m *memStore) ListUndispatched(ctx context.Context, createdBefore time.Time, limit int) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, entry := range m.outbox {
		if entry.DispatchedAt == nil && !entry.CreatedAt.After(createdBefore) {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) List(ctx context.Context, workspaceID uuid.UUID, filter models.EmailFilter) ([]*models.Email, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Email
	for _, e := range m.emails {
		if e.WorkspaceID != workspaceID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		e := e
		out = append(out, &e)
	}
	return out, len(out), nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emails)
}

func (m *memStore) pendingOutbox() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entry := range m.outbox {
		if entry.DispatchedAt == nil {
			n++
		}
	}
	return n
}

type fakeConfigs map[uuid.UUID]*models.EmailConfiguration

func (f fakeConfigs) Get(ctx context.Context, workspaceID, configurationID uuid.UUID) (*models.EmailConfiguration, error) {
	cfg, ok := f[configurationID]
	if !ok || cfg.WorkspaceID != workspaceID {
		return nil, ErrConfigurationNotFound
	}
	return cfg, nil
}

type configLookupFunc func(ctx context.Context, workspaceID, configurationID uuid.UUID) (*models.EmailConfiguration, error)

func (f configLookupFunc) Get(ctx context.Context, workspaceID, configurationID uuid.UUID) (*models.EmailConfiguration, error) {
	return f(ctx, workspaceID, configurationID)
}

type fakeWorkspaces map[uuid.UUID]bool

func (f fakeWorkspaces) IsActive(ctx context.Context, workspaceID uuid.UUID) (bool, error) {
	return f[workspaceID], nil
}

type submittedJob struct {
	ID      string
	Payload queue.EmailPayload
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []submittedJob
	fail error
}

func (q *fakeQueue) EnqueueEmail(ctx context.Context, jobID string, payload queue.EmailPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return "", q.fail
	}
	q.jobs = append(q.jobs, submittedJob{ID: jobID, Payload: payload})
	return jobID, nil
}

func (q *fakeQueue) last() submittedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type senderFunc func(ctx context.Context, msg models.OutboundMessage, cfg *models.EmailConfiguration) transport.Result

func (f senderFunc) Send(ctx context.Context, msg models.OutboundMessage, cfg *models.EmailConfiguration) transport.Result {
	return f(ctx, msg, cfg)
}

type memArchive struct {
	mu     sync.Mutex
	bodies map[uuid.UUID]string
}

func (a *memArchive) PutBody(ctx context.Context, workspaceID, emailID uuid.UUID, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bodies[emailID] = body
	return nil
}

func (a *memArchive) GetBody(ctx context.Context, workspaceID, emailID uuid.UUID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.bodies[emailID]
	if !ok {
		return "", errors.New("no such key")
	}
	return body, nil
}
