package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/repository"
)

// memSessions is an in-memory session table. It deliberately takes no lock
// across check-then-write, so serialization must come from the service.
type memSessions struct {
	mu       sync.Mutex
	rows     map[int64]models.Session
	nextID   int64
	listHits int

	// readDelay widens the window between overlap check and write.
	readDelay time.Duration
	// hideFromReads makes window queries return nothing, so only the
	// commit-time exclusion check can catch an overlap.
	hideFromReads bool
	// enforceExclusion mimics the Postgres exclusion constraint.
	enforceExclusion bool
	// afterList runs once after the next List read, outside the lock.
	afterList func()
}

func newMemSessions(seed ...models.Session) *memSessions {
	m := &memSessions{rows: make(map[int64]models.Session), enforceExclusion: true}
	for _, s := range seed {
		if s.Status == "" {
			s.Status = models.StatusScheduled
		}
		m.rows[s.ID] = s
		if s.ID > m.nextID {
			m.nextID = s.ID
		}
	}
	return m
}

func (m *memSessions) GetByID(_ context.Context, id int64) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &s, nil
}

func (m *memSessions) GetByIDForUpdate(ctx context.Context, id int64) (*models.Session, error) {
	return m.GetByID(ctx, id)
}

func (m *memSessions) List(_ context.Context, filter repository.SessionListFilter) ([]models.Session, error) {
	out := m.list(filter)

	m.mu.Lock()
	hook := m.afterList
	m.afterList = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *memSessions) list(filter repository.SessionListFilter) []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHits++
	out := make([]models.Session, 0)
	for _, s := range m.rows {
		if filter.CoachID != 0 && s.CoachID != filter.CoachID {
			continue
		}
		if filter.ClientID != 0 && s.ClientID != filter.ClientID {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.Session) int { return int(a.ID - b.ID) })
	return out
}

func (m *memSessions) ListByCoachInWindow(_ context.Context, coachID int64, from, to time.Time) ([]models.Session, error) {
	m.mu.Lock()
	out := make([]models.Session, 0)
	if !m.hideFromReads {
		for _, s := range m.rows {
			if s.CoachID == coachID && s.StartTime.Before(to) && s.EndTime.After(from) {
				out = append(out, s)
			}
		}
	}
	delay := m.readDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return out, nil
}

func (m *memSessions) Recent(_ context.Context, limit int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Session, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.Session) int { return int(b.ID - a.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSessions) all() []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Session, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out
}

func (m *memSessions) listCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listHits
}

// commit applies staged writes atomically, checking the exclusion rule.
func (m *memSessions) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range tx.deletes {
		delete(m.rows, id)
	}
	for _, s := range tx.writes {
		if m.enforceExclusion {
			for _, other := range m.rows {
				if other.ID != s.ID && other.CoachID == s.CoachID && other.Overlaps(s.StartTime, s.EndTime) {
					return repository.ErrSessionOverlap
				}
			}
		}
	}
	for _, s := range tx.writes {
		if s.ID == 0 {
			m.nextID++
			s.ID = m.nextID
			*tx.created = s.ID
		}
		m.rows[s.ID] = s
	}
	return nil
}

// InCoachTx stages writes and discards them when fn fails or ctx is done.
func (m *memSessions) InCoachTx(ctx context.Context, _ []int64, fn func(repository.SessionWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.commit(tx); err != nil {
		return err
	}
	if tx.pending != nil {
		tx.pending.ID = *tx.created
	}
	return nil
}

type memTx struct {
	store   *memSessions
	writes  []models.Session
	deletes []int64
	pending *models.Session
	created *int64
}

func (t *memTx) GetByIDForUpdate(ctx context.Context, id int64) (*models.Session, error) {
	return t.store.GetByID(ctx, id)
}

func (t *memTx) ListByCoachInWindow(ctx context.Context, coachID int64, from, to time.Time) ([]models.Session, error) {
	return t.store.ListByCoachInWindow(ctx, coachID, from, to)
}

func (t *memTx) Create(_ context.Context, s *models.Session) error {
	t.writes = append(t.writes, *s)
	t.pending = s
	t.created = new(int64)
	return nil
}

func (t *memTx) Update(_ context.Context, s *models.Session) error {
	if _, err := t.store.GetByID(context.Background(), s.ID); err != nil {
		return err
	}
	t.writes = append(t.writes, *s)
	return nil
}

func (t *memTx) Delete(_ context.Context, id int64) error {
	if _, err := t.store.GetByID(context.Background(), id); err != nil {
		return err
	}
	t.deletes = append(t.deletes, id)
	return nil
}

type memUsers struct {
	users map[int64]models.User
}

func newMemUsers(users ...models.User) *memUsers {
	m := &memUsers{users: make(map[int64]models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (m *memUsers) GetByIDs(_ context.Context, ids []int64) (map[int64]models.User, error) {
	out := make(map[int64]models.User)
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.deleted = append(c.deleted, key)
	}
	return nil
}

func (c *memCache) wasDeleted(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.deleted, key)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SessionCreated
}

func (p *recordingPublisher) Publish(event events.SessionCreated) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
