package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/repository"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func TestSessionServiceCreateUpdateFlow(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationSessionService(pool)

	coachID := createTestAccount(t, ctx, pool, models.RoleCoach)
	clientID := createTestAccount(t, ctx, pool, models.RoleClient)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, coachID, clientID) })

	coach := models.Actor{ID: coachID, Role: models.RoleCoach}
	start := time.Date(2030, 3, 15, 9, 0, 0, 0, time.UTC)

	detail, err := service.CreateSession(ctx, coach, integrationInput(clientID, start, time.Hour))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if detail.Status != models.StatusScheduled || detail.CoachID != coachID {
		t.Fatalf("unexpected created session %+v", detail.Session)
	}
	if detail.Client == nil || detail.Client.ID != clientID {
		t.Fatalf("expected client summary, got %+v", detail.Client)
	}

	updated, err := service.UpdateSession(ctx, coach, detail.ID, SessionInput{Title: str("Renamed"), Status: str("completed")})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.Title != "Renamed" || updated.Status != models.StatusCompleted {
		t.Fatalf("unexpected updated session %+v", updated.Session)
	}
	if !updated.StartTime.Equal(start) {
		t.Fatalf("expected start kept, got %s", updated.StartTime)
	}

	client := models.Actor{ID: clientID, Role: models.RoleClient}
	listed, err := service.ListSessions(ctx, client)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != detail.ID {
		t.Fatalf("expected client to see session %d, got %+v", detail.ID, listed)
	}
}

func TestSessionServiceRejectsOverlapAcrossInstances(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)

	coachID := createTestAccount(t, ctx, pool, models.RoleCoach)
	clientID := createTestAccount(t, ctx, pool, models.RoleClient)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, coachID, clientID) })

	// Separate services have separate in-process locks, like two replicas.
	instances := []*SessionService{
		newIntegrationSessionService(pool),
		newIntegrationSessionService(pool),
	}
	coach := models.Actor{ID: coachID, Role: models.RoleCoach}
	start := time.Date(2030, 4, 1, 12, 0, 0, 0, time.UTC)

	const attempts = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(service *SessionService, offset time.Duration) {
			defer wg.Done()
			_, err := service.CreateSession(ctx, coach, integrationInput(clientID, start.Add(offset), time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case IsOverlap(err):
			default:
				failures = append(failures, err)
			}
		}(instances[i%len(instances)], time.Duration(i)*5*time.Minute)
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected errors: %v", failures)
	}
	if successes != 1 {
		t.Fatalf("expected exactly one admitted session, got %d", successes)
	}
}

func TestExclusionConstraintBacksOverlapCheck(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	sessions := repository.NewSessionRepository(pool)

	coachID := createTestAccount(t, ctx, pool, models.RoleCoach)
	clientID := createTestAccount(t, ctx, pool, models.RoleClient)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, coachID, clientID) })

	start := time.Date(2030, 5, 2, 8, 0, 0, 0, time.UTC)
	first := &models.Session{
		Title: "First", StartTime: start, EndTime: start.Add(time.Hour),
		Status: models.StatusScheduled, CoachID: coachID, ClientID: clientID,
	}
	if err := sessions.Create(ctx, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	second := *first
	second.ID = 0
	second.StartTime = start.Add(30 * time.Minute)
	second.EndTime = start.Add(90 * time.Minute)
	if err := sessions.Create(ctx, &second); !errors.Is(err, repository.ErrSessionOverlap) {
		t.Fatalf("expected ErrSessionOverlap from constraint, got %v", err)
	}

	adjacent := *first
	adjacent.ID = 0
	adjacent.StartTime = start.Add(time.Hour)
	adjacent.EndTime = start.Add(2 * time.Hour)
	if err := sessions.Create(ctx, &adjacent); err != nil {
		t.Fatalf("adjacent session must be admitted: %v", err)
	}
}

func integrationInput(clientID int64, start time.Time, length time.Duration) SessionInput {
	from := start.Format(time.RFC3339)
	to := start.Add(length).Format(time.RFC3339)
	return SessionInput{
		Title:     str("Integration session"),
		StartTime: &from,
		EndTime:   &to,
		ClientID:  &clientID,
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationSessionService(pool *pgxpool.Pool) *SessionService {
	return NewSessionService(
		repository.NewSessionRepository(pool),
		repository.NewUserRepository(pool),
		repository.NewSchedulingTx(pool),
		nil,
		0,
		nil,
	)
}

func createTestAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, role models.Role) int64 {
	t.Helper()

	userRepo := repository.NewUserRepository(pool)
	user := &models.User{
		Name:         "Test " + role.String(),
		Email:        fmt.Sprintf("session-test-%s-%d@example.com", role, time.Now().UnixNano()),
		PasswordHash: "test-hash",
		Role:         role,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(%s): %v", role, err)
	}
	return user.ID
}

func cleanupTestUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if len(userIDs) == 0 {
		return
	}

	if _, err := pool.Exec(ctx, "DELETE FROM sessions WHERE coach_id = ANY($1) OR client_id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup sessions: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM users WHERE id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup users: %v", err)
	}
}
