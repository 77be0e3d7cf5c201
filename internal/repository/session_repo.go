package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/minicoachy/internal/models"
)

const sessionColumns = `id, title, description, start_time, end_time, status, coach_id, client_id, created_at, updated_at`

// SessionListFilter scopes a listing. Zero values are ignored.
type SessionListFilter struct {
	CoachID  int64
	ClientID int64
}

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (title, description, start_time, end_time, status, coach_id, client_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(
		ctx,
		query,
		session.Title,
		session.Description,
		session.StartTime,
		session.EndTime,
		string(session.Status),
		session.CoachID,
		session.ClientID,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	return translateSessionWriteError(err)
}

func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	query := `
		UPDATE sessions
		SET title = $2, description = $3, start_time = $4, end_time = $5,
		    status = $6, coach_id = $7, client_id = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(
		ctx,
		query,
		session.ID,
		session.Title,
		session.Description,
		session.StartTime,
		session.EndTime,
		string(session.Status),
		session.CoachID,
		session.ClientID,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	return translateSessionWriteError(err)
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// ListByCoachInWindow returns the coach's sessions that intersect [from, to),
// ordered by start time. It is served by the (coach_id, start_time) index.
func (r *SessionRepository) ListByCoachInWindow(
	ctx context.Context,
	coachID int64,
	from time.Time,
	to time.Time,
) ([]models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE coach_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, coachID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepository) List(ctx context.Context, filter SessionListFilter) ([]models.Session, error) {
	args := []any{}
	whereParts := []string{}

	if filter.CoachID != 0 {
		args = append(args, filter.CoachID)
		whereParts = append(whereParts, fmt.Sprintf("coach_id = $%d", len(args)))
	}
	if filter.ClientID != 0 {
		args = append(args, filter.ClientID)
		whereParts = append(whereParts, fmt.Sprintf("client_id = $%d", len(args)))
	}

	where := ""
	if len(whereParts) > 0 {
		where = "WHERE " + strings.Join(whereParts, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		%s
		ORDER BY start_time ASC, id ASC
	`, sessionColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepository) Recent(ctx context.Context, limit int) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

func translateSessionWriteError(err error) error {
	if err == nil {
		return nil
	}
	switch pgErrorCode(err) {
	case pgExclusionViolation:
		return ErrSessionOverlap
	case pgForeignKeyViolation:
		return ErrMissingUserRef
	case pgCheckViolation:
		return ErrInvalidInterval
	default:
		return err
	}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		session models.Session
		status  string
	)
	if err := row.Scan(
		&session.ID,
		&session.Title,
		&session.Description,
		&session.StartTime,
		&session.EndTime,
		&status,
		&session.CoachID,
		&session.ClientID,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	return &session, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
