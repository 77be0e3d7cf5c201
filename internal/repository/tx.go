package repository

import (
	"context"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/minicoachy/internal/models"
)

// SessionWriter is the subset of session storage used inside a scheduling
// transaction.
type SessionWriter interface {
	GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error)
	ListByCoachInWindow(ctx context.Context, coachID int64, from, to time.Time) ([]models.Session, error)
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, sessionID int64) error
}

// SchedulingTx runs check-then-write units against Postgres while holding
// transaction-scoped advisory locks on every coach involved.
type SchedulingTx struct {
	db *pgxpool.Pool
}

func NewSchedulingTx(db *pgxpool.Pool) *SchedulingTx {
	return &SchedulingTx{db: db}
}

// InCoachTx locks coachIDs in ascending order, so two updates moving sessions
// between the same pair of coaches cannot deadlock, then runs fn. fn's error
// rolls the transaction back.
func (t *SchedulingTx) InCoachTx(
	ctx context.Context,
	coachIDs []int64,
	fn func(SessionWriter) error,
) error {
	tx, err := t.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ids := slices.Clone(coachIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, coachID := range ids {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", coachID); err != nil {
			return err
		}
	}

	if err := fn(NewSessionRepository(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
