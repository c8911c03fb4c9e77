package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/repository"
	"entitlement-sync/internal/infra/metrics"
)

var _ repository.ProfileRepository = (*ProfileRepo)(nil)

// ProfileRepo stores the entitlement mirror in the profiles table.
type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const (
	profileColumns  = `id, plan, subscription_id, updated_at`
	uniqueViolation = "23505"
)

func (r *ProfileRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Profile, error) {
	return r.find(ctx, tx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1;`, id)
}

func (r *ProfileRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Profile, error) {
	if !inTx(tx) {
		return r.FindByID(ctx, tx, id)
	}
	return r.find(ctx, tx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1 FOR UPDATE;`, id)
}

func (r *ProfileRepo) find(ctx context.Context, tx repository.Tx, q, id string) (*model.Profile, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	p, err := scanProfile(ex.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find profile %s: %w", id, err)
	}
	return p, nil
}

// Save upserts the whole row.
func (r *ProfileRepo) Save(ctx context.Context, tx repository.Tx, p *model.Profile) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO profiles (id, plan, subscription_id, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  plan = EXCLUDED.plan,
  subscription_id = EXCLUDED.subscription_id,
  updated_at = EXCLUDED.updated_at;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := ex.Exec(ctx, q, p.ID, string(p.Plan), p.SubscriptionID, updated); err != nil {
		metrics.IncProfileWriteFailure("save")
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: subscription already bound to another profile", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

func (r *ProfileRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, p *model.Profile) (bool, error) {
	if p == nil || p.ID == "" {
		return false, domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO profiles (id, plan, subscription_id, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	tag, err := ex.Exec(ctx, q, p.ID, string(p.Plan), p.SubscriptionID, updated)
	if err != nil {
		metrics.IncProfileWriteFailure("create")
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, fmt.Errorf("%w: subscription already bound to another profile", domain.ErrInvalidArgument)
		}
		return false, fmt.Errorf("create profile %s: %w", p.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ProfileRepo) ClearSubscription(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `UPDATE profiles SET plan='free', subscription_id=NULL, updated_at=$2 WHERE id=$1;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, q, id, at)
	if err != nil {
		metrics.IncProfileWriteFailure("clear_subscription")
		return fmt.Errorf("clear subscription for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProfileRepo) ListWithSubscription(ctx context.Context, tx repository.Tx, afterID string, limit int) ([]*model.Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + profileColumns + `
  FROM profiles
 WHERE subscription_id IS NOT NULL AND id > $1
 ORDER BY id
 LIMIT $2;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles with subscription: %w", err)
	}
	defer rows.Close()

	var out []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var (
		p    model.Profile
		plan string
	)
	if err := row.Scan(&p.ID, &plan, &p.SubscriptionID, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Plan = model.Plan(plan)
	return &p, nil
}
