package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"warship-tracker/internal/domain"
	"warship-tracker/internal/rating"
)

type BaselineRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewBaselineRepository(sqlDB *sql.DB, logger zerolog.Logger) *BaselineRepository {
	return &BaselineRepository{db: sqlDB, logger: logger}
}

// Get reads the server-wide baseline for one ship and mode. A missing
// baseline is not an error; the rating layer maps it to the NoRating
// sentinel.
func (r *BaselineRepository) Get(ctx context.Context, shipID string, mode domain.BattleMode) (rating.ServerBaseline, bool, error) {
	var base rating.ServerBaseline
	err := r.db.QueryRowContext(ctx, `
		SELECT win_rate, avg_damage, avg_frags
		FROM ship_baselines
		WHERE ship_id = ? AND mode = ?`, shipID, mode).Scan(&base.WinRate, &base.AvgDamage, &base.AvgFrags)
	if errors.Is(err, sql.ErrNoRows) {
		return rating.ServerBaseline{}, false, nil
	}
	if err != nil {
		return rating.ServerBaseline{}, false, fmt.Errorf("failed to read baseline for ship %s: %w", shipID, err)
	}
	return base, true, nil
}

// UpsertBatch replaces baselines in one transaction; used by the
// periodic baseline import.
func (r *BaselineRepository) UpsertBatch(ctx context.Context, baselines map[string]map[domain.BattleMode]rating.ServerBaseline) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ship_baselines (ship_id, mode, win_rate, avg_damage, avg_frags)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ship_id, mode) DO UPDATE SET
			win_rate = excluded.win_rate,
			avg_damage = excluded.avg_damage,
			avg_frags = excluded.avg_frags`)
	if err != nil {
		return fmt.Errorf("failed to prepare baseline upsert: %w", err)
	}
	defer stmt.Close()

	for shipID, byMode := range baselines {
		for mode, base := range byMode {
			if _, err := stmt.ExecContext(ctx, shipID, mode, base.WinRate, base.AvgDamage, base.AvgFrags); err != nil {
				return fmt.Errorf("failed to upsert baseline %s/%s: %w", shipID, mode, err)
			}
		}
	}

	return tx.Commit()
}
