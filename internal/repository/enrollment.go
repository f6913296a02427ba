package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"warship-tracker/internal/domain"
)

const defaultRecentLimit = 30

type EnrollmentRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewEnrollmentRepository(sqlDB *sql.DB, logger zerolog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: sqlDB, logger: logger}
}

// Features reads the feature set one account is enrolled in.
func (r *EnrollmentRepository) Features(ctx context.Context, key domain.AccountKey) (domain.FeatureSet, error) {
	var recent, pro int
	err := r.db.QueryRowContext(ctx, `
		SELECT enable_recent, enable_recent_pro
		FROM enrollments
		WHERE region_id = ? AND account_id = ?`, key.Region, key.AccountID).Scan(&recent, &pro)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FeatureSet{}, nil
	}
	if err != nil {
		return domain.FeatureSet{}, fmt.Errorf("failed to read enrollment %s: %w", key, err)
	}
	return domain.FeatureSet{Recent: recent == 1, RecentPro: pro == 1}, nil
}

// EnabledSets loads the full enrollment map the scheduler consults each
// tick; one query instead of one per account.
func (r *EnrollmentRepository) EnabledSets(ctx context.Context) (map[domain.AccountKey]domain.FeatureSet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT region_id, account_id, enable_recent, enable_recent_pro
		FROM enrollments
		WHERE enable_recent = 1 OR enable_recent_pro = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to read enrollments: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.AccountKey]domain.FeatureSet)
	for rows.Next() {
		var key domain.AccountKey
		var recent, pro int
		if err := rows.Scan(&key.Region, &key.AccountID, &recent, &pro); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment row: %w", err)
		}
		result[key] = domain.FeatureSet{Recent: recent == 1, RecentPro: pro == 1}
	}
	return result, rows.Err()
}

// EnableRecent enrolls an account in the standard recent feature.
func (r *EnrollmentRepository) EnableRecent(ctx context.Context, key domain.AccountKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (region_id, account_id, enable_recent, recent_limit)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (region_id, account_id) DO UPDATE SET
			enable_recent = 1,
			recent_limit = excluded.recent_limit`,
		key.Region, key.AccountID, defaultRecentLimit)
	if err != nil {
		return fmt.Errorf("failed to enable recent for %s: %w", key, err)
	}
	return nil
}

// EnableRecentPro enrolls an account in the pro tier with a custom
// window limit.
func (r *EnrollmentRepository) EnableRecentPro(ctx context.Context, key domain.AccountKey, limit int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (region_id, account_id, enable_recent, enable_recent_pro, recent_limit)
		VALUES (?, ?, 1, 1, ?)
		ON CONFLICT (region_id, account_id) DO UPDATE SET
			enable_recent = 1,
			enable_recent_pro = 1,
			recent_limit = excluded.recent_limit`,
		key.Region, key.AccountID, limit)
	if err != nil {
		return fmt.Errorf("failed to enable recent pro for %s: %w", key, err)
	}
	return nil
}

// DisableRecent turns off both tiers; the auto-disable path for hidden
// or long-inactive accounts.
func (r *EnrollmentRepository) DisableRecent(ctx context.Context, key domain.AccountKey) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET enable_recent = 0, enable_recent_pro = 0
		WHERE region_id = ? AND account_id = ?`, key.Region, key.AccountID)
	if err != nil {
		return fmt.Errorf("failed to disable recent for %s: %w", key, err)
	}
	r.logger.Info().Str("account", key.String()).Msg("recent feature disabled")
	return nil
}

// DisableRecentPro downgrades a pro enrollment to standard.
func (r *EnrollmentRepository) DisableRecentPro(ctx context.Context, key domain.AccountKey) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET enable_recent_pro = 0
		WHERE region_id = ? AND account_id = ?`, key.Region, key.AccountID)
	if err != nil {
		return fmt.Errorf("failed to disable recent pro for %s: %w", key, err)
	}
	r.logger.Info().Str("account", key.String()).Msg("recent pro feature disabled")
	return nil
}
