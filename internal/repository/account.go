package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"warship-tracker/internal/domain"
)

// ErrNotFound is returned when a row the caller expected is absent.
var ErrNotFound = errors.New("repository: not found")

type AccountRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewAccountRepository(sqlDB *sql.DB, logger zerolog.Logger) *AccountRepository {
	return &AccountRepository{db: sqlDB, logger: logger}
}

// ScanRow is the narrow projection the scheduler reads per account.
type ScanRow struct {
	Region        domain.Region
	AccountID     int64
	ActivityLevel int
	LastBattleAt  int64
	TouchedAt     int64
}

// MaxID returns the highest account row id, bounding the batch scan.
func (r *AccountRepository) MaxID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM accounts`).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("failed to read max account id: %w", err)
	}
	return maxID.Int64, nil
}

// ScanBatch reads the scheduler projection for row ids in [fromID, toID].
func (r *AccountRepository) ScanBatch(ctx context.Context, fromID, toID int64) ([]ScanRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT region_id, account_id, activity_level, last_battle_at, touched_at
		FROM accounts
		WHERE id BETWEEN ? AND ?`, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan account batch: %w", err)
	}
	defer rows.Close()

	var result []ScanRow
	for rows.Next() {
		var row ScanRow
		if err := rows.Scan(&row.Region, &row.AccountID, &row.ActivityLevel, &row.LastBattleAt, &row.TouchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (r *AccountRepository) Get(ctx context.Context, key domain.AccountKey) (*domain.Account, error) {
	var acct domain.Account
	var enabled, public int
	err := r.db.QueryRowContext(ctx, `
		SELECT region_id, account_id, username, clan_tag, insignia,
		       is_enabled, is_public, activity_level,
		       total_battles, pvp_battles, ranked_battles,
		       registered_at, last_battle_at, touched_at
		FROM accounts
		WHERE region_id = ? AND account_id = ?`, key.Region, key.AccountID).Scan(
		&acct.Region, &acct.AccountID, &acct.Username, &acct.ClanTag, &acct.Insignia,
		&enabled, &public, &acct.ActivityLevel,
		&acct.TotalBattles, &acct.PvPBattles, &acct.RankedBattles,
		&acct.RegisteredAt, &acct.LastBattleAt, &acct.TouchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", key, err)
	}
	acct.Enabled = enabled == 1
	acct.Public = public == 1
	return &acct, nil
}

// Upsert creates or replaces the account row. Used when an account is
// first observed and by tests.
func (r *AccountRepository) Upsert(ctx context.Context, acct *domain.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			region_id, account_id, username, clan_tag, insignia,
			is_enabled, is_public, activity_level,
			total_battles, pvp_battles, ranked_battles,
			registered_at, last_battle_at, touched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (region_id, account_id) DO UPDATE SET
			username = excluded.username,
			clan_tag = excluded.clan_tag,
			insignia = excluded.insignia,
			is_enabled = excluded.is_enabled,
			is_public = excluded.is_public,
			activity_level = excluded.activity_level,
			total_battles = excluded.total_battles,
			pvp_battles = excluded.pvp_battles,
			ranked_battles = excluded.ranked_battles,
			registered_at = excluded.registered_at,
			last_battle_at = excluded.last_battle_at,
			touched_at = excluded.touched_at`,
		acct.Region, acct.AccountID, acct.Username, acct.ClanTag, acct.Insignia,
		boolInt(acct.Enabled), boolInt(acct.Public), acct.ActivityLevel,
		acct.TotalBattles, acct.PvPBattles, acct.RankedBattles,
		acct.RegisteredAt, acct.LastBattleAt, acct.TouchedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account %d-%d: %w", acct.Region, acct.AccountID, err)
	}
	return nil
}

// ApplyRefresh writes the fields a successful refresh produced and
// stamps touched_at.
func (r *AccountRepository) ApplyRefresh(ctx context.Context, acct *domain.Account, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			username = ?,
			clan_tag = ?,
			insignia = ?,
			is_enabled = ?,
			is_public = ?,
			activity_level = ?,
			total_battles = ?,
			pvp_battles = ?,
			ranked_battles = ?,
			registered_at = ?,
			last_battle_at = ?,
			touched_at = ?
		WHERE region_id = ? AND account_id = ?`,
		acct.Username, acct.ClanTag, acct.Insignia,
		boolInt(acct.Enabled), boolInt(acct.Public), acct.ActivityLevel,
		acct.TotalBattles, acct.PvPBattles, acct.RankedBattles,
		acct.RegisteredAt, acct.LastBattleAt, now.Unix(),
		acct.Region, acct.AccountID)
	if err != nil {
		return fmt.Errorf("failed to apply refresh for %d-%d: %w", acct.Region, acct.AccountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// First successful fetch creates the row.
		acct.TouchedAt = now.Unix()
		return r.Upsert(ctx, acct)
	}
	return nil
}

// Disable marks the account row disabled without touching its stats.
func (r *AccountRepository) Disable(ctx context.Context, key domain.AccountKey, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET is_enabled = 0, touched_at = ?
		WHERE region_id = ? AND account_id = ?`,
		now.Unix(), key.Region, key.AccountID)
	if err != nil {
		return fmt.Errorf("failed to disable account %s: %w", key, err)
	}
	return nil
}

// Touch stamps touched_at without other changes; used when a refresh
// learned nothing new.
func (r *AccountRepository) Touch(ctx context.Context, key domain.AccountKey, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET touched_at = ?
		WHERE region_id = ? AND account_id = ?`,
		now.Unix(), key.Region, key.AccountID)
	if err != nil {
		return fmt.Errorf("failed to touch account %s: %w", key, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
