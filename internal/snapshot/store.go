// Package snapshot persists per-account generations of cumulative
// per-ship counters. Storage is partitioned: one SQLite file per
// (region, account), created lazily. The scheduler's dedup lock
// guarantees a single writer per account, so files need no
// cross-process coordination.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"warship-tracker/internal/config"
	"warship-tracker/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	date TEXT PRIMARY KEY,
	is_public INTEGER NOT NULL,
	leveling_points INTEGER NOT NULL,
	karma INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	avg_damage REAL NOT NULL,
	avg_frags REAL NOT NULL,
	ships TEXT
);
CREATE TABLE IF NOT EXISTS ship_history (
	ship_id TEXT NOT NULL,
	date TEXT NOT NULL,
	counters TEXT NOT NULL,
	PRIMARY KEY (ship_id, date)
);
`

type Store struct {
	dataDir string
	logger  zerolog.Logger
}

func NewStore(cfg *config.Config, logger zerolog.Logger) *Store {
	return &Store{dataDir: cfg.DataDir, logger: logger}
}

// NewStoreAt builds a store rooted at an explicit directory; used by
// tests.
func NewStoreAt(dir string, logger zerolog.Logger) *Store {
	return &Store{dataDir: dir, logger: logger}
}

func (s *Store) path(key domain.AccountKey) string {
	return filepath.Join(s.dataDir, "db", strconv.Itoa(int(key.Region)), fmt.Sprintf("%d.db", key.AccountID))
}

func (s *Store) open(key domain.AccountKey) (*sql.DB, error) {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store for %s: %w", key, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize snapshot store for %s: %w", key, err)
	}
	return db, nil
}

// ReadGeneration returns the stored generation for a date key, or nil
// when absent.
func (s *Store) ReadGeneration(ctx context.Context, key domain.AccountKey, date string) (*domain.Generation, error) {
	db, err := s.open(key)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	gen := domain.Generation{DateKey: date}
	var public int
	var ships sql.NullString
	err = db.QueryRowContext(ctx, `
		SELECT is_public, leveling_points, karma, win_rate, avg_damage, avg_frags, ships
		FROM generations WHERE date = ?`, date).Scan(
		&public, &gen.LevelingPoints, &gen.Karma, &gen.WinRate, &gen.AvgDamage, &gen.AvgFrags, &ships)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generation %s for %s: %w", date, key, err)
	}
	gen.Public = public == 1
	if ships.Valid && ships.String != "" {
		if err := json.Unmarshal([]byte(ships.String), &gen.Ships); err != nil {
			return nil, fmt.Errorf("corrupt generation %s for %s: %w", date, key, err)
		}
	}
	return &gen, nil
}

// WriteGeneration upserts one generation row.
func (s *Store) WriteGeneration(ctx context.Context, key domain.AccountKey, gen *domain.Generation) error {
	db, err := s.open(key)
	if err != nil {
		return err
	}
	defer db.Close()
	return writeGeneration(ctx, db, key, gen)
}

func writeGeneration(ctx context.Context, db *sql.DB, key domain.AccountKey, gen *domain.Generation) error {
	var ships any
	if gen.Ships != nil {
		payload, err := json.Marshal(gen.Ships)
		if err != nil {
			return fmt.Errorf("failed to encode generation ships: %w", err)
		}
		ships = string(payload)
	}
	_, err := db.ExecContext(ctx, `
		REPLACE INTO generations (date, is_public, leveling_points, karma, win_rate, avg_damage, avg_frags, ships)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gen.DateKey, boolInt(gen.Public), gen.LevelingPoints, gen.Karma,
		gen.WinRate, gen.AvgDamage, gen.AvgFrags, ships)
	if err != nil {
		return fmt.Errorf("failed to write generation %s for %s: %w", gen.DateKey, key, err)
	}
	return nil
}

// WriteEntities upserts dated per-ship history rows; these serve as
// reference points for multi-generation diffs.
func (s *Store) WriteEntities(ctx context.Context, key domain.AccountKey, date string, ships map[string]domain.Counters) error {
	if len(ships) == 0 {
		return nil
	}
	db, err := s.open(key)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	for shipID, counters := range ships {
		payload, err := json.Marshal(counters)
		if err != nil {
			return fmt.Errorf("failed to encode counters for ship %s: %w", shipID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			REPLACE INTO ship_history (ship_id, date, counters)
			VALUES (?, ?, ?)`, shipID, date, string(payload)); err != nil {
			return fmt.Errorf("failed to write ship %s for %s: %w", shipID, key, err)
		}
	}
	return tx.Commit()
}

// ReadEntityHistory reads the counters one ship had at an older
// reference date.
func (s *Store) ReadEntityHistory(ctx context.Context, key domain.AccountKey, shipID, date string) (domain.Counters, bool, error) {
	db, err := s.open(key)
	if err != nil {
		return domain.Counters{}, false, err
	}
	defer db.Close()

	var payload string
	err = db.QueryRowContext(ctx, `
		SELECT counters FROM ship_history WHERE ship_id = ? AND date = ?`, shipID, date).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Counters{}, false, nil
	}
	if err != nil {
		return domain.Counters{}, false, fmt.Errorf("failed to read ship %s history for %s: %w", shipID, key, err)
	}
	var counters domain.Counters
	if err := json.Unmarshal([]byte(payload), &counters); err != nil {
		return domain.Counters{}, false, fmt.Errorf("corrupt ship %s history for %s: %w", shipID, key, err)
	}
	return counters, true, nil
}

// Prune drops generations outside the keep list (the two-generation
// ring). Ship history rows are retained: a ship that has not been
// played for months still needs its old reference row for the next
// diff.
func (s *Store) Prune(ctx context.Context, key domain.AccountKey, keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	db, err := s.open(key)
	if err != nil {
		return err
	}
	defer db.Close()

	args := make([]any, 0, len(keep))
	marks := ""
	for i, date := range keep {
		if i > 0 {
			marks += ","
		}
		marks += "?"
		args = append(args, date)
	}
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM generations WHERE date NOT IN (%s)", marks), args...); err != nil {
		return fmt.Errorf("failed to prune generations for %s: %w", key, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
