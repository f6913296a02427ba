package worker

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warship-tracker/internal/api"
	"warship-tracker/internal/config"
	"warship-tracker/internal/diff"
	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
	"warship-tracker/internal/metrics"
	"warship-tracker/internal/queue"
	"warship-tracker/internal/repository"
	"warship-tracker/internal/scheduler"
	"warship-tracker/internal/snapshot"
)

const testSchema = `
CREATE TABLE accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	region_id INTEGER NOT NULL,
	account_id INTEGER NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	clan_tag TEXT NOT NULL DEFAULT '',
	insignia TEXT NOT NULL DEFAULT '',
	is_enabled INTEGER NOT NULL DEFAULT 1,
	is_public INTEGER NOT NULL DEFAULT 1,
	activity_level INTEGER NOT NULL DEFAULT 1,
	total_battles INTEGER NOT NULL DEFAULT 0,
	pvp_battles INTEGER NOT NULL DEFAULT 0,
	ranked_battles INTEGER NOT NULL DEFAULT 0,
	registered_at INTEGER NOT NULL DEFAULT 0,
	last_battle_at INTEGER NOT NULL DEFAULT 0,
	touched_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE (region_id, account_id)
);
CREATE TABLE enrollments (
	region_id INTEGER NOT NULL,
	account_id INTEGER NOT NULL,
	enable_recent INTEGER NOT NULL DEFAULT 0,
	enable_recent_pro INTEGER NOT NULL DEFAULT 0,
	recent_limit INTEGER NOT NULL DEFAULT 30,
	PRIMARY KEY (region_id, account_id)
);
`

type fakeFetcher struct {
	account    *api.AccountPayload
	accountErr error
	ships      map[domain.BattleMode]map[string]domain.Counters
	shipsErr   error
	clan       *api.ClanInfo
	shipCalls  int
}

func (f *fakeFetcher) GetAccount(context.Context, domain.Region, int64, string) (*api.AccountPayload, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.account, nil
}

func (f *fakeFetcher) GetShips(_ context.Context, _ domain.Region, _ int64, mode domain.BattleMode, _ string) (map[string]domain.Counters, error) {
	f.shipCalls++
	if f.shipsErr != nil {
		return nil, f.shipsErr
	}
	return f.ships[mode], nil
}

func (f *fakeFetcher) GetClan(context.Context, domain.Region, int64) (*api.ClanInfo, error) {
	if f.clan == nil {
		return nil, api.ErrNotFound
	}
	return f.clan, nil
}

type poolFixture struct {
	pool        *Pool
	fetcher     *fakeFetcher
	store       *kv.MemoryStore
	accounts    *repository.AccountRepository
	enrollments *repository.EnrollmentRepository
	now         time.Time
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	logger := zerolog.Nop()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	store := kv.NewMemoryStore()
	snapStore := snapshot.NewStoreAt(t.TempDir(), logger)
	engine := diff.NewEngine(snapStore, diff.NewKVSink(store, logger), logger)
	engine.SetClock(func() time.Time { return now })

	accounts := repository.NewAccountRepository(db, logger)
	enrollments := repository.NewEnrollmentRepository(db, logger)
	fetcher := &fakeFetcher{}
	cfg := &config.Config{ClientName: "test", WorkerCount: 1}

	pool := NewPool(fetcher, engine, accounts, enrollments, store, queue.NewMemoryQueue(8),
		metrics.NewRecorder(store, logger), cfg, logger)
	pool.SetClock(func() time.Time { return now })

	return &poolFixture{
		pool: pool, fetcher: fetcher, store: store,
		accounts: accounts, enrollments: enrollments, now: now,
	}
}

func (f *poolFixture) payload(lastBattle time.Time) *api.AccountPayload {
	return &api.AccountPayload{
		Name:     "sangonomiya_kokomi",
		HasStats: true,
		Basic: api.BasicStats{
			LevelingPoints: 15,
			LastBattleTime: lastBattle.Unix(),
			CreatedAt:      lastBattle.Add(-365 * 24 * time.Hour).Unix(),
			Karma:          120,
		},
		PvP:      api.ModeCounters{Battles: 300, Wins: 160, Damage: 18000000, Frags: 270},
		RankSolo: api.ModeCounters{Battles: 40, Wins: 22},
		DogTag:   &api.DogTag{TextureID: 1, SymbolID: 2},
	}
}

var poolKey = domain.AccountKey{Region: domain.RegionAsia, AccountID: 2023619512}

func TestHandleLeavesDedupLockInPlace(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()

	_, err := f.store.SetIfAbsent(ctx, scheduler.DedupKey(poolKey), "test", time.Hour)
	require.NoError(t, err)

	f.fetcher.account = f.payload(f.now.Add(-2 * time.Hour))
	f.pool.Handle(ctx, domain.RefreshJob{Region: poolKey.Region, AccountID: poolKey.AccountID})

	// The lock expires on its own; a completed job must not reopen the
	// dispatch window early.
	v, err := f.store.Get(ctx, scheduler.DedupKey(poolKey))
	require.NoError(t, err)
	assert.Equal(t, "test", v)
}

func TestHandleCreatesAccountRow(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()

	f.fetcher.account = f.payload(f.now.Add(-2 * time.Hour))
	f.fetcher.clan = &api.ClanInfo{Tag: "KOKO", Name: "Sangonomiya"}
	f.pool.Handle(ctx, domain.RefreshJob{Region: poolKey.Region, AccountID: poolKey.AccountID})

	acct, err := f.accounts.Get(ctx, poolKey)
	require.NoError(t, err)
	assert.Equal(t, "sangonomiya_kokomi", acct.Username)
	assert.Equal(t, "KOKO", acct.ClanTag)
	assert.Equal(t, "1-2-0-0-0", acct.Insignia)
	assert.Equal(t, int64(340), acct.TotalBattles)
	assert.Equal(t, int64(300), acct.PvPBattles)
	assert.Equal(t, int64(40), acct.RankedBattles)
	assert.Equal(t, 2, acct.ActivityLevel)
	assert.True(t, acct.Enabled)
	assert.True(t, acct.Public)
	assert.Equal(t, f.now.Unix(), acct.TouchedAt)

	// Not enrolled: no ship sub-resources were fetched.
	assert.Equal(t, 0, f.fetcher.shipCalls)
}

func TestHandleRunsDiffForEnrolled(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	require.NoError(t, f.enrollments.EnableRecent(ctx, poolKey))

	f.fetcher.account = f.payload(f.now.Add(-2 * time.Hour))
	f.fetcher.ships = map[domain.BattleMode]map[string]domain.Counters{
		domain.ModePvPSolo: {"100": {Battles: 200, Wins: 110}},
		domain.ModePvPDiv2: {"100": {Battles: 50, Wins: 25}},
		domain.ModeRankSolo: {
			"100": {Battles: 40, Wins: 22},
			"200": {Battles: 50, Wins: 28},
		},
	}
	f.pool.Handle(ctx, domain.RefreshJob{Region: poolKey.Region, AccountID: poolKey.AccountID})

	// Four modes for a non-RU region, all fetched.
	assert.Equal(t, 4, f.fetcher.shipCalls)

	status, err := f.pool.refresh(ctx, poolKey)
	require.NoError(t, err)
	assert.Equal(t, StatusNoChange, status, "identical refetch short-circuits")
}

func TestHandleRankedSumForRU(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	ruKey := domain.AccountKey{Region: domain.RegionRU, AccountID: 999}

	payload := f.payload(f.now.Add(-2 * time.Hour))
	payload.RatingSolo = api.ModeCounters{Battles: 10}
	payload.RatingDiv = api.ModeCounters{Battles: 5}
	f.fetcher.account = payload

	f.pool.Handle(ctx, domain.RefreshJob{Region: ruKey.Region, AccountID: ruKey.AccountID})

	acct, err := f.accounts.Get(ctx, ruKey)
	require.NoError(t, err)
	assert.Equal(t, int64(55), acct.RankedBattles)
	assert.Equal(t, int64(355), acct.TotalBattles)
}

func TestHandleDeletedAccount(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()

	require.NoError(t, f.accounts.Upsert(ctx, &domain.Account{
		Region: poolKey.Region, AccountID: poolKey.AccountID, Enabled: true,
	}))
	require.NoError(t, f.enrollments.EnableRecent(ctx, poolKey))

	f.fetcher.accountErr = api.ErrNotFound
	status, err := f.pool.refresh(ctx, poolKey)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleteRecent, status)

	acct, err := f.accounts.Get(ctx, poolKey)
	require.NoError(t, err)
	assert.False(t, acct.Enabled)

	features, err := f.enrollments.Features(ctx, poolKey)
	require.NoError(t, err)
	assert.False(t, features.Recent)
}

func TestHandleHiddenProfileDisablesRecent(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	require.NoError(t, f.enrollments.EnableRecentPro(ctx, poolKey, 30))

	f.fetcher.account = &api.AccountPayload{Name: "ghost", Hidden: true}
	status, err := f.pool.refresh(ctx, poolKey)
	require.NoError(t, err)
	assert.Equal(t, StatusHidden, status)

	features, err := f.enrollments.Features(ctx, poolKey)
	require.NoError(t, err)
	assert.False(t, features.Recent)
	assert.False(t, features.RecentPro)

	acct, err := f.accounts.Get(ctx, poolKey)
	require.NoError(t, err)
	assert.False(t, acct.Public)
	assert.Equal(t, 0, acct.ActivityLevel)
}

func TestHandleNetworkErrorAbortsCycle(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	require.NoError(t, f.enrollments.EnableRecent(ctx, poolKey))

	f.fetcher.account = f.payload(f.now.Add(-2 * time.Hour))
	f.fetcher.shipsErr = context.DeadlineExceeded

	status, err := f.pool.refresh(ctx, poolKey)
	require.Error(t, err)
	assert.Equal(t, StatusNetworkError, status)

	// Nothing was persisted: the account row does not exist.
	_, err = f.accounts.Get(ctx, poolKey)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestModeAverages(t *testing.T) {
	winRate, avgDamage, avgFrags := modeAverages(api.ModeCounters{
		Battles: 200, Wins: 110, Damage: 12000000, Frags: 180,
	})
	assert.InDelta(t, 55.0, winRate, 1e-9)
	assert.InDelta(t, 60000.0, avgDamage, 1e-9)
	assert.InDelta(t, 0.9, avgFrags, 1e-9)

	winRate, avgDamage, avgFrags = modeAverages(api.ModeCounters{})
	assert.Zero(t, winRate)
	assert.Zero(t, avgDamage)
	assert.Zero(t, avgFrags)
}
