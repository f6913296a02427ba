package snapshot

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warship-tracker/internal/domain"
)

var testKey = domain.AccountKey{Region: domain.RegionAsia, AccountID: 2023619512}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStoreAt(t.TempDir(), zerolog.Nop())
}

func TestReadGenerationAbsent(t *testing.T) {
	s := newTestStore(t)
	gen, err := s.ReadGeneration(context.Background(), testKey, "20260901")
	require.NoError(t, err)
	assert.Nil(t, gen)
}

func TestWriteReadGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &domain.Generation{
		DateKey:        "20260901",
		Public:         true,
		LevelingPoints: 15,
		Karma:          120,
		WinRate:        54.3,
		AvgDamage:      61234.5,
		AvgFrags:       0.92,
		Ships: map[string]domain.ShipRef{
			"4277090288": {Battles: 312, RefDate: "20260831"},
			"4182509520": {Battles: 18, RefDate: "20260512"},
		},
	}
	require.NoError(t, s.WriteGeneration(ctx, testKey, in))

	out, err := s.ReadGeneration(ctx, testKey, "20260901")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Public, out.Public)
	assert.Equal(t, in.LevelingPoints, out.LevelingPoints)
	assert.Equal(t, in.Karma, out.Karma)
	assert.Equal(t, in.WinRate, out.WinRate)
	assert.Equal(t, in.Ships, out.Ships)
	assert.Equal(t, int64(330), out.TotalBattles())
}

func TestWriteGenerationOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteGeneration(ctx, testKey, &domain.Generation{DateKey: "20260901", Public: false}))
	require.NoError(t, s.WriteGeneration(ctx, testKey, &domain.Generation{
		DateKey: "20260901", Public: true,
		Ships: map[string]domain.ShipRef{"1": {Battles: 1, RefDate: "20260901"}},
	}))

	out, err := s.ReadGeneration(ctx, testKey, "20260901")
	require.NoError(t, err)
	assert.True(t, out.Public)
	assert.Len(t, out.Ships, 1)
}

func TestEntityHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	counters := domain.Counters{Battles: 312, Wins: 170, Damage: 19000000, Frags: 280}
	require.NoError(t, s.WriteEntities(ctx, testKey, "20260831", map[string]domain.Counters{
		"4277090288": counters,
	}))

	got, found, err := s.ReadEntityHistory(ctx, testKey, "4277090288", "20260831")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, counters, got)

	_, found, err = s.ReadEntityHistory(ctx, testKey, "4277090288", "20260901")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPruneKeepsRingAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"20260829", "20260830", "20260831", "20260901"} {
		require.NoError(t, s.WriteGeneration(ctx, testKey, &domain.Generation{DateKey: date, Public: true}))
	}
	// An old reference row for a ship that has not been played since.
	require.NoError(t, s.WriteEntities(ctx, testKey, "20260512", map[string]domain.Counters{
		"4182509520": {Battles: 18},
	}))

	require.NoError(t, s.Prune(ctx, testKey, []string{"20260831", "20260901"}))

	for date, want := range map[string]bool{
		"20260829": false, "20260830": false, "20260831": true, "20260901": true,
	} {
		gen, err := s.ReadGeneration(ctx, testKey, date)
		require.NoError(t, err)
		assert.Equal(t, want, gen != nil, "generation %s", date)
	}

	// History rows survive pruning: old references stay resolvable.
	_, found, err := s.ReadEntityHistory(ctx, testKey, "4182509520", "20260512")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestAccountsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	other := domain.AccountKey{Region: domain.RegionEU, AccountID: 555}

	require.NoError(t, s.WriteGeneration(ctx, testKey, &domain.Generation{DateKey: "20260901", Public: true}))

	gen, err := s.ReadGeneration(ctx, other, "20260901")
	require.NoError(t, err)
	assert.Nil(t, gen)
}
