package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
)

func TestKVSinkPublish(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	sink := NewKVSink(store, zerolog.Nop())
	sink.now = func() time.Time { return now }
	ctx := context.Background()

	key := domain.AccountKey{Region: domain.RegionAsia, AccountID: 42}
	deltas := []domain.DeltaRecord{{
		ID: "abc123", Region: key.Region, AccountID: key.AccountID,
		ShipID: "100", ToDate: "20260901",
		Counters: domain.Counters{Battles: 2, Wins: 1},
	}}
	require.NoError(t, sink.Publish(ctx, key, deltas))

	raw, err := store.Get(ctx, fmt.Sprintf("recent:1:42:%d", now.Unix()))
	require.NoError(t, err)

	var got []domain.DeltaRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	require.Len(t, got, 1)
	assert.Equal(t, deltas[0], got[0])
}

func TestKVSinkSkipsEmptyBatch(t *testing.T) {
	store := kv.NewMemoryStore()
	sink := NewKVSink(store, zerolog.Nop())
	require.NoError(t, sink.Publish(context.Background(), domain.AccountKey{}, nil))
}
