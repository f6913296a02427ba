package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warship-tracker/internal/domain"
)

func mustEnvelope(t *testing.T, body string) *accountEnvelope {
	t.Helper()
	var envelope accountEnvelope
	require.NoError(t, json.Unmarshal([]byte(body), &envelope))
	return &envelope
}

func TestParseAccountPublic(t *testing.T) {
	envelope := mustEnvelope(t, `{
		"status": "ok",
		"data": {
			"2023619512": {
				"name": "sangonomiya_kokomi",
				"dog_tag": {"texture_id": 1, "symbol_id": 2},
				"statistics": {
					"basic": {"leveling_points": 15, "last_battle_time": 1756700000, "created_at": 1600000000, "karma": 120},
					"pvp": {"battles_count": 300, "wins": 160, "damage_dealt": 18000000, "frags": 270},
					"rank_solo": {"battles_count": 40, "wins": 22}
				}
			}
		}
	}`)

	payload, err := parseAccount(envelope, 2023619512)
	require.NoError(t, err)
	assert.Equal(t, "sangonomiya_kokomi", payload.Name)
	assert.False(t, payload.Hidden)
	assert.True(t, payload.HasStats)
	assert.Equal(t, int64(15), payload.Basic.LevelingPoints)
	assert.Equal(t, int64(300), payload.PvP.Battles)
	assert.Equal(t, int64(40), payload.RankSolo.Battles)
	assert.Equal(t, "1-2-0-0-0", payload.DogTag.Insignia())
}

func TestParseAccountHiddenByKeyPresence(t *testing.T) {
	// hidden_profile is detected by key presence, even with a null
	// value.
	envelope := mustEnvelope(t, `{
		"status": "ok",
		"data": {"42": {"name": "ghost", "hidden_profile": null}}
	}`)

	payload, err := parseAccount(envelope, 42)
	require.NoError(t, err)
	assert.True(t, payload.Hidden)
	assert.False(t, payload.HasStats)
	assert.Equal(t, "ghost", payload.Name)
}

func TestParseAccountEmptyStatistics(t *testing.T) {
	envelope := mustEnvelope(t, `{
		"status": "ok",
		"data": {"42": {"name": "fresh", "statistics": {}}}
	}`)

	payload, err := parseAccount(envelope, 42)
	require.NoError(t, err)
	assert.False(t, payload.HasStats, "missing basic block means no usable stats")
}

func TestParseAccountNullEntry(t *testing.T) {
	envelope := mustEnvelope(t, `{"status": "ok", "data": {"42": null}}`)
	payload, err := parseAccount(envelope, 42)
	require.NoError(t, err)
	assert.False(t, payload.HasStats)
	assert.Empty(t, payload.Name)
}

func TestParseShips(t *testing.T) {
	var envelope shipsEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{
		"status": "ok",
		"data": {
			"2023619512": {
				"statistics": {
					"4277090288": {"pvp_solo": {"battles_count": 312, "wins": 170, "damage_dealt": 19000000, "assist_damage": 500000}},
					"4182509520": {"pvp_solo": {}},
					"3751786224": {"pvp_div2": {"battles_count": 4}}
				}
			}
		}
	}`), &envelope))

	ships, err := parseShips(&envelope, 2023619512, domain.ModePvPSolo)
	require.NoError(t, err)
	require.Len(t, ships, 1, "empty and wrong-mode blocks are dropped")

	counters := ships["4277090288"]
	assert.Equal(t, int64(312), counters.Battles)
	assert.Equal(t, int64(170), counters.Wins)
	assert.Equal(t, int64(500000), counters.AssistDamage)
}

func TestModeCountersAssistFallback(t *testing.T) {
	// Some regions report scouting_damage instead of assist_damage.
	scouting := ModeCounters{Battles: 10, ScoutingDamage: 120000}
	assert.Equal(t, int64(120000), scouting.Counters().AssistDamage)

	explicit := ModeCounters{Battles: 10, ScoutingDamage: 120000, AssistDamage: 90000}
	assert.Equal(t, int64(90000), explicit.Counters().AssistDamage)
}

func TestRegionBaseURLs(t *testing.T) {
	for _, region := range []domain.Region{
		domain.RegionAsia, domain.RegionEU, domain.RegionNA, domain.RegionRU, domain.RegionCN,
	} {
		assert.NotEmpty(t, regionBaseURLs[region], "region %s", region.Name())
	}
	assert.Contains(t, accountURL(domain.RegionEU, 42, "token"), "?ac=token")
	assert.Equal(t,
		"https://vortex.worldofwarships.asia/api/accounts/42/ships/pvp_solo/",
		shipsURL(domain.RegionAsia, 42, domain.ModePvPSolo, ""))
}
