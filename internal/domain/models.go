package domain

import (
	"fmt"
	"time"
)

// Region identifies a game server cluster. Generation date keys roll
// over at a region-local boundary, so every region carries its own UTC
// offset.
type Region int

const (
	RegionAsia Region = 1
	RegionEU   Region = 2
	RegionNA   Region = 3
	RegionRU   Region = 4
	RegionCN   Region = 5
)

var regionNames = map[Region]string{
	RegionAsia: "asia",
	RegionEU:   "eu",
	RegionNA:   "na",
	RegionRU:   "ru",
	RegionCN:   "cn",
}

var regionUTCOffsets = map[Region]int{
	RegionAsia: 8,
	RegionEU:   1,
	RegionNA:   -7,
	RegionRU:   3,
	RegionCN:   8,
}

func (r Region) Name() string {
	if name, ok := regionNames[r]; ok {
		return name
	}
	return fmt.Sprintf("region_%d", int(r))
}

func (r Region) Valid() bool {
	_, ok := regionNames[r]
	return ok
}

func (r Region) UTCOffset() int {
	return regionUTCOffsets[r]
}

// DateKey returns the generation key (YYYYMMDD) for the region-local
// day daysBack days ago. The extra 5 hour shift delays the rollover so
// late-night sessions land on the previous day's generation.
func DateKey(region Region, now time.Time, daysBack int) string {
	shifted := now.
		Add(time.Duration(region.UTCOffset()) * time.Hour).
		Add(-5 * time.Hour).
		AddDate(0, 0, -daysBack)
	return shifted.UTC().Format("20060102")
}

// BattleMode is a game-mode category as keyed by the stats API.
type BattleMode string

const (
	ModePvPSolo    BattleMode = "pvp_solo"
	ModePvPDiv2    BattleMode = "pvp_div2"
	ModePvPDiv3    BattleMode = "pvp_div3"
	ModeRankSolo   BattleMode = "rank_solo"
	ModeRatingSolo BattleMode = "rating_solo"
	ModeRatingDiv  BattleMode = "rating_div"
)

// Ranked reports whether the mode uses the ranked rating weights.
func (m BattleMode) Ranked() bool {
	switch m {
	case ModeRankSolo, ModeRatingSolo, ModeRatingDiv:
		return true
	}
	return false
}

// ModesFor lists the ship sub-resources available for a region. The RU
// cluster exposes two extra rating modes.
func ModesFor(region Region) []BattleMode {
	modes := []BattleMode{ModePvPSolo, ModePvPDiv2, ModePvPDiv3, ModeRankSolo}
	if region == RegionRU {
		modes = append(modes, ModeRatingSolo, ModeRatingDiv)
	}
	return modes
}

// AccountKey is the identity of a tracked account.
type AccountKey struct {
	Region    Region
	AccountID int64
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%d-%d", int(k.Region), k.AccountID)
}

// Account mirrors the relational account row the refresh pipeline
// reads and writes. Accounts are never hard-deleted, only disabled.
type Account struct {
	Region        Region
	AccountID     int64
	Username      string
	ClanTag       string
	Insignia      string
	Enabled       bool
	Public        bool
	ActivityLevel int
	TotalBattles  int64
	PvPBattles    int64
	RankedBattles int64
	RegisteredAt  int64 // epoch seconds, 0 when unknown
	LastBattleAt  int64 // epoch seconds, 0 when unknown
	TouchedAt     int64 // epoch seconds of the last refresh
}

// FeatureSet holds the refresh features an account is enrolled in.
type FeatureSet struct {
	Recent    bool
	RecentPro bool
}

// Counters are the cumulative per-ship aggregates fetched from the
// stats API. The source is cumulative, so every field is monotonically
// non-decreasing within a generation.
type Counters struct {
	Battles      int64 `json:"battles"`
	Wins         int64 `json:"wins"`
	Losses       int64 `json:"losses"`
	Damage       int64 `json:"damage"`
	Frags        int64 `json:"frags"`
	Survived     int64 `json:"survived"`
	AssistDamage int64 `json:"assist_damage"`
	Agro         int64 `json:"agro"`
	Exp          int64 `json:"exp"`
	PlanesKilled int64 `json:"planes_killed"`
	MainHits     int64 `json:"main_hits"`
	MainShots    int64 `json:"main_shots"`
}

// Add returns the field-wise sum of two counter sets.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		Battles:      c.Battles + o.Battles,
		Wins:         c.Wins + o.Wins,
		Losses:       c.Losses + o.Losses,
		Damage:       c.Damage + o.Damage,
		Frags:        c.Frags + o.Frags,
		Survived:     c.Survived + o.Survived,
		AssistDamage: c.AssistDamage + o.AssistDamage,
		Agro:         c.Agro + o.Agro,
		Exp:          c.Exp + o.Exp,
		PlanesKilled: c.PlanesKilled + o.PlanesKilled,
		MainHits:     c.MainHits + o.MainHits,
		MainShots:    c.MainShots + o.MainShots,
	}
}

// Sub returns the field-wise difference c - o.
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		Battles:      c.Battles - o.Battles,
		Wins:         c.Wins - o.Wins,
		Losses:       c.Losses - o.Losses,
		Damage:       c.Damage - o.Damage,
		Frags:        c.Frags - o.Frags,
		Survived:     c.Survived - o.Survived,
		AssistDamage: c.AssistDamage - o.AssistDamage,
		Agro:         c.Agro - o.Agro,
		Exp:          c.Exp - o.Exp,
		PlanesKilled: c.PlanesKilled - o.PlanesKilled,
		MainHits:     c.MainHits - o.MainHits,
		MainShots:    c.MainShots - o.MainShots,
	}
}

// Negative reports whether any field went backwards, which marks a
// non-monotonic source anomaly.
func (c Counters) Negative() bool {
	return c.Battles < 0 || c.Wins < 0 || c.Losses < 0 || c.Damage < 0 ||
		c.Frags < 0 || c.Survived < 0 || c.AssistDamage < 0 || c.Agro < 0 ||
		c.Exp < 0 || c.PlanesKilled < 0 || c.MainHits < 0 || c.MainShots < 0
}

// ShipRef is a generation's index entry for one ship: its cumulative
// battle count and the date key of the ship-history row holding the
// full counters from the last time that ship changed. The reference
// date can be arbitrarily old for ships that have not been played.
type ShipRef struct {
	Battles int64  `json:"b"`
	RefDate string `json:"d"`
}

// Generation is one dated snapshot for a single account: account-level
// aggregates plus the per-ship reference index.
type Generation struct {
	DateKey        string
	Public         bool
	LevelingPoints int64
	Karma          int64
	WinRate        float64
	AvgDamage      float64
	AvgFrags       float64
	Ships          map[string]ShipRef
}

// TotalBattles sums the per-ship battle counters.
func (g *Generation) TotalBattles() int64 {
	var total int64
	for _, ref := range g.Ships {
		total += ref.Battles
	}
	return total
}

// DeltaRecord is the field-wise difference between two generations for
// one ship. Only emitted when the battle delta is positive.
type DeltaRecord struct {
	ID               string   `json:"id"`
	Region           Region   `json:"region"`
	AccountID        int64    `json:"account_id"`
	ShipID           string   `json:"ship_id"`
	FromDate         string   `json:"from_date"`
	ToDate           string   `json:"to_date"`
	Counters         Counters `json:"counters"`
	FirstObservation bool     `json:"first_observation"`
	CreatedAt        int64    `json:"created_at"`
}

// RefreshJob asks a worker to refresh one account.
type RefreshJob struct {
	Region    Region `json:"region"`
	AccountID int64  `json:"account_id"`
}

func (j RefreshJob) Key() AccountKey {
	return AccountKey{Region: j.Region, AccountID: j.AccountID}
}

// ActivityLevel classifies account recency into the 0-9 ordinal scale
// the cadence table is keyed by: 0 hidden, 1 no battle data, 2-8
// increasing buckets of time since the last battle, 9 long inactive.
func ActivityLevel(public bool, totalBattles, lastBattleAt int64, now time.Time) int {
	if !public {
		return 0
	}
	if totalBattles == 0 || lastBattleAt == 0 {
		return 1
	}
	since := now.Unix() - lastBattleAt
	buckets := []struct {
		limit int64
		level int
	}{
		{1 * 24 * 60 * 60, 2},
		{3 * 24 * 60 * 60, 3},
		{7 * 24 * 60 * 60, 4},
		{30 * 24 * 60 * 60, 5},
		{90 * 24 * 60 * 60, 6},
		{180 * 24 * 60 * 60, 7},
		{360 * 24 * 60 * 60, 8},
	}
	for _, b := range buckets {
		if since <= b.limit {
			return b.level
		}
	}
	return 9
}
