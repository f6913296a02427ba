// Package api is the client for the regional "vortex" stats endpoints.
// Contract: HTTP 200 with a JSON body keyed by the numeric account id,
// 404 meaning the account does not exist, anything else is a network
// error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"warship-tracker/internal/domain"
)

// ErrNotFound marks a 404 from the stats API: the account is gone.
var ErrNotFound = errors.New("api: account not found")

var regionBaseURLs = map[domain.Region]string{
	domain.RegionAsia: "https://vortex.worldofwarships.asia",
	domain.RegionEU:   "https://vortex.worldofwarships.eu",
	domain.RegionNA:   "https://vortex.worldofwarships.com",
	domain.RegionRU:   "https://vortex.korabli.su",
	domain.RegionCN:   "https://vortex.wowsgame.cn",
}

type VortexClient struct {
	client *fasthttp.Client
}

func NewVortexClient() *VortexClient {
	return &VortexClient{
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func accountURL(region domain.Region, accountID int64, ac string) string {
	url := fmt.Sprintf("%s/api/accounts/%d/", regionBaseURLs[region], accountID)
	if ac != "" {
		url += "?ac=" + ac
	}
	return url
}

func shipsURL(region domain.Region, accountID int64, mode domain.BattleMode, ac string) string {
	url := fmt.Sprintf("%s/api/accounts/%d/ships/%s/", regionBaseURLs[region], accountID, mode)
	if ac != "" {
		url += "?ac=" + ac
	}
	return url
}

func clansURL(region domain.Region, accountID int64) string {
	return fmt.Sprintf("%s/api/accounts/%d/clans/", regionBaseURLs[region], accountID)
}

// GetAccount fetches the account basic sub-resource. The optional
// access token unlocks stats the owner chose to share privately.
func (c *VortexClient) GetAccount(ctx context.Context, region domain.Region, accountID int64, ac string) (*AccountPayload, error) {
	envelope, err := doRequest[accountEnvelope](ctx, c, accountURL(region, accountID, ac))
	if err != nil {
		return nil, err
	}
	return parseAccount(envelope, accountID)
}

// GetShips fetches cumulative per-ship counters for one battle mode.
func (c *VortexClient) GetShips(ctx context.Context, region domain.Region, accountID int64, mode domain.BattleMode, ac string) (map[string]domain.Counters, error) {
	envelope, err := doRequest[shipsEnvelope](ctx, c, shipsURL(region, accountID, mode, ac))
	if err != nil {
		return nil, err
	}
	return parseShips(envelope, accountID, mode)
}

// GetClan fetches the account's clan membership.
func (c *VortexClient) GetClan(ctx context.Context, region domain.Region, accountID int64) (*ClanInfo, error) {
	envelope, err := doRequest[clanEnvelope](ctx, c, clansURL(region, accountID))
	if err != nil {
		return nil, err
	}
	entry, ok := envelope.Data[fmt.Sprintf("%d", accountID)]
	if !ok || entry.Clan == nil {
		return &ClanInfo{}, nil
	}
	return entry.Clan, nil
}

func doRequest[T any](ctx context.Context, client *VortexClient, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("API error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Wire shapes. The body is keyed by the numeric account id, and the
// hidden_profile marker is detected by key presence, so the account
// object is parsed in two passes.

type accountEnvelope struct {
	Status string                     `json:"status"`
	Data   map[string]json.RawMessage `json:"data"`
}

type BasicStats struct {
	LevelingPoints int64 `json:"leveling_points"`
	LastBattleTime int64 `json:"last_battle_time"`
	CreatedAt      int64 `json:"created_at"`
	Karma          int64 `json:"karma"`
}

// ModeCounters is one mode's cumulative aggregate block; an empty JSON
// object means the account never played the mode.
type ModeCounters struct {
	Battles        int64 `json:"battles_count"`
	Wins           int64 `json:"wins"`
	Losses         int64 `json:"losses"`
	Damage         int64 `json:"damage_dealt"`
	Frags          int64 `json:"frags"`
	Survived       int64 `json:"survived"`
	ScoutingDamage int64 `json:"scouting_damage"`
	AssistDamage   int64 `json:"assist_damage"`
	Agro           int64 `json:"art_agro"`
	Exp            int64 `json:"original_exp"`
	PlanesKilled   int64 `json:"planes_killed"`
	MainHits       int64 `json:"hits_by_main"`
	MainShots      int64 `json:"shots_by_main"`
}

// Counters converts the wire block to the domain counter set. The two
// assist fields are mutually exclusive across regions.
func (m ModeCounters) Counters() domain.Counters {
	assist := m.AssistDamage
	if assist == 0 {
		assist = m.ScoutingDamage
	}
	return domain.Counters{
		Battles:      m.Battles,
		Wins:         m.Wins,
		Losses:       m.Losses,
		Damage:       m.Damage,
		Frags:        m.Frags,
		Survived:     m.Survived,
		AssistDamage: assist,
		Agro:         m.Agro,
		Exp:          m.Exp,
		PlanesKilled: m.PlanesKilled,
		MainHits:     m.MainHits,
		MainShots:    m.MainShots,
	}
}

type DogTag struct {
	TextureID         int64 `json:"texture_id"`
	SymbolID          int64 `json:"symbol_id"`
	BorderColorID     int64 `json:"border_color_id"`
	BackgroundColorID int64 `json:"background_color_id"`
	BackgroundID      int64 `json:"background_id"`
}

// Insignia flattens the dog tag into the stored string form.
func (d *DogTag) Insignia() string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("%d-%d-%d-%d-%d", d.TextureID, d.SymbolID, d.BorderColorID, d.BackgroundColorID, d.BackgroundID)
}

// AccountPayload is the parsed account basic sub-resource, reduced to
// the fields the refresh pipeline depends on.
type AccountPayload struct {
	Name       string
	Hidden     bool
	HasStats   bool
	Basic      BasicStats
	PvP        ModeCounters
	RankSolo   ModeCounters
	RatingSolo ModeCounters
	RatingDiv  ModeCounters
	DogTag     *DogTag
}

type accountBody struct {
	Name       string          `json:"name"`
	DogTag     *DogTag         `json:"dog_tag"`
	Statistics json.RawMessage `json:"statistics"`
}

type accountStatistics struct {
	Basic      *BasicStats  `json:"basic"`
	PvP        ModeCounters `json:"pvp"`
	RankSolo   ModeCounters `json:"rank_solo"`
	RatingSolo ModeCounters `json:"rating_solo"`
	RatingDiv  ModeCounters `json:"rating_div"`
}

func parseAccount(envelope *accountEnvelope, accountID int64) (*AccountPayload, error) {
	raw, ok := envelope.Data[fmt.Sprintf("%d", accountID)]
	if !ok || string(raw) == "null" {
		return &AccountPayload{}, nil
	}

	// hidden_profile is detected by presence, not value.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("malformed account body: %w", err)
	}
	_, hidden := fields["hidden_profile"]

	var body accountBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("malformed account body: %w", err)
	}

	payload := &AccountPayload{
		Name:   body.Name,
		Hidden: hidden,
		DogTag: body.DogTag,
	}
	if hidden || len(body.Statistics) == 0 || string(body.Statistics) == "null" {
		return payload, nil
	}

	var stats accountStatistics
	if err := json.Unmarshal(body.Statistics, &stats); err != nil {
		return nil, fmt.Errorf("malformed account statistics: %w", err)
	}
	if stats.Basic == nil {
		return payload, nil
	}
	payload.HasStats = true
	payload.Basic = *stats.Basic
	payload.PvP = stats.PvP
	payload.RankSolo = stats.RankSolo
	payload.RatingSolo = stats.RatingSolo
	payload.RatingDiv = stats.RatingDiv
	return payload, nil
}

type shipsEnvelope struct {
	Status string `json:"status"`
	Data   map[string]struct {
		Statistics map[string]map[domain.BattleMode]ModeCounters `json:"statistics"`
	} `json:"data"`
}

func parseShips(envelope *shipsEnvelope, accountID int64, mode domain.BattleMode) (map[string]domain.Counters, error) {
	entry, ok := envelope.Data[fmt.Sprintf("%d", accountID)]
	if !ok {
		return map[string]domain.Counters{}, nil
	}
	result := make(map[string]domain.Counters, len(entry.Statistics))
	for shipID, byMode := range entry.Statistics {
		block, ok := byMode[mode]
		if !ok || block.Battles == 0 {
			continue
		}
		result[shipID] = block.Counters()
	}
	return result, nil
}

type ClanInfo struct {
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

type clanEnvelope struct {
	Status string `json:"status"`
	Data   map[string]struct {
		Clan *ClanInfo `json:"clan"`
	} `json:"data"`
}
