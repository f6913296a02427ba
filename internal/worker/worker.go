// Package worker consumes refresh jobs, fetches the account's current
// data from the stats API and feeds it through the diff engine. Fetches
// within one job are all-or-nothing: a single failed sub-resource
// aborts the cycle so generations never mix data from different points
// in time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"warship-tracker/internal/api"
	"warship-tracker/internal/config"
	"warship-tracker/internal/constants"
	"warship-tracker/internal/diff"
	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
	"warship-tracker/internal/metrics"
	"warship-tracker/internal/queue"
	"warship-tracker/internal/repository"
)

// Job statuses reported in logs and counted by metrics.
const (
	StatusOK           = "ok"
	StatusNetworkError = "network error"
	StatusHidden       = "hidden profile"
	StatusDeleteRecent = "delete recent"
	StatusNoChange     = "no change"
	StatusNewAccount   = "new account"
	StatusStoreError   = "store error"
)

// Fetcher is the stats-API surface the worker needs; satisfied by
// api.VortexClient and faked in tests.
type Fetcher interface {
	GetAccount(ctx context.Context, region domain.Region, accountID int64, ac string) (*api.AccountPayload, error)
	GetShips(ctx context.Context, region domain.Region, accountID int64, mode domain.BattleMode, ac string) (map[string]domain.Counters, error)
	GetClan(ctx context.Context, region domain.Region, accountID int64) (*api.ClanInfo, error)
}

type Pool struct {
	fetcher     Fetcher
	engine      *diff.Engine
	accounts    *repository.AccountRepository
	enrollments *repository.EnrollmentRepository
	store       kv.Store
	queue       queue.Queue
	metrics     *metrics.Recorder
	logger      zerolog.Logger

	size int
	now  func() time.Time
	wg   sync.WaitGroup
}

func NewPool(
	fetcher Fetcher,
	engine *diff.Engine,
	accounts *repository.AccountRepository,
	enrollments *repository.EnrollmentRepository,
	store kv.Store,
	q queue.Queue,
	recorder *metrics.Recorder,
	cfg *config.Config,
	logger zerolog.Logger,
) *Pool {
	return &Pool{
		fetcher:     fetcher,
		engine:      engine,
		accounts:    accounts,
		enrollments: enrollments,
		store:       store,
		queue:       q,
		metrics:     recorder,
		logger:      logger,
		size:        cfg.WorkerCount,
		now:         time.Now,
	}
}

// SetClock overrides the time source; used by tests.
func (p *Pool) SetClock(now func() time.Time) {
	p.now = now
}

// Run starts the worker goroutines and blocks until the context is
// cancelled and all in-flight jobs finished.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().Int("workers", p.size).Msg("worker pool started")
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.consume(ctx, id)
		}(i)
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) consume(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Int("worker", id).Msg("failed to dequeue job")
			continue
		}
		p.Handle(ctx, job)
	}
}

// Handle runs one refresh job end to end. The scheduler's dedup lock
// is never touched here: its TTL both caps per-account refresh
// frequency and keeps this worker the only writer of the account's
// snapshot file until the lock expires.
func (p *Pool) Handle(ctx context.Context, job domain.RefreshJob) {
	key := job.Key()
	p.metrics.JobAttempted(ctx)

	jobCtx, cancel := context.WithTimeout(ctx, constants.JobTimeout)
	defer cancel()

	status, err := p.refresh(jobCtx, key)
	if err != nil {
		p.metrics.JobFailed(ctx)
		p.logger.Error().Err(err).Str("account", key.String()).Str("status", status).Msg("refresh failed")
		return
	}
	p.logger.Info().Str("account", key.String()).Str("status", status).Msg("refresh complete")
}

func (p *Pool) refresh(ctx context.Context, key domain.AccountKey) (string, error) {
	features, err := p.enrollments.Features(ctx, key)
	if err != nil {
		return StatusStoreError, err
	}
	token := p.accessToken(ctx, key.AccountID)

	payload, err := p.fetchAccount(ctx, key, token)
	if errors.Is(err, api.ErrNotFound) {
		return StatusDeleteRecent, p.deleteAccount(ctx, key)
	}
	if err != nil {
		return StatusNetworkError, err
	}

	eligible := payload.HasStats && payload.Basic.LevelingPoints > 0
	acct := p.buildAccount(key, payload, eligible)

	if !features.Recent {
		// Baseline tracking only: refresh the relational row.
		clan, err := p.fetchClan(ctx, key)
		if err != nil {
			return StatusNetworkError, err
		}
		acct.ClanTag = clan.Tag
		if err := p.accounts.ApplyRefresh(ctx, acct, p.now()); err != nil {
			return StatusStoreError, err
		}
		if payload.Hidden {
			return StatusHidden, nil
		}
		return StatusOK, nil
	}

	fetch := diff.Fetch{
		Hidden:         payload.Hidden,
		HasStats:       eligible,
		LevelingPoints: payload.Basic.LevelingPoints,
		Karma:          payload.Basic.Karma,
		LastBattleAt:   payload.Basic.LastBattleTime,
	}
	if eligible && !payload.Hidden {
		ships, clan, err := p.fetchShips(ctx, key, token)
		if err != nil {
			return StatusNetworkError, err
		}
		acct.ClanTag = clan.Tag
		fetch.Ships = ships
		fetch.WinRate, fetch.AvgDamage, fetch.AvgFrags = modeAverages(payload.PvP)
	}

	outcome, err := p.engine.Process(ctx, key, features, fetch)
	if err != nil {
		return StatusStoreError, err
	}
	p.applySignal(ctx, key, outcome.Signal)

	if err := p.accounts.ApplyRefresh(ctx, acct, p.now()); err != nil {
		return StatusStoreError, err
	}

	switch outcome.State {
	case diff.StateHidden:
		return StatusHidden, nil
	case diff.StateIneligible:
		return StatusDeleteRecent, nil
	case diff.StateNoChange:
		return StatusNoChange, nil
	case diff.StateColdStart:
		return StatusNewAccount, nil
	default:
		return StatusOK, nil
	}
}

// fetchShips loads every mode sub-resource plus the clan membership
// concurrently. The fan-out is bounded and the whole group fails if any
// single fetch does.
func (p *Pool) fetchShips(ctx context.Context, key domain.AccountKey, token string) (map[string]domain.Counters, *api.ClanInfo, error) {
	modes := domain.ModesFor(key.Region)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(constants.MaxFetchConcurrency, len(modes)+1))

	var mu sync.Mutex
	merged := make(map[string]domain.Counters)
	clan := &api.ClanInfo{}

	for _, mode := range modes {
		mode := mode
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, constants.ExternalAPITimeout)
			defer cancel()
			ships, err := p.fetcher.GetShips(callCtx, key.Region, key.AccountID, mode, token)
			p.countCall(ctx, key.Region, err)
			if err != nil {
				return fmt.Errorf("fetch ships %s: %w", mode, err)
			}
			mu.Lock()
			for shipID, counters := range ships {
				merged[shipID] = merged[shipID].Add(counters)
			}
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, constants.ExternalAPITimeout)
		defer cancel()
		info, err := p.fetcher.GetClan(callCtx, key.Region, key.AccountID)
		p.countCall(ctx, key.Region, err)
		if err != nil {
			if errors.Is(err, api.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("fetch clan: %w", err)
		}
		mu.Lock()
		clan = info
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return merged, clan, nil
}

func (p *Pool) fetchAccount(ctx context.Context, key domain.AccountKey, token string) (*api.AccountPayload, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()
	payload, err := p.fetcher.GetAccount(callCtx, key.Region, key.AccountID, token)
	p.countCall(ctx, key.Region, err)
	return payload, err
}

func (p *Pool) fetchClan(ctx context.Context, key domain.AccountKey) (*api.ClanInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()
	clan, err := p.fetcher.GetClan(callCtx, key.Region, key.AccountID)
	p.countCall(ctx, key.Region, err)
	if errors.Is(err, api.ErrNotFound) {
		return &api.ClanInfo{}, nil
	}
	return clan, err
}

func (p *Pool) countCall(ctx context.Context, region domain.Region, err error) {
	p.metrics.HTTPRequests(ctx, region, 1)
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		p.metrics.HTTPErrors(ctx, region, 1)
	}
}

func (p *Pool) buildAccount(key domain.AccountKey, payload *api.AccountPayload, eligible bool) *domain.Account {
	pvpBattles := payload.PvP.Battles
	rankedBattles := payload.RankSolo.Battles
	if key.Region == domain.RegionRU {
		rankedBattles += payload.RatingSolo.Battles + payload.RatingDiv.Battles
	}
	total := pvpBattles + rankedBattles

	public := !payload.Hidden
	return &domain.Account{
		Region:        key.Region,
		AccountID:     key.AccountID,
		Username:      payload.Name,
		Insignia:      payload.DogTag.Insignia(),
		Enabled:       true,
		Public:        public,
		ActivityLevel: domain.ActivityLevel(public && eligible, total, payload.Basic.LastBattleTime, p.now()),
		TotalBattles:  total,
		PvPBattles:    pvpBattles,
		RankedBattles: rankedBattles,
		RegisteredAt:  payload.Basic.CreatedAt,
		LastBattleAt:  payload.Basic.LastBattleTime,
	}
}

func (p *Pool) deleteAccount(ctx context.Context, key domain.AccountKey) error {
	if err := p.enrollments.DisableRecent(ctx, key); err != nil {
		return err
	}
	return p.accounts.Disable(ctx, key, p.now())
}

func (p *Pool) applySignal(ctx context.Context, key domain.AccountKey, signal diff.Signal) {
	var err error
	switch signal {
	case diff.SignalDisableAll:
		err = p.enrollments.DisableRecent(ctx, key)
	case diff.SignalDisablePro:
		err = p.enrollments.DisableRecentPro(ctx, key)
	default:
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("account", key.String()).Msg("failed to apply enrollment signal")
	}
}

// modeAverages reduces the account-level pvp aggregate to the win rate
// and per-battle averages stored on each generation.
func modeAverages(pvp api.ModeCounters) (winRate, avgDamage, avgFrags float64) {
	if pvp.Battles == 0 {
		return 0, 0, 0
	}
	b := float64(pvp.Battles)
	return float64(pvp.Wins) / b * 100, float64(pvp.Damage) / b, float64(pvp.Frags) / b
}

func (p *Pool) accessToken(ctx context.Context, accountID int64) string {
	token, err := p.store.Get(ctx, fmt.Sprintf("token:ac:%d", accountID))
	if err != nil {
		return ""
	}
	return token
}
