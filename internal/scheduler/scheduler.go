package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"warship-tracker/internal/config"
	"warship-tracker/internal/constants"
	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
	"warship-tracker/internal/metrics"
	"warship-tracker/internal/queue"
	"warship-tracker/internal/repository"
)

const leaderKey = "scheduler:leader"

type Scheduler struct {
	accounts    *repository.AccountRepository
	enrollments *repository.EnrollmentRepository
	store       kv.Store
	queue       queue.Queue
	metrics     *metrics.Recorder
	logger      zerolog.Logger

	clientName string
	interval   time.Duration
	batchSize  int64
	now        func() time.Time
}

func New(
	accounts *repository.AccountRepository,
	enrollments *repository.EnrollmentRepository,
	store kv.Store,
	q queue.Queue,
	recorder *metrics.Recorder,
	cfg *config.Config,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		accounts:    accounts,
		enrollments: enrollments,
		store:       store,
		queue:       q,
		metrics:     recorder,
		logger:      logger,
		clientName:  cfg.ClientName,
		interval:    cfg.SchedulerInterval,
		batchSize:   int64(cfg.BatchSize),
		now:         time.Now,
	}
}

// SetClock overrides the time source; used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run drives the tick loop until the context is cancelled. Each cycle
// takes a fixed wall-clock slot: the scan runs, then the loop sleeps
// whatever remains of the interval. Tick errors are logged, never
// fatal.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		start := s.now()
		if err := s.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("scheduler tick failed")
		}

		elapsed := s.now().Sub(start)
		wait := s.interval - elapsed
		if wait < 0 {
			s.logger.Warn().Dur("elapsed", elapsed).Msg("scheduler tick overran its interval")
			wait = 0
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	s.markAlive(ctx)

	leader, err := s.acquireLeadership(ctx)
	if err != nil {
		return err
	}
	if !leader {
		s.logger.Debug().Msg("standby: another scheduler holds the leader lock")
		return nil
	}

	maxID, err := s.accounts.MaxID(ctx)
	if err != nil {
		return err
	}
	if maxID == 0 {
		return nil
	}

	enrolled, err := s.enrollments.EnabledSets(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	var dispatched int64
	for fromID := int64(1); fromID <= maxID; fromID += s.batchSize {
		toID := fromID + s.batchSize - 1
		rows, err := s.accounts.ScanBatch(ctx, fromID, toID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			key := domain.AccountKey{Region: row.Region, AccountID: row.AccountID}
			features := enrolled[key]
			interval := Cadence(row.ActivityLevel, features, row.LastBattleAt, now)
			if !IsDue(row.TouchedAt, interval, now) {
				continue
			}
			ok, err := s.dispatch(ctx, key)
			if err != nil {
				s.logger.Warn().Err(err).Str("account", key.String()).Msg("failed to dispatch refresh")
				continue
			}
			if ok {
				dispatched++
			}
		}
	}

	s.metrics.JobsDispatched(ctx, dispatched)
	if dispatched > 0 {
		s.logger.Info().Int64("dispatched", dispatched).Msg("scheduler tick complete")
	}
	return nil
}

// dispatch enqueues one refresh job behind the dedup lock. A held lock
// means the account was dispatched recently or is mid-refresh; the TTL
// caps refresh frequency regardless of cadence.
func (s *Scheduler) dispatch(ctx context.Context, key domain.AccountKey) (bool, error) {
	lockKey := dedupKey(key)
	acquired, err := s.store.SetIfAbsent(ctx, lockKey, s.clientName, constants.DedupLockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	if err := s.queue.Enqueue(ctx, domain.RefreshJob{Region: key.Region, AccountID: key.AccountID}); err != nil {
		// Release the lock so the next tick can retry.
		if delErr := s.store.Delete(ctx, lockKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", lockKey).Msg("failed to release dedup lock")
		}
		return false, err
	}
	return true, nil
}

// acquireLeadership takes or keeps the single-scheduler lock. The
// holder refreshes the TTL each tick; a crashed holder loses it after
// LeaderLockTTL.
func (s *Scheduler) acquireLeadership(ctx context.Context) (bool, error) {
	acquired, err := s.store.SetIfAbsent(ctx, leaderKey, s.clientName, constants.LeaderLockTTL)
	if err != nil {
		return false, err
	}
	if acquired {
		return true, nil
	}
	holder, err := s.store.Get(ctx, leaderKey)
	if err != nil {
		return false, err
	}
	if holder != s.clientName {
		return false, nil
	}
	return true, s.store.Set(ctx, leaderKey, s.clientName, constants.LeaderLockTTL)
}

// markAlive publishes this instance's liveness marker for the health
// endpoint. The TTL outlives one interval so a slow tick does not read
// as a dead scheduler.
func (s *Scheduler) markAlive(ctx context.Context) {
	key := fmt.Sprintf("status:%s", s.clientName)
	value := strconv.FormatInt(s.now().Unix(), 10)
	if err := s.store.Set(ctx, key, value, s.interval+60*time.Second); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish liveness marker")
	}
}

// dedupKey is the per-account refresh lock key. The worker clears it
// when it picks the job up.
func dedupKey(key domain.AccountKey) string {
	return fmt.Sprintf("user_refresh:%d:%d", int(key.Region), key.AccountID)
}

// DedupKey exposes the lock key format to the worker package.
func DedupKey(key domain.AccountKey) string {
	return dedupKey(key)
}
