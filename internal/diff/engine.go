// Package diff compares freshly fetched snapshots against the stored
// generations and emits recent-window delta records. All state
// transitions of an account's tracked lifecycle (hidden profile,
// ineligible, cold start) are decided here and reported as signals for
// the caller to apply.
package diff

import (
	"context"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"warship-tracker/internal/constants"
	"warship-tracker/internal/domain"
)

// Signal tells the caller which enrollment change a processed snapshot
// implies.
type Signal int

const (
	SignalNone Signal = iota
	// SignalDisableAll turns off both recent tiers (hidden profile,
	// deleted account, no public stats, inactive >360d).
	SignalDisableAll
	// SignalDisablePro downgrades a pro enrollment (inactive >90d).
	SignalDisablePro
)

// State classifies what Process did with the snapshot.
type State int

const (
	StateUpdated State = iota
	StateNoChange
	StateColdStart
	StateHidden
	StateIneligible
)

func (s State) String() string {
	switch s {
	case StateUpdated:
		return "updated"
	case StateNoChange:
		return "no change"
	case StateColdStart:
		return "new account"
	case StateHidden:
		return "hidden profile"
	case StateIneligible:
		return "ineligible"
	}
	return "unknown"
}

// Outcome is the result of one processed snapshot.
type Outcome struct {
	State  State
	Signal Signal
	Deltas []domain.DeltaRecord
}

// Fetch is the merged result of one refresh cycle's sub-resource
// fetches, reduced to what the engine needs.
type Fetch struct {
	Hidden         bool
	HasStats       bool
	LevelingPoints int64
	Karma          int64
	LastBattleAt   int64
	WinRate        float64
	AvgDamage      float64
	AvgFrags       float64
	Ships          map[string]domain.Counters
}

// SnapshotStore is the persistence the engine drives. Implemented by
// the snapshot package.
type SnapshotStore interface {
	ReadGeneration(ctx context.Context, key domain.AccountKey, date string) (*domain.Generation, error)
	WriteGeneration(ctx context.Context, key domain.AccountKey, gen *domain.Generation) error
	WriteEntities(ctx context.Context, key domain.AccountKey, date string, ships map[string]domain.Counters) error
	ReadEntityHistory(ctx context.Context, key domain.AccountKey, shipID, date string) (domain.Counters, bool, error)
	Prune(ctx context.Context, key domain.AccountKey, keep []string) error
}

// DeltaSink receives emitted delta records.
type DeltaSink interface {
	Publish(ctx context.Context, key domain.AccountKey, deltas []domain.DeltaRecord) error
}

type Engine struct {
	store  SnapshotStore
	sink   DeltaSink
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(store SnapshotStore, sink DeltaSink, logger zerolog.Logger) *Engine {
	return &Engine{store: store, sink: sink, logger: logger, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Process feeds one fetched snapshot through the diff pipeline.
// Replays are idempotent: an identical fetch short-circuits on equal
// battle counts and writes nothing new.
func (e *Engine) Process(ctx context.Context, key domain.AccountKey, features domain.FeatureSet, fetch Fetch) (Outcome, error) {
	now := e.now()
	today := domain.DateKey(key.Region, now, 0)
	yesterday := domain.DateKey(key.Region, now, 1)

	if fetch.Hidden {
		return e.processHidden(ctx, key, today, yesterday)
	}
	if !fetch.HasStats {
		// Deleted account or no public stats: a state transition, not
		// an error.
		return Outcome{State: StateIneligible, Signal: SignalDisableAll}, nil
	}
	if fetch.LastBattleAt > 0 && now.Unix()-fetch.LastBattleAt >= int64(constants.InactiveCutoff.Seconds()) {
		return Outcome{State: StateIneligible, Signal: SignalDisableAll}, nil
	}

	signal := SignalNone
	if features.RecentPro && fetch.LastBattleAt > 0 &&
		now.Unix()-fetch.LastBattleAt >= int64(constants.ProInactiveCutoff.Seconds()) {
		signal = SignalDisablePro
	}

	prev, err := e.store.ReadGeneration(ctx, key, yesterday)
	if err != nil {
		return Outcome{}, err
	}
	current, err := e.store.ReadGeneration(ctx, key, today)
	if err != nil {
		return Outcome{}, err
	}

	if prev == nil && current == nil {
		outcome, err := e.processColdStart(ctx, key, fetch, today, yesterday)
		if err != nil {
			return Outcome{}, err
		}
		outcome.Signal = signal
		e.publish(ctx, key, features, outcome.Deltas)
		return outcome, nil
	}

	if current == nil {
		// A new generation starts as a copy of the prior one.
		copied := *prev
		copied.DateKey = today
		if err := e.store.WriteGeneration(ctx, key, &copied); err != nil {
			return Outcome{}, err
		}
		current = &copied
	}

	if current.Public && current.Ships != nil && fetchTotal(fetch) == current.TotalBattles() {
		return Outcome{State: StateNoChange, Signal: signal}, nil
	}

	if !current.Public || current.Ships == nil {
		// The stored generation carries no usable reference (profile
		// was hidden, or the index is gone): rebuild from the fetch.
		outcome, err := e.processRebuild(ctx, key, fetch, today, yesterday)
		if err != nil {
			return Outcome{}, err
		}
		outcome.Signal = signal
		e.publish(ctx, key, features, outcome.Deltas)
		return outcome, nil
	}

	deltas, changed, err := e.computeDeltas(ctx, key, fetch, current, today)
	if err != nil {
		return Outcome{}, err
	}

	gen := buildGeneration(fetch, today)
	gen.Ships = current.Ships
	if err := e.store.WriteGeneration(ctx, key, gen); err != nil {
		return Outcome{}, err
	}
	if err := e.store.WriteEntities(ctx, key, today, changed); err != nil {
		return Outcome{}, err
	}
	if err := e.store.Prune(ctx, key, []string{yesterday, today}); err != nil {
		return Outcome{}, err
	}

	e.publish(ctx, key, features, deltas)

	return Outcome{State: StateUpdated, Signal: signal, Deltas: deltas}, nil
}

// publish hands a delta batch to the sink for pro enrollments; sink
// failures are logged, never fatal to the cycle.
func (e *Engine) publish(ctx context.Context, key domain.AccountKey, features domain.FeatureSet, deltas []domain.DeltaRecord) {
	if len(deltas) == 0 || !features.RecentPro {
		return
	}
	if err := e.sink.Publish(ctx, key, deltas); err != nil {
		e.logger.Warn().Err(err).Str("account", key.String()).Msg("failed to publish deltas")
	}
}

// computeDeltas walks every fetched ship against the current
// generation's reference index, emitting deltas for changed ships and
// updating the index in place. Changed ships are collected for the
// history write.
func (e *Engine) computeDeltas(ctx context.Context, key domain.AccountKey, fetch Fetch, current *domain.Generation, today string) ([]domain.DeltaRecord, map[string]domain.Counters, error) {
	var deltas []domain.DeltaRecord
	changed := make(map[string]domain.Counters)
	createdAt := e.now().Unix()

	for shipID, counters := range fetch.Ships {
		if counters.Battles <= 0 {
			continue
		}
		ref, known := current.Ships[shipID]
		if known && counters.Battles == ref.Battles {
			continue
		}

		firstObservation := !known
		fromDate := ref.RefDate
		var old domain.Counters
		if known {
			stored, found, err := e.store.ReadEntityHistory(ctx, key, shipID, ref.RefDate)
			if err != nil {
				return nil, nil, err
			}
			if found {
				old = stored
			} else {
				// Reference row lost; fall back to first-observation
				// semantics rather than failing the cycle.
				firstObservation = true
				fromDate = ""
			}
		}

		delta := counters.Sub(old)
		current.Ships[shipID] = domain.ShipRef{Battles: counters.Battles, RefDate: today}
		changed[shipID] = counters

		if delta.Negative() {
			// Counters never decrease server-side; this is a source
			// anomaly. Overwrite the stored state but emit nothing.
			e.logger.Warn().
				Str("account", key.String()).
				Str("ship_id", shipID).
				Int64("old_battles", old.Battles).
				Int64("new_battles", counters.Battles).
				Msg("counter regression detected, delta suppressed")
			continue
		}
		if delta.Battles == 0 {
			continue
		}

		id, err := gonanoid.New()
		if err != nil {
			return nil, nil, err
		}
		deltas = append(deltas, domain.DeltaRecord{
			ID:               id,
			Region:           key.Region,
			AccountID:        key.AccountID,
			ShipID:           shipID,
			FromDate:         fromDate,
			ToDate:           today,
			Counters:         delta,
			FirstObservation: firstObservation,
			CreatedAt:        createdAt,
		})
	}
	return deltas, changed, nil
}

func (e *Engine) processHidden(ctx context.Context, key domain.AccountKey, today, yesterday string) (Outcome, error) {
	zeroed := &domain.Generation{DateKey: today, Public: false}
	prev, err := e.store.ReadGeneration(ctx, key, yesterday)
	if err != nil {
		return Outcome{}, err
	}
	if prev == nil {
		zeroPrev := &domain.Generation{DateKey: yesterday, Public: false}
		if err := e.store.WriteGeneration(ctx, key, zeroPrev); err != nil {
			return Outcome{}, err
		}
	}
	if err := e.store.WriteGeneration(ctx, key, zeroed); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: StateHidden, Signal: SignalDisableAll}, nil
}

// seed builds a generation from scratch when no usable reference
// exists. Every fetched ship is new to the index, so each one emits a
// first-observation delta equal to its full counters.
func (e *Engine) seed(key domain.AccountKey, fetch Fetch, today, refDate string) (*domain.Generation, map[string]domain.Counters, []domain.DeltaRecord, error) {
	gen := buildGeneration(fetch, today)
	gen.Ships = make(map[string]domain.ShipRef, len(fetch.Ships))
	entities := make(map[string]domain.Counters, len(fetch.Ships))
	createdAt := e.now().Unix()

	var deltas []domain.DeltaRecord
	for shipID, counters := range fetch.Ships {
		if counters.Battles <= 0 {
			continue
		}
		gen.Ships[shipID] = domain.ShipRef{Battles: counters.Battles, RefDate: refDate}
		entities[shipID] = counters

		id, err := gonanoid.New()
		if err != nil {
			return nil, nil, nil, err
		}
		deltas = append(deltas, domain.DeltaRecord{
			ID:               id,
			Region:           key.Region,
			AccountID:        key.AccountID,
			ShipID:           shipID,
			ToDate:           today,
			Counters:         counters,
			FirstObservation: true,
			CreatedAt:        createdAt,
		})
	}
	return gen, entities, deltas, nil
}

func (e *Engine) processColdStart(ctx context.Context, key domain.AccountKey, fetch Fetch, today, yesterday string) (Outcome, error) {
	gen, entities, deltas, err := e.seed(key, fetch, today, yesterday)
	if err != nil {
		return Outcome{}, err
	}

	prevGen := *gen
	prevGen.DateKey = yesterday
	if err := e.store.WriteGeneration(ctx, key, &prevGen); err != nil {
		return Outcome{}, err
	}
	if err := e.store.WriteGeneration(ctx, key, gen); err != nil {
		return Outcome{}, err
	}
	if err := e.store.WriteEntities(ctx, key, yesterday, entities); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: StateColdStart, Deltas: deltas}, nil
}

func (e *Engine) processRebuild(ctx context.Context, key domain.AccountKey, fetch Fetch, today, yesterday string) (Outcome, error) {
	gen, entities, deltas, err := e.seed(key, fetch, today, today)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.store.WriteGeneration(ctx, key, gen); err != nil {
		return Outcome{}, err
	}
	if err := e.store.WriteEntities(ctx, key, today, entities); err != nil {
		return Outcome{}, err
	}
	if err := e.store.Prune(ctx, key, []string{yesterday, today}); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: StateUpdated, Deltas: deltas}, nil
}

func buildGeneration(fetch Fetch, date string) *domain.Generation {
	return &domain.Generation{
		DateKey:        date,
		Public:         true,
		LevelingPoints: fetch.LevelingPoints,
		Karma:          fetch.Karma,
		WinRate:        fetch.WinRate,
		AvgDamage:      fetch.AvgDamage,
		AvgFrags:       fetch.AvgFrags,
	}
}

func fetchTotal(fetch Fetch) int64 {
	var total int64
	for _, c := range fetch.Ships {
		total += c.Battles
	}
	return total
}
