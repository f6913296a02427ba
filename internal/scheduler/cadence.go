// Package scheduler decides when each tracked account is refreshed and
// dispatches due accounts to the worker queue.
package scheduler

import (
	"time"

	"warship-tracker/internal/domain"
)

// cadenceRow holds the refresh intervals for one activity level:
// baseline tracking, recent enrollment, and recent-pro enrollment.
type cadenceRow struct {
	baseline time.Duration
	recent   time.Duration
	pro      time.Duration
}

// cadenceTable is keyed by activity level 0-9. Active accounts refresh
// often, dormant ones rarely; enrollment tiers tighten the interval.
var cadenceTable = [10]cadenceRow{
	0: {5 * 24 * time.Hour, 6 * time.Hour, 2 * time.Hour},
	1: {25 * 24 * time.Hour, 12 * time.Hour, 2 * time.Hour},
	2: {1 * 24 * time.Hour, 30 * time.Minute, 20 * time.Minute},
	3: {2 * 24 * time.Hour, 1 * time.Hour, 25 * time.Minute},
	4: {3 * 24 * time.Hour, 2 * time.Hour, 30 * time.Minute},
	5: {5 * 24 * time.Hour, 3 * time.Hour, 30 * time.Minute},
	6: {7 * 24 * time.Hour, 4 * time.Hour, 1 * time.Hour},
	7: {15 * 24 * time.Hour, 5 * time.Hour, 2 * time.Hour},
	8: {20 * 24 * time.Hour, 6 * time.Hour, 2 * time.Hour},
	9: {30 * 24 * time.Hour, 12 * time.Hour, 2 * time.Hour},
}

// proFastInterval applies to pro enrollments that battled within the
// last hour: the account is likely mid-session.
const proFastInterval = 300 * time.Second

// Cadence returns the refresh interval for an account given its
// activity level, enrollments and last battle time.
func Cadence(level int, features domain.FeatureSet, lastBattleAt int64, now time.Time) time.Duration {
	if level < 0 || level > 9 {
		level = 9
	}
	row := cadenceTable[level]
	switch {
	case features.RecentPro:
		if lastBattleAt > 0 && now.Unix()-lastBattleAt < int64(time.Hour.Seconds()) {
			return proFastInterval
		}
		return row.pro
	case features.Recent:
		return row.recent
	default:
		return row.baseline
	}
}

// IsDue reports whether an account whose last refresh was at touchedAt
// is due under the given interval. Exactly at the boundary counts as
// due.
func IsDue(touchedAt int64, interval time.Duration, now time.Time) bool {
	if touchedAt == 0 {
		return true
	}
	return now.Unix()-touchedAt >= int64(interval.Seconds())
}
