package analytics

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"eventhub/pulse/internal/store"
	"eventhub/pulse/pkg/logging"
)

const (
	dailySeriesDays    = 30
	monthlySeriesCount = 12
	topEventsLimit     = 5
	activityFetchLimit = 10
	activityLimit      = 10
)

// Source is the query surface the builder consumes. Satisfied by store.Store.
type Source interface {
	CountEvents(ctx context.Context, f store.CountFilter) (int, error)
	CountUsers(ctx context.Context, f store.CountFilter) (int, error)
	CountRegistrations(ctx context.Context, f store.CountFilter) (int, error)
	CountUpcomingEvents(ctx context.Context, ref time.Time) (int, error)
	AverageEventCapacity(ctx context.Context) (int, error)
	TopEventsByRegistrations(ctx context.Context, n int) ([]store.EventRank, error)
	RegistrationsPerDay(ctx context.Context, start, end time.Time) ([]store.SeriesPoint, error)
	UsersCreatedPerMonth(ctx context.Context, monthsBack int, ref time.Time) ([]store.SeriesPoint, error)
	EventFillDistribution(ctx context.Context, now time.Time) (store.FillDistribution, error)
	RecentRegistrations(ctx context.Context, n int) ([]store.RecentRegistration, error)
	RecentEvents(ctx context.Context, n int) ([]store.RecentEvent, error)
}

// Builder assembles snapshots from independent aggregate queries.
type Builder struct {
	source      Source
	logger      logging.Logger
	startedAt   time.Time
	subscribers func() int
}

// NewBuilder creates a Builder. subscribers reports the current live
// subscriber count for the health block; nil means zero.
func NewBuilder(source Source, logger logging.Logger, subscribers func() int) *Builder {
	if subscribers == nil {
		subscribers = func() int { return 0 }
	}
	return &Builder{
		source:      source,
		logger:      logger,
		startedAt:   time.Now(),
		subscribers: subscribers,
	}
}

// Build runs every constituent query concurrently and assembles a Snapshot
// against now. Any constituent failure fails the whole build.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Snapshot, error) {
	now = now.UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfWeek := startOfDay.AddDate(0, 0, -6)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	startOfPrevMonth := startOfMonth.AddDate(0, -1, 0)

	var (
		totalEvents, totalUsers, totalRegs int
		todayRegs, weeklyRegs              int
		upcomingEvents, avgCapacity        int
		usersThisMonth, usersPrevMonth     int
		regsThisMonth, regsPrevMonth       int
		fillDist                           store.FillDistribution
		dailySeries, monthlySeries         []store.SeriesPoint
		topEvents                          []store.EventRank
		recentRegs                         []store.RecentRegistration
		recentEvents                       []store.RecentEvent
	)

	buildStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	count := func(dst *int, query func(context.Context) (int, error)) {
		g.Go(func() error {
			v, err := query(gctx)
			if err != nil {
				return err
			}
			*dst = v
			return nil
		})
	}

	count(&totalEvents, func(ctx context.Context) (int, error) {
		return b.source.CountEvents(ctx, store.CountFilter{})
	})
	count(&totalUsers, func(ctx context.Context) (int, error) {
		return b.source.CountUsers(ctx, store.CountFilter{})
	})
	count(&totalRegs, func(ctx context.Context) (int, error) {
		return b.source.CountRegistrations(ctx, store.CountFilter{})
	})
	count(&todayRegs, func(ctx context.Context) (int, error) {
		return b.source.CountRegistrations(ctx, store.CountFilter{Since: &startOfDay})
	})
	count(&weeklyRegs, func(ctx context.Context) (int, error) {
		return b.source.CountRegistrations(ctx, store.CountFilter{Since: &startOfWeek})
	})
	count(&upcomingEvents, func(ctx context.Context) (int, error) {
		return b.source.CountUpcomingEvents(ctx, now)
	})
	count(&avgCapacity, func(ctx context.Context) (int, error) {
		return b.source.AverageEventCapacity(ctx)
	})
	count(&usersThisMonth, func(ctx context.Context) (int, error) {
		return b.source.CountUsers(ctx, store.CountFilter{Since: &startOfMonth})
	})
	count(&usersPrevMonth, func(ctx context.Context) (int, error) {
		return b.source.CountUsers(ctx, store.CountFilter{Since: &startOfPrevMonth, Until: &startOfMonth})
	})
	count(&regsThisMonth, func(ctx context.Context) (int, error) {
		return b.source.CountRegistrations(ctx, store.CountFilter{Since: &startOfMonth})
	})
	count(&regsPrevMonth, func(ctx context.Context) (int, error) {
		return b.source.CountRegistrations(ctx, store.CountFilter{Since: &startOfPrevMonth, Until: &startOfMonth})
	})

	g.Go(func() error {
		var err error
		fillDist, err = b.source.EventFillDistribution(gctx, now)
		return err
	})
	g.Go(func() error {
		var err error
		start := startOfDay.AddDate(0, 0, -(dailySeriesDays - 1))
		dailySeries, err = b.source.RegistrationsPerDay(gctx, start, startOfDay.AddDate(0, 0, 1))
		return err
	})
	g.Go(func() error {
		var err error
		monthlySeries, err = b.source.UsersCreatedPerMonth(gctx, monthlySeriesCount, now)
		return err
	})
	g.Go(func() error {
		var err error
		topEvents, err = b.source.TopEventsByRegistrations(gctx, topEventsLimit)
		return err
	})
	g.Go(func() error {
		var err error
		recentRegs, err = b.source.RecentRegistrations(gctx, activityFetchLimit)
		return err
	})
	g.Go(func() error {
		var err error
		recentEvents, err = b.source.RecentEvents(gctx, activityFetchLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	b.logger.WithField("duration_ms", time.Since(buildStart).Milliseconds()).Debug("Snapshot built")

	return &Snapshot{
		Timestamp: now,
		Counters: map[string]int{
			CounterTotalEvents:         totalEvents,
			CounterTotalUsers:          totalUsers,
			CounterTotalRegistrations:  totalRegs,
			CounterTodayRegistrations:  todayRegs,
			CounterWeeklyRegistrations: weeklyRegs,
			CounterUpcomingEvents:      upcomingEvents,
			CounterAverageCapacity:     avgCapacity,
		},
		Growth: map[string]float64{
			GrowthUsers:         GrowthPct(usersThisMonth, usersPrevMonth),
			GrowthRegistrations: GrowthPct(regsThisMonth, regsPrevMonth),
		},
		Distributions: map[string]map[string]int{
			DistributionEventFill: fillDist.Counts(),
		},
		Series: map[string][]store.SeriesPoint{
			SeriesRegistrationsPerDay: dailySeries,
			SeriesUsersPerMonth:       monthlySeries,
		},
		Rankings: map[string][]store.EventRank{
			RankingTopEvents: topEvents,
		},
		RecentActivity: MergeActivity(recentRegs, recentEvents, activityLimit),
		Health:         b.health(now),
	}, nil
}

func (b *Builder) health(now time.Time) SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemHealth{
		Status:               "healthy",
		UptimeSeconds:        int64(now.Sub(b.startedAt).Seconds()),
		MemoryUsedMB:         mem.Alloc / 1024 / 1024,
		MemoryTotalMB:        mem.Sys / 1024 / 1024,
		Goroutines:           runtime.NumGoroutine(),
		ConnectedSubscribers: b.subscribers(),
	}
}

// GrowthPct computes month-over-month growth as a percentage rounded to one
// decimal. A zero previous period yields 0, not infinity.
func GrowthPct(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	pct := float64(current-previous) / float64(previous) * 100
	return math.Round(pct*10) / 10
}

// MergeActivity interleaves registration and event-creation rows into one
// newest-first feed of at most limit entries.
func MergeActivity(regs []store.RecentRegistration, events []store.RecentEvent, limit int) []Activity {
	merged := make([]Activity, 0, len(regs)+len(events))
	for _, r := range regs {
		merged = append(merged, Activity{
			Kind:       "registration",
			Message:    fmt.Sprintf("%s registered for %s", r.UserName, r.EventTitle),
			OccurredAt: r.RegisteredAt,
		})
	}
	for _, e := range events {
		merged = append(merged, Activity{
			Kind:       "event",
			Message:    fmt.Sprintf("New event created: %s", e.Title),
			OccurredAt: e.CreatedAt,
		})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].OccurredAt.After(merged[j].OccurredAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
