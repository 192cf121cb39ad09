package analytics

import (
	"time"

	"eventhub/pulse/internal/store"
)

// Domain event kinds accepted from the CRUD layer.
const (
	EventRegistrationCreated = "registration-created"
	EventEventCreated        = "event-created"
	EventEventUpdated        = "event-updated"
)

// Counter keys present in every snapshot.
const (
	CounterTotalEvents         = "total_events"
	CounterTotalUsers          = "total_users"
	CounterTotalRegistrations  = "total_registrations"
	CounterTodayRegistrations  = "today_registrations"
	CounterWeeklyRegistrations = "weekly_registrations"
	CounterUpcomingEvents      = "upcoming_events"
	CounterAverageCapacity     = "average_capacity"
)

// Growth, distribution, series and ranking keys.
const (
	GrowthUsers         = "users_pct"
	GrowthRegistrations = "registrations_pct"

	DistributionEventFill = "event_fill"

	SeriesRegistrationsPerDay = "registrations_per_day"
	SeriesUsersPerMonth       = "users_per_month"

	RankingTopEvents = "top_events"
)

// DomainEvent is a lightweight notification that store contents changed.
// Events are reacted to, never persisted.
type DomainEvent struct {
	Kind       string                 `json:"kind"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Activity is one entry of the recent-activity feed.
type Activity struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SystemHealth carries real process instrumentation for the admin dashboard.
type SystemHealth struct {
	Status               string `json:"status"`
	UptimeSeconds        int64  `json:"uptime_seconds"`
	MemoryUsedMB         uint64 `json:"memory_used_mb"`
	MemoryTotalMB        uint64 `json:"memory_total_mb"`
	Goroutines           int    `json:"goroutines"`
	ConnectedSubscribers int    `json:"connected_subscribers"`
}

// Snapshot is an immutable view of platform analytics, computed against a
// single reference timestamp so all figures are mutually coherent.
type Snapshot struct {
	Timestamp      time.Time                      `json:"timestamp"`
	Counters       map[string]int                 `json:"counters"`
	Growth         map[string]float64             `json:"growth"`
	Distributions  map[string]map[string]int      `json:"distributions"`
	Series         map[string][]store.SeriesPoint `json:"series"`
	Rankings       map[string][]store.EventRank   `json:"rankings"`
	RecentActivity []Activity                     `json:"recent_activity"`
	Health         SystemHealth                   `json:"health"`
}
