package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventhub/pulse/pkg/database"
	"eventhub/pulse/pkg/logging"
)

// ErrUnavailable wraps every query failure so callers can treat network
// errors, timeouts and scan failures uniformly.
var ErrUnavailable = errors.New("store unavailable")

const defaultQueryTimeout = 5 * time.Second

// Store answers read-only aggregate queries against the transactional
// schema. Every query is a pure function of store contents and explicit
// parameters; the reference time is always supplied by the caller so a whole
// snapshot is computed against one coherent instant.
type Store struct {
	db            database.PostgresConn
	logger        logging.Logger
	queryTimeout  time.Duration
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
}

// New creates a Store with the default per-query timeout.
func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger, queryTimeout: defaultQueryTimeout}
}

// NewWithTimeout creates a Store with an explicit per-query timeout.
func NewWithTimeout(db database.PostgresConn, logger logging.Logger, timeout time.Duration) *Store {
	return &Store{db: db, logger: logger, queryTimeout: timeout}
}

// WithQueryMetrics attaches the shared database query metrics.
func (s *Store) WithQueryMetrics(queries *prometheus.CounterVec, duration *prometheus.HistogramVec) *Store {
	s.queries = queries
	s.queryDuration = duration
	return s
}

func (s *Store) fail(op string, err error) error {
	s.logger.WithError(err).WithField("query", op).Error("Aggregate query failed")
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.queries == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.queries.WithLabelValues(op, status).Inc()
	s.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *Store) countWhere(ctx context.Context, op, table, timeColumn string, f CountFilter) (count int, err error) {
	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := "SELECT COUNT(*) FROM " + table
	args := []interface{}{}
	if f.Since != nil {
		args = append(args, *f.Since)
		query += fmt.Sprintf(" WHERE %s >= $%d", timeColumn, len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		clause := " WHERE"
		if f.Since != nil {
			clause = " AND"
		}
		query += fmt.Sprintf("%s %s < $%d", clause, timeColumn, len(args))
	}

	if err = s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, s.fail(op, err)
	}
	return count, nil
}

// CountEvents counts events, optionally bounded on created_at.
func (s *Store) CountEvents(ctx context.Context, f CountFilter) (int, error) {
	return s.countWhere(ctx, "count_events", "events", "created_at", f)
}

// CountUsers counts users, optionally bounded on created_at.
func (s *Store) CountUsers(ctx context.Context, f CountFilter) (int, error) {
	return s.countWhere(ctx, "count_users", "users", "created_at", f)
}

// CountRegistrations counts registrations, optionally bounded on registered_at.
func (s *Store) CountRegistrations(ctx context.Context, f CountFilter) (int, error) {
	return s.countWhere(ctx, "count_registrations", "registrations", "registered_at", f)
}

// CountUpcomingEvents counts events whose date is at or after ref.
func (s *Store) CountUpcomingEvents(ctx context.Context, ref time.Time) (count int, err error) {
	start := time.Now()
	defer func() { s.observe("count_upcoming_events", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE event_date >= $1", ref).Scan(&count)
	if err != nil {
		return 0, s.fail("count_upcoming_events", err)
	}
	return count, nil
}

// AverageEventCapacity returns the mean capacity across all events, 0 when
// there are none.
func (s *Store) AverageEventCapacity(ctx context.Context) (_ int, err error) {
	start := time.Now()
	defer func() { s.observe("average_event_capacity", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var avg float64
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(AVG(capacity), 0) FROM events").Scan(&avg)
	if err != nil {
		return 0, s.fail("average_event_capacity", err)
	}
	return int(avg + 0.5), nil
}

// TopEventsByRegistrations returns the n events with the most registrations,
// most popular first.
func (s *Store) TopEventsByRegistrations(ctx context.Context, n int) (ranks []EventRank, err error) {
	start := time.Now()
	defer func() { s.observe("top_events", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.title, COALESCE(u.name, '') AS creator,
		       COUNT(r.id) AS registrations, e.capacity
		FROM events e
		LEFT JOIN users u ON u.id = e.creator_id
		LEFT JOIN registrations r ON r.event_id = e.id
		GROUP BY e.id, e.title, u.name, e.capacity
		ORDER BY registrations DESC, e.created_at DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, s.fail("top_events", err)
	}
	defer rows.Close()

	ranks = make([]EventRank, 0, n)
	for rows.Next() {
		var r EventRank
		if err = rows.Scan(&r.EventID, &r.Title, &r.Creator, &r.Registrations, &r.Capacity); err != nil {
			return nil, s.fail("top_events", err)
		}
		ranks = append(ranks, r)
	}
	if err = rows.Err(); err != nil {
		return nil, s.fail("top_events", err)
	}
	return ranks, nil
}

// RegistrationsPerDay returns one point per day in [start, end), zero-filled
// for days without registrations. Bounds are truncated to midnight UTC.
func (s *Store) RegistrationsPerDay(ctx context.Context, from, to time.Time) (points []SeriesPoint, err error) {
	start := time.Now()
	defer func() { s.observe("registrations_per_day", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(registered_at, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM registrations
		WHERE registered_at >= $1 AND registered_at < $2
		GROUP BY day`, from, to)
	if err != nil {
		return nil, s.fail("registrations_per_day", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var count int
		if err = rows.Scan(&day, &count); err != nil {
			return nil, s.fail("registrations_per_day", err)
		}
		counts[day] = count
	}
	if err = rows.Err(); err != nil {
		return nil, s.fail("registrations_per_day", err)
	}

	points = make([]SeriesPoint, 0, int(to.Sub(from).Hours()/24))
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		points = append(points, SeriesPoint{Date: key, Value: counts[key]})
	}
	return points, nil
}

// UsersCreatedPerMonth returns one point per month for the monthsBack months
// ending with the month containing ref, zero-filled.
func (s *Store) UsersCreatedPerMonth(ctx context.Context, monthsBack int, ref time.Time) (points []SeriesPoint, err error) {
	start := time.Now()
	defer func() { s.observe("users_per_month", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	ref = ref.UTC()
	currentMonth := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	firstMonth := currentMonth.AddDate(0, -(monthsBack - 1), 0)
	nextMonth := currentMonth.AddDate(0, 1, 0)

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at, 'YYYY-MM') AS month, COUNT(*)
		FROM users
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY month`, firstMonth, nextMonth)
	if err != nil {
		return nil, s.fail("users_per_month", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var month string
		var count int
		if err = rows.Scan(&month, &count); err != nil {
			return nil, s.fail("users_per_month", err)
		}
		counts[month] = count
	}
	if err = rows.Err(); err != nil {
		return nil, s.fail("users_per_month", err)
	}

	points = make([]SeriesPoint, 0, monthsBack)
	for m := firstMonth; m.Before(nextMonth); m = m.AddDate(0, 1, 0) {
		key := m.Format("2006-01")
		points = append(points, SeriesPoint{Date: key, Value: counts[key]})
	}
	return points, nil
}

// EventFillDistribution buckets events with a future date by fill rate
// relative to now.
func (s *Store) EventFillDistribution(ctx context.Context, now time.Time) (dist FillDistribution, err error) {
	start := time.Now()
	defer func() { s.observe("event_fill_distribution", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.capacity, COUNT(r.id) AS registrations
		FROM events e
		LEFT JOIN registrations r ON r.event_id = e.id
		WHERE e.event_date >= $1
		GROUP BY e.id, e.capacity`, now)
	if err != nil {
		return FillDistribution{}, s.fail("event_fill_distribution", err)
	}
	defer rows.Close()

	for rows.Next() {
		var capacity, registrations int
		if err = rows.Scan(&capacity, &registrations); err != nil {
			return FillDistribution{}, s.fail("event_fill_distribution", err)
		}
		switch FillBucket(registrations, capacity) {
		case BucketSoldOut:
			dist.SoldOut++
		case BucketAlmostFull:
			dist.AlmostFull++
		case BucketFillingFast:
			dist.FillingFast++
		default:
			dist.Available++
		}
	}
	if err = rows.Err(); err != nil {
		return FillDistribution{}, s.fail("event_fill_distribution", err)
	}
	return dist, nil
}

// RecentRegistrations returns the n newest registrations with user and event
// context, newest first.
func (s *Store) RecentRegistrations(ctx context.Context, n int) (regs []RecentRegistration, err error) {
	start := time.Now()
	defer func() { s.observe("recent_registrations", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(u.name, '') AS user_name, e.title, r.registered_at
		FROM registrations r
		LEFT JOIN users u ON u.id = r.user_id
		JOIN events e ON e.id = r.event_id
		ORDER BY r.registered_at DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, s.fail("recent_registrations", err)
	}
	defer rows.Close()

	regs = make([]RecentRegistration, 0, n)
	for rows.Next() {
		var r RecentRegistration
		if err = rows.Scan(&r.UserName, &r.EventTitle, &r.RegisteredAt); err != nil {
			return nil, s.fail("recent_registrations", err)
		}
		regs = append(regs, r)
	}
	if err = rows.Err(); err != nil {
		return nil, s.fail("recent_registrations", err)
	}
	return regs, nil
}

// RecentEvents returns the n newest event creations, newest first.
func (s *Store) RecentEvents(ctx context.Context, n int) (events []RecentEvent, err error) {
	start := time.Now()
	defer func() { s.observe("recent_events", start, err) }()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT title, created_at
		FROM events
		ORDER BY created_at DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, s.fail("recent_events", err)
	}
	defer rows.Close()

	events = make([]RecentEvent, 0, n)
	for rows.Next() {
		var e RecentEvent
		if err = rows.Scan(&e.Title, &e.CreatedAt); err != nil {
			return nil, s.fail("recent_events", err)
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, s.fail("recent_events", err)
	}
	return events, nil
}
