package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(db, logger), mock
}

func TestFillBucket(t *testing.T) {
	tests := []struct {
		name          string
		registrations int
		capacity      int
		want          string
	}{
		{"empty", 0, 10, BucketAvailable},
		{"under half", 4, 10, BucketAvailable},
		{"exactly half", 5, 10, BucketFillingFast},
		{"exactly eighty percent", 8, 10, BucketAlmostFull},
		{"just under eighty", 79, 100, BucketFillingFast},
		{"full", 10, 10, BucketSoldOut},
		{"overbooked", 12, 10, BucketSoldOut},
		{"zero capacity empty", 0, 0, BucketAvailable},
		{"zero capacity with registrations", 1, 0, BucketSoldOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FillBucket(tt.registrations, tt.capacity))
		})
	}
}

func TestCountEvents(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.CountEvents(context.Background(), CountFilter{})
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRegistrationsWithSince(t *testing.T) {
	store, mock := newTestStore(t)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM registrations WHERE registered_at >= \$1`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountRegistrations(context.Background(), CountFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRegistrationsWithWindow(t *testing.T) {
	store, mock := newTestStore(t)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM registrations WHERE registered_at >= \$1 AND registered_at < \$2`).
		WithArgs(since, until).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountRegistrations(context.Background(), CountFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountFailureWrapsErrUnavailable(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnError(errors.New("connection refused"))

	_, err := store.CountUsers(context.Background(), CountFilter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestAverageEventCapacity(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(AVG\(capacity\), 0\) FROM events`).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(87.5))

	avg, err := store.AverageEventCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 88, avg)
}

func TestTopEventsByRegistrations(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"id", "title", "creator", "registrations", "capacity"}).
		AddRow("ev-1", "Go Conference", "Alice", 120, 150).
		AddRow("ev-2", "DevOps Day", "Bob", 45, 100)
	mock.ExpectQuery(`ORDER BY registrations DESC`).
		WithArgs(5).
		WillReturnRows(rows)

	ranks, err := store.TopEventsByRegistrations(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, "Go Conference", ranks[0].Title)
	assert.Equal(t, 120, ranks[0].Registrations)
	assert.Equal(t, "Bob", ranks[1].Creator)
}

func TestRegistrationsPerDayZeroFills(t *testing.T) {
	store, mock := newTestStore(t)

	end := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -3)

	rows := sqlmock.NewRows([]string{"day", "count"}).
		AddRow("2026-03-03", 4)
	mock.ExpectQuery(`FROM registrations`).
		WillReturnRows(rows)

	points, err := store.RegistrationsPerDay(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, SeriesPoint{Date: "2026-03-02", Value: 0}, points[0])
	assert.Equal(t, SeriesPoint{Date: "2026-03-03", Value: 4}, points[1])
	assert.Equal(t, SeriesPoint{Date: "2026-03-04", Value: 0}, points[2])
}

func TestUsersCreatedPerMonthZeroFills(t *testing.T) {
	store, mock := newTestStore(t)

	ref := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"month", "count"}).
		AddRow("2026-02", 9)
	mock.ExpectQuery(`FROM users`).
		WillReturnRows(rows)

	points, err := store.UsersCreatedPerMonth(context.Background(), 3, ref)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, SeriesPoint{Date: "2026-01", Value: 0}, points[0])
	assert.Equal(t, SeriesPoint{Date: "2026-02", Value: 9}, points[1])
	assert.Equal(t, SeriesPoint{Date: "2026-03", Value: 0}, points[2])
}

func TestEventFillDistribution(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"capacity", "registrations"}).
		AddRow(10, 10).
		AddRow(10, 8).
		AddRow(10, 4)
	mock.ExpectQuery(`FROM events e`).
		WillReturnRows(rows)

	dist, err := store.EventFillDistribution(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, dist.SoldOut)
	assert.Equal(t, 1, dist.AlmostFull)
	assert.Equal(t, 0, dist.FillingFast)
	assert.Equal(t, 1, dist.Available)

	counts := dist.Counts()
	assert.Equal(t, 1, counts[BucketSoldOut])
	assert.Equal(t, 1, counts[BucketAvailable])
}

func TestRecentRegistrations(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_name", "title", "registered_at"}).
		AddRow("Alice", "Go Conference", now).
		AddRow("Bob", "DevOps Day", now.Add(-time.Minute))
	mock.ExpectQuery(`FROM registrations r`).
		WithArgs(10).
		WillReturnRows(rows)

	regs, err := store.RecentRegistrations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, "Alice", regs[0].UserName)
	assert.Equal(t, "DevOps Day", regs[1].EventTitle)
}

func TestRecentEvents(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"title", "created_at"}).
		AddRow("Go Conference", now)
	mock.ExpectQuery(`FROM events`).
		WithArgs(5).
		WillReturnRows(rows)

	events, err := store.RecentEvents(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Go Conference", events[0].Title)
}

func TestCountUpcomingEvents(t *testing.T) {
	store, mock := newTestStore(t)

	ref := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE event_date >= \$1`).
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	count, err := store.CountUpcomingEvents(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}
