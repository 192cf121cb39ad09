package store

import "time"

// Fill-rate buckets for upcoming events.
const (
	BucketAvailable   = "available"
	BucketFillingFast = "filling_fast"
	BucketAlmostFull  = "almost_full"
	BucketSoldOut     = "sold_out"
)

// CountFilter bounds a count query on the entity's time column. Nil bounds
// are omitted from the query.
type CountFilter struct {
	Since *time.Time
	Until *time.Time
}

// SeriesPoint is one unit of a zero-filled time series.
type SeriesPoint struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

// EventRank is one entry of a top-N ranking by registration count.
type EventRank struct {
	EventID       string `json:"event_id"`
	Title         string `json:"title"`
	Creator       string `json:"creator"`
	Registrations int    `json:"registrations"`
	Capacity      int    `json:"capacity"`
}

// FillDistribution buckets upcoming events by fill rate.
type FillDistribution struct {
	Available   int `json:"available"`
	FillingFast int `json:"filling_fast"`
	AlmostFull  int `json:"almost_full"`
	SoldOut     int `json:"sold_out"`
}

// Counts returns the distribution as a bucket-name map for snapshot payloads.
func (d FillDistribution) Counts() map[string]int {
	return map[string]int{
		BucketAvailable:   d.Available,
		BucketFillingFast: d.FillingFast,
		BucketAlmostFull:  d.AlmostFull,
		BucketSoldOut:     d.SoldOut,
	}
}

// RecentRegistration is a registration row for the activity feed.
type RecentRegistration struct {
	UserName     string
	EventTitle   string
	RegisteredAt time.Time
}

// RecentEvent is an event-creation row for the activity feed.
type RecentEvent struct {
	Title     string
	CreatedAt time.Time
}

// FillBucket classifies one event by fill rate. Boundaries are inclusive on
// the fuller bucket: exactly 80% is almost_full, exactly 100% is sold_out.
func FillBucket(registrations, capacity int) string {
	if capacity <= 0 {
		if registrations > 0 {
			return BucketSoldOut
		}
		return BucketAvailable
	}
	rate := float64(registrations) / float64(capacity) * 100
	switch {
	case rate >= 100:
		return BucketSoldOut
	case rate >= 80:
		return BucketAlmostFull
	case rate >= 50:
		return BucketFillingFast
	default:
		return BucketAvailable
	}
}
