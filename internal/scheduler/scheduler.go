package scheduler

import (
	"context"
	"sync"
	"time"

	"eventhub/pulse/internal/analytics"
	"eventhub/pulse/internal/metrics"
	"eventhub/pulse/internal/websocket"
	"eventhub/pulse/pkg/logging"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultDebounce = 1 * time.Second

	buildTimeout = 15 * time.Second
)

// Broadcaster is the hub surface the scheduler needs.
type Broadcaster interface {
	BroadcastToGroup(group, msgType string, data interface{})
}

// BuildFunc produces the current snapshot, normally through the cache.
type BuildFunc func(ctx context.Context) (*analytics.Snapshot, error)

// Scheduler drives the periodic analytics broadcast and reacts to domain
// events with an immediate notice plus one debounced rebuild.
type Scheduler struct {
	logger      logging.Logger
	metrics     *metrics.Metrics
	broadcaster Broadcaster
	build       BuildFunc
	interval    time.Duration
	debounce    time.Duration

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

// New creates a Scheduler. metrics may be nil in tests.
func New(logger logging.Logger, m *metrics.Metrics, broadcaster Broadcaster, build BuildFunc, interval, debounce time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Scheduler{
		logger:      logger,
		metrics:     m,
		broadcaster: broadcaster,
		build:       build,
		interval:    interval,
		debounce:    debounce,
		stop:        make(chan struct{}),
	}
}

// Start runs the broadcast ticker until Stop is called.
func (s *Scheduler) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.buildAndBroadcast()
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.WithField("interval", s.interval).Info("Broadcast scheduler started")
}

// Notify reacts to one domain event: the lightweight notice goes out
// immediately, the expensive rebuild is coalesced across the debounce window.
func (s *Scheduler) Notify(ev analytics.DomainEvent) {
	if msgType, ok := noticeType(ev.Kind); ok {
		s.broadcaster.BroadcastToGroup(websocket.GroupAdmin, msgType, ev.Payload)
	} else {
		s.logger.WithField("kind", ev.Kind).Warn("Unknown domain event kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		// A rebuild is already scheduled; this event rides along with it.
		return
	}
	s.pending = true
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		s.buildAndBroadcast()
	})
}

// Stop halts the ticker and any pending debounce timer.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.pending = false
		}
		s.mu.Unlock()
		s.logger.Info("Broadcast scheduler stopped")
	})
}

func (s *Scheduler) buildAndBroadcast() {
	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.build(ctx)
	if s.metrics != nil {
		s.metrics.SnapshotBuildDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.SnapshotBuilds.WithLabelValues("error").Inc()
		}
		// Subscribers keep their last snapshot until the next tick succeeds.
		s.logger.WithError(err).Error("Snapshot build failed, skipping broadcast")
		return
	}
	if s.metrics != nil {
		s.metrics.SnapshotBuilds.WithLabelValues("success").Inc()
	}

	s.broadcaster.BroadcastToGroup(websocket.GroupAdmin, websocket.TypeAnalyticsUpdate, snap)
}

func noticeType(kind string) (string, bool) {
	switch kind {
	case analytics.EventRegistrationCreated:
		return websocket.TypeNewRegistration, true
	case analytics.EventEventCreated:
		return websocket.TypeNewEvent, true
	case analytics.EventEventUpdated:
		return websocket.TypeEventUpdated, true
	default:
		return "", false
	}
}
