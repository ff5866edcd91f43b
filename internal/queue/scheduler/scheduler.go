package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aridsondez/tagqueue/internal/metrics"
)

// Source finds tags whose scheduled messages became visible.
type Source interface {
	DueTags(ctx context.Context, since, until time.Time) ([]string, error)
}

// Publisher wakes the listeners of a tag.
type Publisher interface {
	Publish(ctx context.Context, tag string) error
}

// Scheduler periodically publishes on tags whose scheduled messages became
// visible since the previous run, so listeners do not have to wait for
// their safety poll.
type Scheduler struct {
	src      Source
	pub      Publisher
	interval time.Duration
	stopCh   chan struct{}
	last     time.Time
	now      func() time.Time
	log      *slog.Logger
}

func New(src Source, pub Publisher, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		src:      src,
		pub:      pub,
		interval: interval,
		stopCh:   make(chan struct{}),
		now:      time.Now,
		log:      log.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "scheduler stopped (context cancelled)")
			return

		case <-s.stopCh:
			s.log.InfoContext(ctx, "scheduler stopped (stop signal)")
			return

		case <-ticker.C:
			count, err := s.RunOnce(ctx)
			if err != nil {
				s.log.ErrorContext(ctx, "scheduler run failed", "error", err)
			} else if count > 0 {
				s.log.DebugContext(ctx, "scheduler woke tags", "count", count)
			}
		}
	}
}

// RunOnce publishes on every tag with a schedule in (last run, now] and
// returns how many tags were woken. The first run looks back one interval.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SchedulerDuration.Observe(time.Since(start).Seconds())
	}()

	until := s.now()
	since := s.last
	if since.IsZero() {
		since = until.Add(-s.interval)
	}

	tags, err := s.src.DueTags(ctx, since, until)
	if err != nil {
		metrics.SchedulerErrors.Inc()
		return 0, err
	}

	woken := 0
	for _, tag := range tags {
		if err := s.pub.Publish(ctx, tag); err != nil {
			metrics.SchedulerErrors.Inc()
			s.log.WarnContext(ctx, "publish failed", "tag", tag, "error", err)
			continue
		}
		woken++
	}
	metrics.SchedulerNotified.Add(float64(woken))
	s.last = until
	return woken, nil
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}
