package scheduler

import (
	"context"
	"time"

	"stratexec/internal/logger"
)

// AlignedScheduler runs a task at every interval boundary plus offset,
// measured in UTC. A one-minute interval fires at :00 of each minute, a
// 24h interval with a 1h offset fires at 01:00 UTC every day.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
	log   logger.Component
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
		log:      logger.With("component", "scheduler", "task", name),
	}
}

// Run blocks until ctx is done. Task panics are not recovered.
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		s.log.Warnf("task is nil, exit")
		return nil
	}
	if s.Interval <= 0 {
		s.log.Warnf("invalid interval=%s, exit", s.Interval)
		return nil
	}
	if s.Offset < 0 {
		s.log.Warnf("negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	_, wakeAt, wait := s.nextTimes(startAt)
	s.log.Infof("started interval=%s offset=%s run_immediately=%v first=%s (in %s)",
		s.Interval, s.Offset, s.RunImmediately, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

	if s.RunImmediately {
		task(ctx)
	}

	for {
		_, wakeAt, wait := s.nextTimes(s.nowFn().UTC())
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Infof("ctx done, exit")
				return nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.Debugf("tick at=%s", wakeAt.Format(time.RFC3339))
		task(ctx)
	}
}

// nextTimes returns the next boundary after now, the wake time with the
// offset applied, and how long to wait for it. When the offset pushes the
// wake time of the previous boundary past now, that one is used instead.
func (s *AlignedScheduler) nextTimes(now time.Time) (boundary, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	if !wakeAt.After(now) {
		boundary = boundary.Add(s.Interval)
		wakeAt = boundary.Add(s.Offset)
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}
