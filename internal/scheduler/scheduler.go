package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Refresher reloads the device cache.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Expirer drops sessions created before a cutoff.
type Expirer interface {
	Expire(cutoff time.Time) int
}

// Scheduler periodically refreshes cached device datasets and expires idle
// sessions.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration

	sessions   Expirer
	sessionTTL time.Duration
}

// New creates a new Scheduler. timeout bounds a single refresh run.
func New(interval, timeout time.Duration, refresher Refresher) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Scheduler{
		scheduler: s,
		refresher: refresher,
		interval:  interval,
		timeout:   timeout,
	}
}

// ExpireSessions makes Start also drop sessions older than ttl.
func (s *Scheduler) ExpireSessions(sessions Expirer, ttl time.Duration) {
	s.sessions = sessions
	s.sessionTTL = ttl
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	jobs := 0

	if s.interval > 0 {
		if _, err := s.scheduler.Every(seconds(s.interval)).Seconds().WaitForSchedule().Do(s.run); err != nil {
			return err
		}
		jobs++
	} else {
		log.Println("scheduler: refresh interval is 0; background refresh disabled")
	}

	if s.sessions != nil && s.sessionTTL > 0 {
		// Check a few times per TTL, at most once a minute.
		every := s.sessionTTL / 4
		if every < time.Minute {
			every = time.Minute
		}
		if _, err := s.scheduler.Every(seconds(every)).Seconds().WaitForSchedule().Do(s.expire); err != nil {
			return err
		}
		jobs++
	}

	if jobs == 0 {
		return nil
	}
	s.scheduler.StartAsync()
	return nil
}

func seconds(d time.Duration) int {
	n := int(d.Seconds())
	if n <= 0 {
		return 1
	}
	return n
}

func (s *Scheduler) expire() {
	if n := s.sessions.Expire(time.Now().UTC().Add(-s.sessionTTL)); n > 0 {
		log.Printf("scheduler: expired %d sessions", n)
	}
}

func (s *Scheduler) run() {
	log.Println("scheduler: refreshing device cache")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.refresher.RefreshAll(ctx); err != nil {
		log.Printf("ERROR: scheduler: refresh failed: %v", err)
		return
	}
	log.Println("scheduler: device cache refreshed")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
