package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/example/hanzibot/pkg/models"
)

// Default notification window, inclusive, in UTC hours
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Notifier interface for sending notifications
type Notifier interface {
	SendReminder(ctx context.Context, user models.User, count int) error
}

// UserSource lists the users that want a reminder at a given hour
type UserSource interface {
	GetUsersForNotification(ctx context.Context, hour int) ([]models.User, error)
}

// DueCounter counts the items a user has due
type DueCounter interface {
	CountDue(ctx context.Context, userID int64, now time.Time) (int, error)
}

// Options configures the reminder job
type Options struct {
	StartHour int
	EndHour   int
	// Reminders sent in parallel
	Concurrency int
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	notifier  Notifier
	users     UserSource
	due       DueCounter
	opts      Options
	logger    *log.Logger
	now       func() time.Time
}

// New creates a new scheduler instance
func New(notifier Notifier, users UserSource, due DueCounter, logger *log.Logger, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		notifier:  notifier,
		users:     users,
		due:       due,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the reminder check at the top of every hour
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron("0 * * * *").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.CheckAndSendReminders(ctx); err != nil {
			s.logger.Error("reminder check failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reminders: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("reminder scheduler started", "window", fmt.Sprintf("%02d-%02d UTC", s.opts.StartHour, s.opts.EndHour))
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// CheckAndSendReminders notifies every user whose reminder hour is now and who
// has items due. It returns the number of reminders sent. A failure for one
// user is logged and does not stop the others.
func (s *Scheduler) CheckAndSendReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	hour := now.Hour()
	if hour < s.opts.StartHour || hour > s.opts.EndHour {
		s.logger.Debug("outside notification hours, skipping reminders",
			"hour", hour, "start", s.opts.StartHour, "end", s.opts.EndHour)
		return 0, nil
	}

	users, err := s.users.GetUsersForNotification(ctx, hour)
	if err != nil {
		return 0, fmt.Errorf("failed to get users for notification: %w", err)
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, user := range users {
		g.Go(func() error {
			ok, err := s.remind(gctx, user, now)
			if err != nil {
				s.logger.Warn("failed to remind user", "user", user.ID, "err", err)
				return nil
			}
			if ok {
				sent.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}
	s.logger.Info("reminders sent", "hour", hour, "users", len(users), "sent", sent.Load())
	return int(sent.Load()), nil
}

// RunManualCheck sends a reminder to one user if anything is due
func (s *Scheduler) RunManualCheck(ctx context.Context, user models.User) (bool, error) {
	return s.remind(ctx, user, s.now().UTC())
}

func (s *Scheduler) remind(ctx context.Context, user models.User, now time.Time) (bool, error) {
	count, err := s.due.CountDue(ctx, user.ID, now)
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	// Don't announce more than the user's daily preference
	if user.DailyLimit > 0 && count > user.DailyLimit {
		count = user.DailyLimit
	}
	if err := s.notifier.SendReminder(ctx, user, count); err != nil {
		return false, err
	}
	return true, nil
}
