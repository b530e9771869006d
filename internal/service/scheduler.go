package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/errors"
	"emberchat/internal/metrics"
	"emberchat/internal/models"
	"emberchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

const fireTimeout = 30 * time.Second

// Scheduler owns the deferred-send queue: one in-memory job per pending
// scheduled message, keyed by message id. Jobs never outlive the process;
// RecoverOnStartup rebuilds them from the store.
//
// Per-message lifecycle is PENDING -> FIRING -> DELIVERED or CANCELLED and
// never regresses. The atomic flip in the store (MarkSent) is the
// authoritative arbiter of fire/cancel races, not the job registry.
type Scheduler struct {
	store     MessageStore
	deliverer Deliverer
	logger    *logrus.Logger

	grace         time.Duration
	overdueWindow time.Duration

	mu      sync.Mutex
	jobs    map[string]*time.Timer
	stopped bool
}

func NewScheduler(store MessageStore, deliverer Deliverer, cfg models.SchedulerConfig, logger *logrus.Logger) *Scheduler {
	grace := time.Duration(cfg.GraceSec) * time.Second
	if grace <= 0 {
		grace = constants.DefaultScheduleGraceSec * time.Second
	}
	overdue := time.Duration(cfg.OverdueWindowSec) * time.Second
	if overdue <= 0 {
		overdue = constants.DefaultRecoveryOverdueWindowSec * time.Second
	}

	return &Scheduler{
		store:         store,
		deliverer:     deliverer,
		logger:        logger,
		grace:         grace,
		overdueWindow: overdue,
		jobs:          make(map[string]*time.Timer),
	}
}

// Schedule persists msg as pending and arms a job for dueTime. The grace
// window tolerates request-transit latency before a timestamp counts as
// already past. If arming fails the persisted record is rolled back so no
// pending message exists without a live job.
func (s *Scheduler) Schedule(ctx context.Context, msg *models.Message, dueTime time.Time) error {
	if !dueTime.After(time.Now().Add(-s.grace)) {
		return errors.Validation("scheduled time must be in the future")
	}

	due := dueTime
	msg.IsScheduled = true
	msg.IsSent = false
	msg.ScheduledSendTime = &due

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to persist scheduled message")
	}

	if err := s.arm(msg.ID, time.Until(due)); err != nil {
		if delErr := s.store.DeleteMessage(ctx, msg.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("messageId", privacy.MaskMessageID(msg.ID)).
				Error("Failed to roll back unarmed scheduled message")
		}
		return errors.Wrap(err, errors.ErrCodeSchedulingFailed, "failed to arm scheduled send")
	}

	s.logger.WithFields(logrus.Fields{
		"messageId": privacy.MaskMessageID(msg.ID),
		"dueTime":   due,
	}).Info("Message scheduled")
	metrics.IncrementCounter("messages_scheduled", nil, "Messages accepted for deferred send")

	return nil
}

// Cancel drops the live job for a message id if one exists. Idempotent:
// cancelling an already-fired or never-scheduled id is a no-op. Cancellation
// wins the race only if it lands before the fire callback's store re-check.
func (s *Scheduler) Cancel(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.jobs[messageID]; ok {
		timer.Stop()
		delete(s.jobs, messageID)
		s.logger.WithField("messageId", privacy.MaskMessageID(messageID)).Info("Cancelled scheduled send")
	}
}

// RecoverOnStartup rebuilds the job queue from the store. Overdue and
// near-due messages (due within the overdue window) are delivered
// immediately instead of arming near-instant timers; the rest get fresh jobs
// for their remaining delay. Must run once, after the store is up.
func (s *Scheduler) RecoverOnStartup(ctx context.Context) error {
	pending, err := s.store.ListPendingScheduled(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreFailure, "failed to scan pending scheduled messages")
	}

	cutoff := time.Now().Add(s.overdueWindow)
	var delivered, armed int

	for _, msg := range pending {
		if msg.ScheduledSendTime == nil {
			s.logger.WithField("messageId", privacy.MaskMessageID(msg.ID)).
				Warn("Pending scheduled message without due time, skipping")
			continue
		}

		if !msg.ScheduledSendTime.After(cutoff) {
			s.deliverDue(ctx, msg.ID)
			delivered++
			continue
		}

		if err := s.arm(msg.ID, time.Until(*msg.ScheduledSendTime)); err != nil {
			s.logger.WithError(err).WithField("messageId", privacy.MaskMessageID(msg.ID)).
				Error("Failed to re-arm scheduled message")
			continue
		}
		armed++
	}

	s.logger.WithFields(logrus.Fields{
		"pending":   len(pending),
		"delivered": delivered,
		"armed":     armed,
	}).Info("Scheduler recovery completed")
	metrics.SetGauge("scheduler_recovered_jobs", float64(armed), nil, "Jobs re-armed on startup")

	return nil
}

// Stop cancels every live job. New Schedule calls fail afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, timer := range s.jobs {
		timer.Stop()
		delete(s.jobs, id)
	}
}

// PendingJobs reports the number of live jobs.
func (s *Scheduler) PendingJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) arm(messageID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[messageID]; exists {
		return fmt.Errorf("job already armed for message %s", messageID)
	}

	if delay < 0 {
		delay = 0
	}
	s.jobs[messageID] = time.AfterFunc(delay, func() {
		s.fire(messageID)
	})
	return nil
}

// fire runs when a job's due time elapses. Arbitrary delay may have passed
// since the due time; the store re-check absorbs the slack.
func (s *Scheduler) fire(messageID string) {
	s.mu.Lock()
	delete(s.jobs, messageID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	s.deliverDue(ctx, messageID)
}

// deliverDue re-validates against the store before any side effect, then
// flips the message to sent and hands it to the deliverer. Every error is
// logged and contained; one message's failure never reaches other jobs.
func (s *Scheduler) deliverDue(ctx context.Context, messageID string) {
	maskedID := privacy.MaskMessageID(messageID)

	transitioned, err := s.store.MarkSent(ctx, messageID)
	if err != nil {
		s.logger.WithError(err).WithField("messageId", maskedID).Error("Failed to flip scheduled message to sent")
		return
	}
	if !transitioned {
		// Lost the race: already cancelled, redacted, or delivered.
		s.logger.WithField("messageId", maskedID).Debug("Scheduled message no longer pending, skipping delivery")
		return
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		s.logger.WithError(err).WithField("messageId", maskedID).Error("Failed to load scheduled message for delivery")
		return
	}
	if msg == nil {
		s.logger.WithField("messageId", maskedID).Warn("Scheduled message vanished after flip")
		return
	}

	if err := s.deliverer.Deliver(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("messageId", maskedID).Error("Failed to deliver scheduled message")
		return
	}

	metrics.IncrementCounter("scheduled_fired", nil, "Scheduled messages delivered at their due time")
	s.logger.WithField("messageId", maskedID).Info("Delivered scheduled message")
}
