package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/glindsay/resume-assistant/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
)

const (
	backoffMultiplier = 1.5
	cancelTimeout     = 5 * time.Second
)

// isPending reports whether a run may still change state on its own.
func isPending(status openai.RunStatus) bool {
	switch status {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return true
	}
	return false
}

// awaitRun polls run until it leaves the pending states, backing off between checks.
// When the deadline passes first, the run is cancelled best-effort and ErrRunTimeout is returned.
func (s *Service) awaitRun(ctx context.Context, run openai.Run) (openai.Run, error) {
	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	interval := s.cfg.PollInterval
	attempts := 0
	defer func() {
		metrics.RunPollAttempts.Observe(float64(attempts))
		metrics.RunPollDuration.Observe(time.Since(start).Seconds())
	}()

	for isPending(run.Status) {
		timer := time.NewTimer(interval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return run, s.pollStopped(ctx, run)
		case <-timer.C:
		}

		attempts++
		next, err := s.remote.RetrieveRun(pollCtx, run.ThreadID, run.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return run, s.pollStopped(ctx, run)
			}
			s.logger.Warn("failed to check run status, retrying",
				"thread_id", run.ThreadID, "run_id", run.ID, "attempt", attempts, "error", err)
		} else {
			next.ThreadID = run.ThreadID
			run = next
		}

		interval = time.Duration(float64(interval) * backoffMultiplier)
		if interval > s.cfg.MaxPollInterval {
			interval = s.cfg.MaxPollInterval
		}
	}

	return run, nil
}

// pollStopped distinguishes a caller cancellation from the polling deadline.
func (s *Service) pollStopped(ctx context.Context, run openai.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	metrics.RunOutcomes.WithLabelValues("timeout").Inc()
	s.logger.Warn("run did not finish before deadline, cancelling",
		"thread_id", run.ThreadID, "run_id", run.ID, "status", run.Status, "timeout", s.cfg.RunTimeout)

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if _, err := s.remote.CancelRun(cancelCtx, run.ThreadID, run.ID); err != nil {
		s.logger.Warn("failed to cancel run", "thread_id", run.ThreadID, "run_id", run.ID, "error", err)
	}

	return fmt.Errorf("%w: run %s still %s after %s", ErrRunTimeout, run.ID, run.Status, s.cfg.RunTimeout)
}
