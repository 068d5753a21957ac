// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// refreshTarget is the session driven by a scheduler.
type refreshTarget interface {
	// expiry returns the exp claim in seconds since the epoch (0 when
	// unknown) and whether a refresh token is held.
	expiry() (exp int64, canRefresh bool)

	// refreshExpired refreshes the expired tokens and reports success.
	refreshExpired(ctx context.Context) bool

	// exhausted is called once the attempt budget is spent.
	exhausted()
}

// scheduler periodically checks the session's expiry and refreshes expired
// tokens.  The delay before each check is recomputed from the current claims,
// and consecutive failed refreshes are spaced by an exponential backoff.
type scheduler struct {
	target refreshTarget
	clock  clockwork.Clock
	logger hclog.Logger

	budget           int
	minInterval      time.Duration
	maxInterval      time.Duration
	maxRetryInterval time.Duration
	skew             time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func newScheduler(target refreshTarget, opts observerOptions) *scheduler {
	s := &scheduler{
		target:           target,
		clock:            opts.withClock,
		logger:           opts.withLogger.Named("scheduler"),
		budget:           opts.withAttemptBudget,
		minInterval:      opts.withMinInterval,
		maxInterval:      opts.withMaxInterval,
		maxRetryInterval: opts.withMaxRetryInterval,
		skew:             opts.withExpirySkew,
	}
	if s.maxInterval < s.minInterval {
		s.maxInterval = s.minInterval
	}
	if s.maxRetryInterval < s.minInterval {
		s.maxRetryInterval = s.minInterval
	}
	return s
}

// start runs the scheduler until ctx is done or stop is called.  It's a no-op
// while the scheduler is running.
func (s *scheduler) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.done)
}

// isRunning reports whether the scheduler has a pending check.
func (s *scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// stop cancels the pending check and waits for the scheduler to exit.  It
// must not be called by the target from within refreshExpired or exhausted.
func (s *scheduler) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()
	close(stopCh)
	<-done
}

// delay returns the time until exp minus the skew, clamped to the min and
// max intervals.
func (s *scheduler) delay(exp int64) time.Duration {
	if exp <= 0 {
		return s.minInterval
	}
	d := time.Unix(exp, 0).Add(-s.skew).Sub(s.clock.Now())
	switch {
	case d < s.minInterval:
		return s.minInterval
	case d > s.maxInterval:
		return s.maxInterval
	default:
		return d
	}
}

func (s *scheduler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.minInterval
	b.MaxInterval = s.maxRetryInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// release marks the run owning done as finished, so a start from here on
// launches a new run.  It's a no-op once a newer run owns the scheduler.
func (s *scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.running = false
		s.done = nil
	}
}

func (s *scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan struct{}) {
	defer func() {
		s.release(done)
		close(done)
	}()

	attempts := s.budget
	retry := s.newBackOff()
	exp, _ := s.target.expiry()
	next := s.delay(exp)

	for {
		s.logger.Trace("next check scheduled", "in", next)
		timer := s.clock.NewTimer(next)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		exp, canRefresh := s.target.expiry()
		if !canRefresh {
			s.release(done)
			s.logger.Debug("no refresh token, stopping")
			return
		}
		if time.Unix(exp, 0).Add(-s.skew).After(s.clock.Now()) {
			next = s.delay(exp)
			continue
		}

		if s.target.refreshExpired(ctx) {
			attempts = s.budget
			retry.Reset()
			exp, _ = s.target.expiry()
			next = s.delay(exp)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		attempts--
		if attempts <= 0 {
			s.logger.Error("refresh attempts exhausted, clearing session", "attempts", s.budget)
			// sessions committed by exhausted's subscribers need their own run
			s.release(done)
			s.target.exhausted()
			return
		}
		next = retry.NextBackOff()
		s.logger.Warn("refresh failed, retrying", "remaining_attempts", attempts, "in", next)
	}
}
