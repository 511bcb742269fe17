package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Operation identifies a metered provider operation class. Gmail meters
// read, metadata and send quotas separately, so each gets its own bucket.
type Operation string

const (
	// OpGmailRead covers full message fetches.
	OpGmailRead Operation = "gmail_read"
	// OpGmailMetadata covers message listing and metadata fetches.
	OpGmailMetadata Operation = "gmail_metadata"
	// OpGmailSend covers message sends.
	OpGmailSend Operation = "gmail_send"
	// OpCalendarRead covers calendar event listing.
	OpCalendarRead Operation = "calendar_read"
)

// DenialReason explains why an admission check was rejected.
type DenialReason string

const (
	// ReasonCircuitOpen means the circuit breaker is rejecting all requests.
	ReasonCircuitOpen DenialReason = "circuit_open"
	// ReasonBackoff means the key is inside its failure backoff window.
	ReasonBackoff DenialReason = "backoff"
	// ReasonQuota means the token bucket has insufficient tokens.
	ReasonQuota DenialReason = "quota"
)

// DeniedError is returned when an admission check fails. Wait hints how long
// the caller should wait before trying again.
type DeniedError struct {
	Reason DenialReason
	Wait   time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rate limit denied (%s), retry in %s", e.Reason, e.Wait)
}

// BucketConfig holds token bucket settings for one operation.
type BucketConfig struct {
	Capacity        int
	RefillPerSecond float64
}

// Config holds all limiter tuning knobs.
type Config struct {
	Buckets map[Operation]BucketConfig

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	// BackoffJitter is the fraction of the base backoff added as random jitter.
	BackoffJitter float64
	// RateLimitedFactor scales backoff for quota/429 failures.
	RateLimitedFactor float64
	// PermissionFactor scales backoff for 403 failures. Permission problems
	// rarely self-resolve, so this is the largest factor.
	PermissionFactor float64

	BreakerThreshold int
	BreakerCooldown  time.Duration

	// ShortWait is the longest denial wait Do will sleep through before
	// giving up.
	ShortWait time.Duration

	SweepInterval time.Duration
	StaleAfter    time.Duration

	// DenialCounter, when set, counts admission denials with operation and
	// reason labels.
	DenialCounter *prometheus.CounterVec
}

// DefaultConfig returns conservative limiter settings.
func DefaultConfig() Config {
	return Config{
		Buckets: map[Operation]BucketConfig{
			OpGmailRead:     {Capacity: 25, RefillPerSecond: 5},
			OpGmailMetadata: {Capacity: 50, RefillPerSecond: 10},
			OpGmailSend:     {Capacity: 5, RefillPerSecond: 0.5},
			OpCalendarRead:  {Capacity: 25, RefillPerSecond: 5},
		},
		BackoffInitial:    time.Second,
		BackoffMax:        5 * time.Minute,
		BackoffMultiplier: 2,
		BackoffJitter:     0.2,
		RateLimitedFactor: 2,
		PermissionFactor:  4,
		BreakerThreshold:  5,
		BreakerCooldown:   2 * time.Minute,
		ShortWait:         time.Minute,
		SweepInterval:     time.Hour,
		StaleAfter:        24 * time.Hour,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// entry holds the per-(user, operation) limiter state.
type entry struct {
	bucket       *rate.Limiter
	failures     int
	backoff      time.Duration
	backoffUntil time.Time
	breaker      breakerState
	openedAt     time.Time
	lastUsed     time.Time
}

// Limiter gates outbound provider calls per (user, operation). Admission
// order is circuit breaker, then backoff window, then token bucket; tokens
// are consumed only when all three pass, and the whole check runs under one
// lock so check-and-consume is atomic.
//
// State is in-process only. Horizontally scaled deployments each hold
// independent buckets; porting to a shared store must preserve the admission
// order and the atomic check-and-consume.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewLimiter creates a limiter and starts its stale-entry sweeper.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}

func key(userID string, op Operation) string {
	return userID + "/" + string(op)
}

// entryFor returns the state for a key, creating it on first use.
// Caller must hold l.mu.
func (l *Limiter) entryFor(userID string, op Operation) *entry {
	k := key(userID, op)
	e, ok := l.entries[k]
	if !ok {
		bc, found := l.cfg.Buckets[op]
		if !found {
			bc = BucketConfig{Capacity: 10, RefillPerSecond: 5}
		}
		e = &entry{
			bucket: rate.NewLimiter(rate.Limit(bc.RefillPerSecond), bc.Capacity),
		}
		l.entries[k] = e
	}
	return e
}

// CheckAndConsume runs the admission check for a call of the given cost and
// consumes tokens on success. On denial it returns a *DeniedError with a
// wait hint and leaves the bucket untouched.
func (l *Limiter) CheckAndConsume(userID string, op Operation, cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.entryFor(userID, op)
	e.lastUsed = now

	// Circuit breaker first: an open breaker rejects everything until the
	// cooldown elapses, then admits a single half-open trial.
	switch e.breaker {
	case breakerOpen:
		wait := e.openedAt.Add(l.cfg.BreakerCooldown).Sub(now)
		if wait > 0 {
			return l.deny(op, ReasonCircuitOpen, wait)
		}
		e.breaker = breakerHalfOpen
	case breakerHalfOpen:
		// Trial request already admitted and not yet resolved.
		return l.deny(op, ReasonCircuitOpen, l.cfg.BreakerCooldown)
	}

	// Then the failure backoff window.
	if wait := e.backoffUntil.Sub(now); wait > 0 {
		return l.deny(op, ReasonBackoff, wait)
	}

	// Token bucket last; consume only on full admission.
	if !e.bucket.AllowN(now, cost) {
		res := e.bucket.ReserveN(now, cost)
		if !res.OK() {
			// Cost exceeds bucket capacity; it can never be admitted.
			return l.deny(op, ReasonQuota, l.cfg.BackoffMax)
		}
		wait := res.DelayFrom(now)
		res.CancelAt(now)
		return l.deny(op, ReasonQuota, wait)
	}

	return nil
}

// deny counts the denial and builds the error. Caller must hold l.mu.
func (l *Limiter) deny(op Operation, reason DenialReason, wait time.Duration) *DeniedError {
	if l.cfg.DenialCounter != nil {
		l.cfg.DenialCounter.WithLabelValues(string(op), string(reason)).Inc()
	}
	return &DeniedError{Reason: reason, Wait: wait}
}

// RecordSuccess resets failure state for a key and closes its breaker.
func (l *Limiter) RecordSuccess(userID string, op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryFor(userID, op)
	e.lastUsed = l.now()
	e.failures = 0
	e.backoff = 0
	e.backoffUntil = time.Time{}
	if e.breaker != breakerClosed {
		logrus.WithFields(logrus.Fields{"user_id": userID, "operation": op}).
			Info("Circuit breaker closed after successful request")
		e.breaker = breakerClosed
	}
}

// RecordFailure escalates the backoff window for a key and opens the
// breaker once consecutive failures reach the threshold. A failed half-open
// trial reopens the breaker through the same path.
func (l *Limiter) RecordFailure(userID string, op Operation, class FailureClass) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.entryFor(userID, op)
	e.lastUsed = now
	e.failures++

	base := float64(l.cfg.BackoffInitial) * math.Pow(l.cfg.BackoffMultiplier, float64(e.failures-1))
	base = math.Min(base, float64(l.cfg.BackoffMax))
	jitter := rand.Float64() * l.cfg.BackoffJitter * base

	factor := 1.0
	switch class {
	case ClassRateLimited:
		factor = l.cfg.RateLimitedFactor
	case ClassPermission:
		factor = l.cfg.PermissionFactor
	}

	e.backoff = time.Duration((base + jitter) * factor)
	e.backoffUntil = now.Add(e.backoff)

	if e.failures >= l.cfg.BreakerThreshold {
		if e.breaker != breakerOpen {
			logrus.WithFields(logrus.Fields{
				"user_id":   userID,
				"operation": op,
				"failures":  e.failures,
			}).Warn("Circuit breaker opened")
		}
		e.breaker = breakerOpen
		e.openedAt = now
	}
}

// Do wraps a provider call with the full admission/record cycle. A denial
// with a short wait is slept through and rechecked once; a long wait or a
// second denial surfaces the DeniedError. The call's own error is returned
// unchanged after the failure is recorded.
func (l *Limiter) Do(ctx context.Context, userID string, op Operation, cost int, fn func() error) error {
	if err := l.CheckAndConsume(userID, op, cost); err != nil {
		var denied *DeniedError
		if !errors.As(err, &denied) || denied.Wait > l.cfg.ShortWait {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(denied.Wait):
		}

		if err := l.CheckAndConsume(userID, op, cost); err != nil {
			return err
		}
	}

	if err := fn(); err != nil {
		l.RecordFailure(userID, op, Classify(err))
		return err
	}

	l.RecordSuccess(userID, op)
	return nil
}

// Tokens reports the current bucket level for a key.
func (l *Limiter) Tokens(userID string, op Operation) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryFor(userID, op).bucket.TokensAt(l.now())
}

// sweepLoop drops keys that have been idle longer than StaleAfter.
func (l *Limiter) sweepLoop() {
	defer close(l.done)

	interval := l.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.StaleAfter)
	for k, e := range l.entries {
		if e.lastUsed.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}
