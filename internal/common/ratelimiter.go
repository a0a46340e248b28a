package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("rate limiter is not allowing the request")

// Back-off used after a rate limit status when no restriction is configured
const defaultBackoff = 30 * time.Second

type Analysis struct {
	allowed bool          // If the request is allowed
	wait    time.Duration // The minimal time to wait before the request is allowed
}

type RateLimiter struct {
	mu                   sync.Mutex
	restrictions         []Restriction          // Restrictions to consider
	history              []time.Time            // History of requests
	duration             time.Duration          // Min duration to wait for all restrictions to be lifted
	pendingVitalRequests map[uuid.UUID]struct{} // Set of pending vital requests
	stopwatch            Stopwatch              // Back-off after the server reported a rate limit
}

func NewRateLimiter(restrictions []Restriction) *RateLimiter {
	rl := &RateLimiter{}
	// Restrictions are just a copy of the provided ones
	rl.restrictions = make([]Restriction, len(restrictions))
	copy(rl.restrictions, restrictions)
	// Duration
	for _, restriction := range restrictions {
		if restriction.Duration > rl.duration {
			rl.duration = restriction.Duration
		}
	}
	rl.pendingVitalRequests = make(map[uuid.UUID]struct{})
	// Initialise a stopwatch
	rl.stopwatch = NewStopwatch(max(rl.duration, defaultBackoff))

	return rl
}

// Decide if request is allowed.
// If the request is not allowed but vital, execution
// will block here until it is allowed or the context is done
func (rl *RateLimiter) Allowed(ctx context.Context, vital bool) error {

	// Give this request a unique identifier
	thisuuid := uuid.New()
	defer func() {
		rl.mu.Lock()
		delete(rl.pendingVitalRequests, thisuuid)
		rl.mu.Unlock()
	}()

	for {
		rl.mu.Lock()
		// Trim history first
		now := time.Now()
		rl.trim(now)
		// Check if the restrictions allow this request
		analysis := rl.analyse(now)
		if analysis.allowed {
			if vital || len(rl.pendingVitalRequests) == 0 {
				// Include this request in the history as it is allowed
				rl.history = append(rl.history, now)
				rl.mu.Unlock()
				return nil
			}
			// Request is not vital and the queue is not empty,
			// so we have to reject the request
			rl.mu.Unlock()
			log.Warn().Msg("Rejecting non vital request because restrictions allow it but vital queue is not empty")
			return ErrRateLimited
		} else if !vital {
			rl.mu.Unlock()
			log.Warn().Msg("Rejecting a non vital request because restrictions do not allow it")
			return ErrRateLimited
		}

		// Request is vital and not allowed, so we need
		// to add it to the queue if not there and wait
		rl.pendingVitalRequests[thisuuid] = struct{}{}
		rl.mu.Unlock()
		log.Warn().Msg(fmt.Sprintf("Vital request %s delayed %.2f seconds", thisuuid, analysis.wait.Seconds()))

		wait := analysis.wait
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Called when the server answered with a rate limit status.
// No request is allowed until the longest restriction has passed
func (rl *RateLimiter) ReceivedRateLimit() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.stopwatch.Start()
}

// Trim the current history, leaving only the requests
// that are young enough to be affected by at least one restriction
func (rl *RateLimiter) trim(currentTime time.Time) {
	// Find the index from which we need to keep the history.
	// Start searching at the end of the slice.
	// I assume times are stored in chronological order
	index := 0
	for i := len(rl.history) - 1; i >= 0; i-- {
		if currentTime.Sub(rl.history[i]) > rl.duration {
			index = i + 1
			break
		}
	}
	rl.history = rl.history[index:]
}

func (rl *RateLimiter) analyse(currentTime time.Time) Analysis {

	// A rate limit received from the server overrides everything
	if rl.stopwatch.Running {
		if stopped, elapsed := rl.stopwatch.Stopped(); !stopped {
			return Analysis{allowed: false, wait: -elapsed}
		}
	}

	// Merge the analyses of each restriction and return
	var wait time.Duration = 0
	allowed := true
	for _, restriction := range rl.restrictions {
		analysis := restriction.Analyse(rl.history, currentTime)
		allowed = allowed && analysis.allowed
		if analysis.wait > wait {
			wait = analysis.wait
		}
	}
	return Analysis{allowed, wait}
}
