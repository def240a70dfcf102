// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcpserver

import (
	"sync"
	"time"

	"github.com/orchestra-run/orchestra/internal/config"
)

// RateLimiter implements token bucket rate limiting for MCP tool calls.
// Mutating calls (start_workflow, advance_step, resume_execution) draw
// from a stricter bucket than read-only calls, since those are the ones
// that create, advance or resume executions.
type RateLimiter struct {
	mutationBucket *tokenBucket
	callBucket     *tokenBucket
}

// tokenBucket implements a simple token bucket algorithm
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: maxTokens, maxTokens: maxTokens, refillRate: refillRate, lastRefill: time.Now()}
}

// NewRateLimiter builds a rate limiter from the configured
// requests-per-second/burst pair. The mutation bucket runs at half the
// configured rate and burst (minimum 1), reserving headroom for the
// read-only query operations that make up most of a caller's traffic.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	mutationBurst := cfg.Burst / 2
	if mutationBurst < 1 {
		mutationBurst = 1
	}
	return &RateLimiter{
		mutationBucket: newTokenBucket(float64(mutationBurst), cfg.RequestsPerSecond/2),
		callBucket:     newTokenBucket(float64(cfg.Burst), cfg.RequestsPerSecond),
	}
}

// AllowMutation checks if a state-mutating call (start_workflow,
// advance_step, resume_execution) is allowed.
func (rl *RateLimiter) AllowMutation() bool {
	return rl.mutationBucket.take(1)
}

// AllowCall checks if any tool call is allowed
func (rl *RateLimiter) AllowCall() bool {
	return rl.callBucket.take(1)
}

// take attempts to take n tokens from the bucket
func (tb *tokenBucket) take(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	// Refill tokens based on time elapsed
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	// Check if we have enough tokens
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}
