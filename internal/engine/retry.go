package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior for LLM calls.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, fraction of delay to randomize
}

// DefaultRetryPolicy returns sensible defaults for LLM calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

// delayFor computes the backoff delay for the given attempt (0-based).
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLLMCall invokes fn with retries according to the policy.
// Retryable errors are retried up to MaxRetries times; "maybe" class
// errors get a single retry. Rate-limit hints override the backoff.
func RetryLLMCall(ctx context.Context, policy RetryPolicy, onAttempt func(attempt, maxAttempts int, delay time.Duration, err error), fn func(ctx context.Context) (LLMResponse, error)) (LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		class := ClassifyLLMError(err)
		switch class {
		case RetryClassNonRetryable:
			return LLMResponse{}, err
		case RetryClassMaybe:
			if attempt >= 1 {
				return LLMResponse{}, &RetryExhaustedError{Err: err, Attempts: attempt + 1, MaxAttempts: policy.MaxRetries}
			}
		}

		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.delayFor(attempt)
		if hint := ExtractRetryAfter(err); hint > 0 {
			delay = hint
		}
		if onAttempt != nil {
			onAttempt(attempt+1, policy.MaxRetries, delay, err)
		}

		select {
		case <-ctx.Done():
			return LLMResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return LLMResponse{}, &RetryExhaustedError{Err: lastErr, Attempts: policy.MaxRetries + 1, MaxAttempts: policy.MaxRetries}
}
