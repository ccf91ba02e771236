package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purposes group endpoints that share a counter.
const (
	PurposeRegister           = "register"
	PurposeLogin              = "login"
	PurposeRefresh            = "refresh"
	PurposeForgotPassword     = "forgot_password"
	PurposeResetPassword      = "reset_password"
	PurposeResendVerification = "resend_verification"
	PurposeCheckout           = "checkout"
)

// Policy is a fixed window: at most Limit requests per Window
type Policy struct {
	Limit  int
	Window time.Duration
}

// Limiter counts requests per client IP and purpose in Redis
type Limiter struct {
	client   redis.Cmdable
	policies map[string]Policy
	fallback Policy
}

// NewLimiter creates a Limiter. Purposes without a policy use fallback.
func NewLimiter(client redis.Cmdable, policies map[string]Policy, fallback Policy) *Limiter {
	return &Limiter{client: client, policies: policies, fallback: fallback}
}

// DefaultPolicies applies the auth policy to credential endpoints and the
// sensitive policy to endpoints that send email or change passwords.
func DefaultPolicies(auth, sensitive Policy) map[string]Policy {
	return map[string]Policy{
		PurposeRegister:           auth,
		PurposeLogin:              auth,
		PurposeRefresh:            auth,
		PurposeForgotPassword:     sensitive,
		PurposeResetPassword:      sensitive,
		PurposeResendVerification: sensitive,
		PurposeCheckout:           sensitive,
	}
}

func ipKey(purpose, ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func (l *Limiter) policy(purpose string) Policy {
	if p, ok := l.policies[purpose]; ok {
		return p
	}
	return l.fallback
}

// CheckIPRateLimitWithPurpose reports whether ip has used up its window for purpose
func (l *Limiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	p := l.policy(purpose)
	if p.Limit <= 0 {
		return false, nil
	}

	count, err := l.client.Get(ctx, ipKey(purpose, ip)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	return count >= p.Limit, nil
}

// RecordIPRequestWithPurpose counts one request. The window starts with the
// first request and the counter disappears when it ends.
func (l *Limiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	p := l.policy(purpose)
	if p.Limit <= 0 {
		return nil
	}

	key := ipKey(purpose, ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, p.Window).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return nil
}
