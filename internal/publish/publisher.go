// Package publish performs the single side-effecting post call: rate
// limited, retried on transient failures with the shared backoff policy,
// never retried on permanent rejection.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/internal/ratelimit"
	"github.com/AetherSilva/G3r4kiHub/internal/retry"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

type Publisher struct {
	channel ports.Channel
	limiter *ratelimit.Limiter
	policy  retry.Policy
	log     logx.Logger
}

func New(channel ports.Channel, limiter *ratelimit.Limiter, policy retry.Policy, log logx.Logger) *Publisher {
	return &Publisher{channel: channel, limiter: limiter, policy: policy, log: log}
}

// Publish posts the payload and returns the channel-assigned handle plus
// the number of attempts made (so callers can note degraded items that
// still succeeded). Error classes:
//   - domain.ErrRateLimited: local budget exhausted, nothing was sent
//   - domain.ErrPermanentPublish: rejected, surfaced immediately, no retry
//   - domain.ErrUpstreamUnavailable: transient failures exhausted the budget
func (p *Publisher) Publish(ctx context.Context, payload domain.Payload) (domain.MessageHandle, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.MessageHandle{}, 0, err
	}

	var handle domain.MessageHandle
	attempts, err := p.policy.Attempts(ctx, func(ctx context.Context) error {
		h, perr := p.channel.Post(ctx, payload)
		if perr != nil {
			return perr
		}
		handle = h
		return nil
	}, retryablePublish)

	if err == nil {
		if attempts > 1 {
			p.log.Warn("publish succeeded after retries", logx.Int("attempts", attempts))
		}
		return handle, attempts, nil
	}

	if errors.Is(err, domain.ErrPermanentPublish) {
		// Full payload goes to the log for manual inspection; this item is
		// skipped and never marked published.
		p.log.Error("permanent publish failure",
			logx.Err(err),
			logx.String("text", payload.Text),
			logx.String("button_url", payload.ButtonURL),
			logx.String("image_url", payload.ImageURL))
		return domain.MessageHandle{}, attempts, err
	}
	if errors.Is(err, context.Canceled) {
		return domain.MessageHandle{}, attempts, err
	}
	return domain.MessageHandle{}, attempts, fmt.Errorf("publish: %w: %v", domain.ErrUpstreamUnavailable, err)
}

func retryablePublish(err error) bool {
	if errors.Is(err, domain.ErrPermanentPublish) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	// Provider flood-waits are transient here; the shared policy's growing
	// delay doubles as the longer backoff.
	return true
}
