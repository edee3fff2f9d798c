package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// Lease is how long a claimed row stays invisible to other dispatchers.
	Lease time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	return c
}

// Dispatcher polls the outbox and delivers due notifications.
type Dispatcher struct {
	repo   Repository
	email  EmailSender
	push   PushSender
	sms    SMSSender
	cfg    DispatcherConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewDispatcher(repo Repository, email EmailSender, push PushSender, sms SMSSender, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		email:  email,
		push:   push,
		sms:    sms,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "notification-dispatcher").Logger(),
		now:    time.Now,
	}
}

// Result summarizes one dispatch pass.
type Result struct {
	Sent     int
	Retrying int
	Failed   int
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", d.cfg.PollInterval).Msg("dispatcher started")
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("dispatch pass failed")
		}
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and attempts delivery of each row.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Result, error) {
	var res Result
	due, err := d.repo.ClaimDue(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return res, err
	}

	for _, n := range due {
		sendErr := d.deliver(ctx, n)
		if sendErr == nil {
			if err := d.repo.MarkSent(ctx, n.ID); err != nil {
				d.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("mark sent failed")
			}
			res.Sent++
			continue
		}

		attempt := n.Attempts + 1
		var retryAt time.Time
		if attempt < d.cfg.MaxAttempts {
			retryAt = d.now().Add(Backoff(attempt))
			res.Retrying++
		} else {
			res.Failed++
		}

		d.logger.Warn().Err(sendErr).
			Str("notification_id", n.ID.String()).
			Str("kind", string(n.Kind)).
			Int("attempt", attempt).
			Bool("final", retryAt.IsZero()).
			Msg("notification delivery failed")

		if err := d.repo.MarkAttemptFailed(ctx, n.ID, sendErr.Error(), retryAt); err != nil {
			d.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("record failed attempt")
		}
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("no email sender configured")
		}
		return d.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelPush:
		if d.push == nil {
			return fmt.Errorf("no push sender configured")
		}
		return d.push.Publish(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		if d.sms == nil {
			return fmt.Errorf("no sms sender configured")
		}
		return d.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported channel: %s", n.Channel)
	}
}

// Backoff returns the delay before retry number attempt: 30s doubling per
// attempt, capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}
