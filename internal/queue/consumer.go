package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Mailer renders and delivers an OTP event. mailer.OTPMailer implements it.
type Mailer interface {
	SendOTP(ctx context.Context, ev OTPRequestedEvent) error
}

// Consumer drains the OTP queue and hands each event to a Mailer.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Mailer   Mailer
	Logger   *zap.Logger
}

// Run connects to RabbitMQ, declares the queue and consumes until ctx is
// cancelled. Connection failures are retried with exponential backoff
// capped at 30s; a failed message is rejected without requeue so one bad
// payload cannot spin the worker.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Logger.Warn("otp-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("otp-consumer: consume loop ended; reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.Logger.Warn("otp-consumer: set QoS failed", zap.Error(err))
	}
	if _, err := declare(ch, c.Queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.Logger.Info("otp-consumer: consuming", zap.String("queue", c.Queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.Logger.Error("otp-consumer: handle message failed",
					zap.String("message_id", d.MessageId), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev OTPRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Email == "" || ev.Code == "" {
		return errors.New("event without recipient or code")
	}
	if exp, err := time.Parse(time.RFC3339, ev.ExpiresAt); err == nil && time.Now().After(exp) {
		// Expired codes are not mailed.
		c.Logger.Info("otp-consumer: dropping expired code",
			zap.String("event_id", ev.EventID), zap.Uint64("user_id", ev.UserID))
		return nil
	}
	if err := c.Mailer.SendOTP(ctx, ev); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.Logger.Info("otp-consumer: mail sent",
		zap.String("event_id", ev.EventID), zap.Uint64("user_id", ev.UserID), zap.String("purpose", ev.Purpose))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
