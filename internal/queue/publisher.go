package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher hands OTP events to RabbitMQ. Each publish opens its own
// connection and channel, so a broker outage never leaves broken state
// behind and the API needs no reconnect logic.
type Publisher struct {
	URL    string
	Queue  string
	Logger *zap.Logger
}

func NewPublisher(url, queue string, log *zap.Logger) *Publisher {
	return &Publisher{URL: url, Queue: queue, Logger: log}
}

// PublishOTP publishes ev as a persistent message on the configured queue.
// Errors are logged and returned so the caller can decide to ignore them.
func (p *Publisher) PublishOTP(ctx context.Context, ev OTPRequestedEvent) error {
	log := p.Logger.With(zap.String("queue", p.Queue), zap.String("event_id", ev.EventID))

	conn, err := amqp.DialConfig(p.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout(ctx)),
	})
	if err != nil {
		log.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := declare(ch, p.Queue); err != nil {
		log.Warn("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    time.Now().UTC(),
		Type:         "otp.requested",
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		log.Warn("rabbitmq publish failed", zap.Error(err))
		return err
	}
	log.Debug("otp event published", zap.String("purpose", ev.Purpose))
	return nil
}

func declare(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
}

// dialTimeout derives the TCP dial budget from the context deadline.
func dialTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return 5 * time.Second
}

// LogPublisher writes OTP events to the log instead of a broker. It is
// meant for local development without RabbitMQ: the code is logged at
// debug level so a developer can complete the flow.
type LogPublisher struct{ Logger *zap.Logger }

func (p LogPublisher) PublishOTP(_ context.Context, ev OTPRequestedEvent) error {
	p.Logger.Debug("otp event (log delivery)",
		zap.String("event_id", ev.EventID),
		zap.Uint64("user_id", ev.UserID),
		zap.String("email", ev.Email),
		zap.String("purpose", ev.Purpose),
		zap.String("code", ev.Code),
		zap.String("expires_at", ev.ExpiresAt))
	return nil
}
