// Package events publishes domain events to a RabbitMQ topic exchange.
// Publishing never blocks or fails a request; errors are logged.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "readinglog.events"

// Routing keys.
const (
	LogUpserted    = "log.upserted"
	TagAttached    = "tag.attached"
	TagDetached    = "tag.detached"
	ChapterRenamed = "chapter.renamed"
)

// Event is the JSON envelope written to the exchange.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher is safe for concurrent use. A nil *Publisher accepts every call
// and does nothing, which is how an unset AMQP_URL is handled.
type Publisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex
	ch      channel
	now     func() time.Time
	timeout time.Duration
	pending sync.WaitGroup
}

// Dial connects to the broker and declares the durable topic exchange.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p := newPublisher(ch)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel) *Publisher {
	return &Publisher{ch: ch, now: time.Now, timeout: 5 * time.Second}
}

// Publish writes one persistent JSON message with the given routing key.
func (p *Publisher) Publish(ctx context.Context, key, userID string, data any) error {
	if p == nil {
		return nil
	}
	event := Event{Type: key, UserID: userID, OccurredAt: p.now().UTC(), Data: data}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("publisher closed")
	}
	err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// PublishAsync publishes in the background with its own timeout.
func (p *Publisher) PublishAsync(key, userID string, data any) {
	if p == nil {
		return
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx, key, userID, data); err != nil {
			log.Printf("events: %v", err)
		}
	}()
}

// Flush waits for background publishes started so far.
func (p *Publisher) Flush() {
	if p == nil {
		return
	}
	p.pending.Wait()
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.Flush()
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
		p.ch = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}
