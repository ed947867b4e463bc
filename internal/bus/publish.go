package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNacked is returned when the broker refuses a publish.
var ErrPublishNacked = errors.New("publish nacked by broker")

// Publisher publishes persistent messages to the fan-out exchange and waits
// for the broker's confirmation before reporting success.
type Publisher struct {
	conn *Conn
	// AMQP channels do not allow concurrent publishes.
	mu sync.Mutex
}

func NewPublisher(conn *Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish sends body to the exchange with the persistent delivery flag and
// blocks until the broker acks it. On any error the message must be treated
// as unpublished; the caller retries or abandons the attempt.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.conn.topo.Exchange,
		"",    // fan-out ignores routing keys
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.conn.topo.Exchange, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}
