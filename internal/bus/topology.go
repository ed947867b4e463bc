package bus

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology describes the broker layout a service needs: one durable fan-out
// exchange that every bound queue receives copies from, and optionally a
// durable consumer-group queue plus its dead-letter queue.
type Topology struct {
	Exchange string
	// Queue is empty on the publisher side.
	Queue string
}

// DeadLetterQueue names the destination for malformed messages.
func (t Topology) DeadLetterQueue() string {
	return t.Queue + ".dead-letter"
}

// Declare provisions the topology. Every declaration is declare-if-absent, so
// reconnects and concurrent services can all run it safely.
func (t Topology) Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		t.Exchange,
		"fanout",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}

	if t.Queue == "" {
		return nil
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, "", t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.Queue, err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue(), err)
	}
	return nil
}
