// internal/queue/amqp_queue.go
package queue

import (
	"context"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPQueue is the production queue: durable RabbitMQ queues, persistent
// messages, manual ack.
type AMQPQueue struct {
	conn *amqp.Connection

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

func DialAMQP(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPQueue{conn: conn, pub: ch, declared: make(map[string]bool)}, nil
}

func (q *AMQPQueue) declare(ch *amqp.Channel, topic string) error {
	if q.declared[topic] {
		return nil
	}
	_, err := ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err == nil {
		q.declared[topic] = true
	}
	return err
}

// Publish is safe for concurrent use; the publishing channel is serialized.
func (q *AMQPQueue) Publish(topic string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.declare(q.pub, topic); err != nil {
		return err
	}
	return q.pub.Publish(
		"",    // default exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume opens a dedicated channel for the topic so consumer acks never race
// publishes. The returned channel closes when ctx is done.
func (q *AMQPQueue) Consume(ctx context.Context, topic string) (<-chan Message, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(8, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(
		topic,
		"",    // consumer tag
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- &amqpMessage{d: d}:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pub != nil {
		q.pub.Close()
	}
	return q.conn.Close()
}

type amqpMessage struct {
	d amqp.Delivery
}

func (m *amqpMessage) Body() []byte { return m.d.Body }

func (m *amqpMessage) Ack() {
	_ = m.d.Ack(false)
}

func (m *amqpMessage) Nack(requeue bool) {
	_ = m.d.Nack(false, requeue)
}

var _ Queue = (*AMQPQueue)(nil)
