// internal/queue/mem_queue.go
package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemQueue mirrors the AMQP contract in memory, for tests and single-process
// dev runs. It does not survive restarts; restart recovery re-derives jobs
// from the recipient store anyway.
type MemQueue struct {
	mu     sync.Mutex
	topics map[string]chan Message
}

func NewMemQueue() *MemQueue {
	return &MemQueue{topics: make(map[string]chan Message)}
}

func (q *MemQueue) topic(name string) chan Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan Message, 1024)
		q.topics[name] = ch
	}
	return ch
}

func (q *MemQueue) Publish(topic string, body []byte) error {
	select {
	case q.topic(topic) <- &memMessage{q: q, topic: topic, body: body}:
		return nil
	default:
		return fmt.Errorf("queue %s is full", topic)
	}
}

func (q *MemQueue) Consume(ctx context.Context, topic string) (<-chan Message, error) {
	src := q.topic(topic)
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- m:
				case <-ctx.Done():
					m.Nack(true)
					return
				}
			}
		}
	}()
	return out, nil
}

type memMessage struct {
	q     *MemQueue
	topic string
	body  []byte
}

func (m *memMessage) Body() []byte { return m.body }

func (m *memMessage) Ack() {}

func (m *memMessage) Nack(requeue bool) {
	if requeue {
		_ = m.q.Publish(m.topic, m.body)
	}
}

var _ Queue = (*MemQueue)(nil)
