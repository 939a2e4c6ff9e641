package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"tilepipe/internal/services"
)

// AMQPBroker owns the broker connection shared by every AMQP queue.
type AMQPBroker struct {
	conn   *amqp.Connection
	prefix string
}

// DialAMQP connects to RabbitMQ. Queue names are prefixed with prefix.
func DialAMQP(url, prefix string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, services.Wrap(services.ErrQueue, "", "connect amqp", "", err)
	}
	return &AMQPBroker{conn: conn, prefix: prefix}, nil
}

// Queue declares a durable queue and returns a handle with its own channel.
func (b *AMQPBroker) Queue(name string, lease time.Duration) (*AMQP, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, services.Wrap(services.ErrQueue, name, "open channel", "", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, services.Wrap(services.ErrQueue, name, "enable publish confirmations", "", err)
	}
	qualified := b.prefix + name
	if _, err := ch.QueueDeclare(
		qualified,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, services.Wrap(services.ErrQueue, name, "declare queue", qualified, err)
	}
	return &AMQP{
		ch:          ch,
		name:        name,
		queue:       qualified,
		lease:       lease,
		outstanding: make(map[string]*amqpLease),
		now:         time.Now,
	}, nil
}

// Close closes the broker connection and every channel opened on it.
func (b *AMQPBroker) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

type amqpLease struct {
	tag      uint64
	deadline time.Time
}

// AMQP is a RabbitMQ-backed queue. The broker has no per-message visibility
// timeout, so leases are tracked here: deliveries are fetched without auto-ack
// and any delivery whose lease lapsed is nacked with requeue on the next
// Receive, making it visible to every consumer again.
type AMQP struct {
	mu          sync.Mutex
	ch          *amqp.Channel
	name        string
	queue       string
	lease       time.Duration
	outstanding map[string]*amqpLease
	now         func() time.Time
}

func (q *AMQP) Name() string { return q.name }

func (q *AMQP) Enqueue(ctx context.Context, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	dc, err := q.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",      // exchange
		q.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    id,
			Timestamp:    q.now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return "", services.Wrap(services.ErrQueue, q.name, "enqueue", "", err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return "", services.Wrap(services.ErrQueue, q.name, "enqueue", "await confirmation", err)
	}
	if !acked {
		return "", services.Wrap(services.ErrQueue, q.name, "enqueue", "broker rejected publish", nil)
	}
	return id, nil
}

func (q *AMQP) Receive(ctx context.Context) (*Leased, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.requeueExpiredLocked(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	delivery, ok, err := q.ch.Get(q.queue, false)
	if err != nil {
		return nil, services.Wrap(services.ErrQueue, q.name, "receive", "", err)
	}
	if !ok {
		return nil, nil
	}

	receipt := uuid.NewString()
	q.outstanding[receipt] = &amqpLease{tag: delivery.DeliveryTag, deadline: q.now().Add(q.lease)}

	id := delivery.MessageId
	if id == "" {
		id = fmt.Sprintf("%s-%d", q.queue, delivery.DeliveryTag)
	}
	return &Leased{
		ID:            id,
		Body:          delivery.Body,
		DeliveryCount: deliveryCount(delivery),
		EnqueuedAt:    delivery.Timestamp,
		receipt:       receipt,
	}, nil
}

func (q *AMQP) requeueExpiredLocked() error {
	now := q.now()
	for receipt, lease := range q.outstanding {
		if now.Before(lease.deadline) {
			continue
		}
		if err := q.ch.Nack(lease.tag, false, true); err != nil {
			return services.Wrap(services.ErrQueue, q.name, "requeue expired lease", "", err)
		}
		delete(q.outstanding, receipt)
	}
	return nil
}

func (q *AMQP) Delete(_ context.Context, msg *Leased) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lease, ok := q.outstanding[msg.receipt]
	if !ok {
		return services.Wrap(services.ErrQueue, q.name, "delete", msg.ID, ErrLeaseLost)
	}
	if err := q.ch.Ack(lease.tag, false); err != nil {
		return services.Wrap(services.ErrQueue, q.name, "delete", msg.ID, err)
	}
	delete(q.outstanding, msg.receipt)
	return nil
}

func (q *AMQP) Extend(_ context.Context, msg *Leased, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lease, ok := q.outstanding[msg.receipt]
	if !ok {
		return services.Wrap(services.ErrQueue, q.name, "extend lease", msg.ID, ErrLeaseLost)
	}
	lease.deadline = q.now().Add(d)
	return nil
}

func (q *AMQP) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	declared, err := q.ch.QueueDeclarePassive(q.queue, true, false, false, false, nil)
	if err != nil {
		return Stats{}, services.Wrap(services.ErrQueue, q.name, "stats", "", err)
	}
	return Stats{Visible: declared.Messages, InFlight: len(q.outstanding)}, nil
}

// deliveryCount prefers the quorum-queue delivery counter and falls back to
// the redelivered flag, which can only distinguish first from later deliveries.
func deliveryCount(d amqp.Delivery) int {
	if raw, ok := d.Headers["x-delivery-count"]; ok {
		switch v := raw.(type) {
		case int64:
			return int(v) + 1
		case int32:
			return int(v) + 1
		case int:
			return v + 1
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
