package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/survey-participation/internal/queue"
)

// RabbitPublisher publishes audit and waitlist events to RabbitMQ.  It
// is fire-and-forget on both interfaces: delivery failures are logged
// and never surfaced to the operation that produced the event.  Each
// publish dials a short-lived connection; the volume here is low enough
// that connection reuse is not worth the reconnect bookkeeping.
type RabbitPublisher struct {
	url string
}

// NewRabbitPublisher returns a publisher for the given broker URL.
func NewRabbitPublisher(url string) *RabbitPublisher {
	return &RabbitPublisher{url: url}
}

// Emit publishes an audit event to the participation.audit queue.
func (p *RabbitPublisher) Emit(ctx context.Context, ev queue.AuditEvent) {
	go p.publish(queue.AuditQueueName, ev)
}

// NotifyNext publishes a waitlist event to the waitlist.notify queue.
func (p *RabbitPublisher) NotifyNext(ctx context.Context, ev queue.WaitlistEvent) {
	go p.publish(queue.WaitlistQueueName, ev)
}

// publish runs on its own goroutine with its own deadline so a slow
// broker never blocks a request or holds a transaction open.
func (p *RabbitPublisher) publish(queueName string, event any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish to %s failed: %v", queueName, err)
	}
}
