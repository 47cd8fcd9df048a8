// Package amqp relays change signals between processes sharing one storage
// slot. Every relay binds an exclusive queue to a fanout exchange, so each
// process sees every other process's changes.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"eduitraya/internal/bus"
	"eduitraya/internal/log"
)

var (
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrNotConnected = errors.New("amqp relay not connected")
)

const (
	publishTimeout = 5 * time.Second
	pendingSize    = 16
)

// Channel is the part of *amqp091.Channel the relay uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

var _ Channel = (*amqp091.Channel)(nil)

// Dialer opens a channel; the returned closer closes the connection.
type Dialer func(url string) (Channel, io.Closer, error)

// DialAMQP connects to a RabbitMQ broker.
func DialAMQP(url string) (Channel, io.Closer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn, nil
}

// Relay forwards local bus events to the exchange and republishes other
// processes' messages on the bus as External events.
type Relay struct {
	breaker

	url      string
	exchange string
	origin   string
	bus      *bus.Bus
	dial     Dialer
	logger   *log.Logger

	mu    sync.Mutex
	ch    Channel
	conn  io.Closer
	queue string

	pending chan bus.Event
}

// Option customises a Relay.
type Option func(*Relay)

func WithLogger(logger *log.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger.WithComponent(log.ComponentAMQP)
		}
	}
}

// WithDialer replaces DialAMQP, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(r *Relay) {
		if d != nil {
			r.dial = d
		}
	}
}

// WithOrigin sets the process id stamped on outgoing messages.
func WithOrigin(origin string) Option {
	return func(r *Relay) {
		if origin != "" {
			r.origin = origin
		}
	}
}

func NewRelay(url, exchange string, b *bus.Bus, opts ...Option) *Relay {
	r := &Relay{
		url:      url,
		exchange: exchange,
		origin:   uuid.NewString(),
		bus:      b,
		dial:     DialAMQP,
		logger:   log.Discard(),
		pending:  make(chan bus.Event, pendingSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Origin returns the id this relay stamps on its messages.
func (r *Relay) Origin() string { return r.origin }

// Run relays until ctx is cancelled, reconnecting with backoff when the
// broker goes away. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	unsubscribe := r.bus.Subscribe(r.enqueue)
	defer unsubscribe()
	defer r.disconnect()

	go r.publishLoop(ctx)

	attempt := 0
	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "Relay stopped", log.FieldOperation, log.OpShutdown)
			return nil
		}
		if connected {
			attempt = 0
		}
		delay := exponentialBackoff(attempt)
		attempt++
		errType := log.ErrorTypeInternal
		if isConnectionError(err) {
			errType = log.ErrorTypeNetwork
		}
		r.logger.WarnContext(ctx, "Relay session ended, reconnecting",
			log.NewFields().
				WithOperation(log.OpConsume).
				WithErrorType(errType).
				WithError(err).ToSlice()...)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session connects, then consumes until the delivery channel closes or ctx
// is cancelled.
func (r *Relay) session(ctx context.Context) (connected bool, err error) {
	if err := r.connect(); err != nil {
		return false, err
	}
	defer r.disconnect()

	r.mu.Lock()
	ch, queue := r.ch, r.queue
	r.mu.Unlock()

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return true, fmt.Errorf("start consuming: %w", err)
	}
	r.logger.InfoContext(ctx, "Relay consuming",
		"exchange", r.exchange,
		"queue", queue,
		log.FieldOrigin, r.origin)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("delivery channel closed: connection lost")
			}
			r.handleDelivery(ctx, d)
		}
	}
}

func (r *Relay) connect() error {
	ch, conn, err := r.dial(r.url)
	if err != nil {
		return err
	}
	queue, err := setup(ch, r.exchange)
	if err != nil {
		ch.Close()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	r.mu.Lock()
	r.ch, r.conn, r.queue = ch, conn, queue
	r.mu.Unlock()
	return nil
}

func setup(ch Channel, exchange string) (string, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return "", err
	}

	// Server named, exclusive and auto-deleted: one queue per process that
	// disappears with it.
	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue: %w", err)
	}
	return q.Name, nil
}

func declareExchange(ch Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

func (r *Relay) disconnect() {
	r.mu.Lock()
	ch, conn := r.ch, r.conn
	r.ch, r.conn = nil, nil
	r.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

// enqueue is the bus handler. Only local changes are forwarded; external
// ones came from the broker or the slot watcher.
func (r *Relay) enqueue(e bus.Event) {
	if e.Source != bus.Local {
		return
	}
	select {
	case r.pending <- e:
	default:
		// A backlog of identical signals adds nothing.
		r.logger.Debug("Relay backlog full, dropping change signal", log.FieldStorageKey, e.Key)
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.pending:
			if err := r.Publish(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.ErrorContext(ctx, "Failed to publish change",
					log.NewFields().
						WithOperation(log.OpPublish).
						WithErrorType(log.ErrorTypeNetwork).
						WithError(err).ToSlice()...)
			}
		}
	}
}

// Publish sends one change message for e.
func (r *Relay) Publish(ctx context.Context, e bus.Event) error {
	if r.isCircuitOpen() {
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch == nil {
		r.recordFailure()
		return ErrNotConnected
	}

	if err := r.publishOn(ctx, ch, e.Key); err != nil {
		r.recordFailure()
		return err
	}
	r.recordSuccess()
	return nil
}

// Notify sends one change message over a short-lived connection. One-shot
// commands use it instead of Run.
func (r *Relay) Notify(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, conn, err := r.dial(r.url)
	if err != nil {
		return err
	}
	defer func() {
		ch.Close()
		if conn != nil {
			conn.Close()
		}
	}()

	if err := declareExchange(ch, r.exchange); err != nil {
		return err
	}
	return r.publishOn(ctx, ch, key)
}

func (r *Relay) publishOn(ctx context.Context, ch Channel, key string) error {
	body, err := NewChangeMessage(key, r.origin).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		r.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   uuid.NewString(),
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.DebugContext(ctx, "Published change",
		log.FieldStorageKey, key,
		log.FieldOrigin, r.origin)
	return nil
}

func (r *Relay) handleDelivery(ctx context.Context, d amqp091.Delivery) {
	msg, err := ChangeMessageFromJSON(d.Body)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to unmarshal message",
			log.NewFields().
				WithOperation(log.OpConsume).
				WithErrorType(log.ErrorTypeFormat).
				WithError(err).ToSlice()...)
		d.Nack(false, false) // reject and don't requeue
		return
	}
	// Our own message, already applied locally.
	if msg.Origin == r.origin {
		d.Ack(false)
		return
	}

	r.logger.DebugContext(ctx, "Received change",
		log.FieldStorageKey, msg.Key,
		log.FieldOrigin, msg.Origin)
	r.bus.Publish(bus.Event{
		Key:    msg.Key,
		Source: bus.External,
		Origin: msg.Origin,
		At:     msg.Timestamp,
	})
	d.Ack(false)
}
