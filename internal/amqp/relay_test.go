package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"eduitraya/internal/bus"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{70, 30 * time.Second}, // no shift overflow
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"closed connection", errors.New("use of closed network connection"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"amqp closed", amqp091.ErrClosed, true},
		{"other error", errors.New("some other error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestCircuitBreaker(t *testing.T) {
	var b breaker

	if b.isCircuitOpen() {
		t.Fatal("circuit should start closed")
	}
	for i := 0; i < maxFailures-1; i++ {
		b.recordFailure()
	}
	if b.isCircuitOpen() {
		t.Fatal("circuit opened before the threshold")
	}
	b.recordFailure()
	if !b.isCircuitOpen() {
		t.Fatal("circuit should open after max failures")
	}

	b.lastFailure.Store(time.Now().Add(-openTimeout - time.Second).UnixNano())
	if b.isCircuitOpen() {
		t.Fatal("circuit should go half-open after the timeout")
	}
	if atomic.LoadInt32(&b.state) != StateHalfOpen {
		t.Fatalf("state = %d, want half-open", b.state)
	}

	// One failure while half-open reopens immediately.
	b.recordFailure()
	if !b.isCircuitOpen() {
		t.Fatal("half-open failure should reopen the circuit")
	}

	b.recordSuccess()
	if b.isCircuitOpen() || atomic.LoadInt64(&b.failureCount) != 0 {
		t.Fatal("success should reset the breaker")
	}
}

func TestChangeMessageJSON(t *testing.T) {
	msg := &ChangeMessage{Key: "eduitraya-recipients", Origin: "p1", Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := ChangeMessageFromJSON(data)
	if err != nil {
		t.Fatalf("ChangeMessageFromJSON() error = %v", err)
	}
	if parsed.Key != msg.Key || parsed.Origin != msg.Origin || !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("parsed = %+v", parsed)
	}

	for _, bad := range []string{`not json`, `{"key":"k"}`} {
		if _, err := ChangeMessageFromJSON([]byte(bad)); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

type fakeAck struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

type fakeChannel struct {
	mu         sync.Mutex
	exchange   string
	kind       string
	bound      bool
	published  chan amqp091.Publishing
	deliveries chan amqp091.Delivery
	publishErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		published:  make(chan amqp091.Publishing, 8),
		deliveries: make(chan amqp091.Delivery, 8),
	}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchange, c.kind = name, kind
	return nil
}

func (c *fakeChannel) QueueDeclare(string, bool, bool, bool, bool, amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: "amq.gen-test"}, nil
}

func (c *fakeChannel) QueueBind(name, _, exchange string, _ bool, _ amqp091.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = name == "amq.gen-test" && exchange == c.exchange
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp091.Table) (<-chan amqp091.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp091.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published <- msg
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func dialerFor(ch Channel) Dialer {
	return func(string) (Channel, io.Closer, error) { return ch, nil, nil }
}

func TestHandleDelivery(t *testing.T) {
	b := bus.New()
	var events []bus.Event
	b.Subscribe(func(e bus.Event) { events = append(events, e) })
	r := NewRelay("amqp://test", "x", b, WithOrigin("me"))
	ctx := context.Background()

	own := &fakeAck{}
	body, _ := NewChangeMessage("k", "me").ToJSON()
	r.handleDelivery(ctx, amqp091.Delivery{Acknowledger: own, Body: body})
	if len(events) != 0 || own.acks != 1 {
		t.Fatalf("own message must be acked and ignored: events=%v acks=%d", events, own.acks)
	}

	other := &fakeAck{}
	body, _ = NewChangeMessage("k", "them").ToJSON()
	r.handleDelivery(ctx, amqp091.Delivery{Acknowledger: other, Body: body})
	if len(events) != 1 || events[0].Source != bus.External || events[0].Origin != "them" || events[0].Key != "k" {
		t.Fatalf("unexpected events %+v", events)
	}
	if other.acks != 1 {
		t.Fatal("expected ack")
	}

	bad := &fakeAck{}
	r.handleDelivery(ctx, amqp091.Delivery{Acknowledger: bad, Body: []byte("garbage")})
	if bad.nacks != 1 || bad.requeued {
		t.Fatalf("malformed message should be dropped without requeue: %+v", bad)
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	r := NewRelay("amqp://test", "x", bus.New())
	ctx := context.Background()
	for i := 0; i < maxFailures; i++ {
		if err := r.Publish(ctx, bus.Event{Key: "k"}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("attempt %d: expected ErrNotConnected, got %v", i, err)
		}
	}
	if err := r.Publish(ctx, bus.Event{Key: "k"}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestPublishRespectsCancellation(t *testing.T) {
	r := NewRelay("amqp://test", "x", bus.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Publish(ctx, bus.Event{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunRelaysBothWays(t *testing.T) {
	ch := newFakeChannel()
	b := bus.New()
	received := make(chan bus.Event, 4)
	b.Subscribe(func(e bus.Event) {
		if e.Source == bus.External {
			received <- e
		}
	})

	r := NewRelay("amqp://test", "eduitraya.changes", b, WithOrigin("me"), WithDialer(dialerFor(ch)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Wait until the relay has bound its queue and subscribed.
	deadline := time.After(2 * time.Second)
	for {
		ch.mu.Lock()
		bound := ch.bound
		ch.mu.Unlock()
		if bound && b.Len() == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if ch.kind != "fanout" || ch.exchange != "eduitraya.changes" {
		t.Fatalf("unexpected exchange %q (%s)", ch.exchange, ch.kind)
	}

	b.Publish(bus.Event{Key: "k", Source: bus.Local, Origin: "store-1"})
	select {
	case msg := <-ch.published:
		parsed, err := ChangeMessageFromJSON(msg.Body)
		if err != nil || parsed.Origin != "me" || parsed.Key != "k" {
			t.Fatalf("unexpected message %s (%v)", msg.Body, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("local change was not published")
	}

	body, _ := NewChangeMessage("k", "other-process").ToJSON()
	ch.deliveries <- amqp091.Delivery{Acknowledger: &fakeAck{}, Body: body}
	select {
	case e := <-received:
		if e.Origin != "other-process" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote change was not republished")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if b.Len() != 1 {
		t.Fatalf("relay should unsubscribe on exit, %d subscribers left", b.Len())
	}
}

func TestRunStopsWhileReconnecting(t *testing.T) {
	var dials atomic.Int32
	dial := func(string) (Channel, io.Closer, error) {
		dials.Add(1)
		return nil, nil, errors.New("dial tcp: connection refused")
	}
	r := NewRelay("amqp://test", "x", bus.New(), WithDialer(dial))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if dials.Load() != 1 {
		t.Fatalf("expected a single dial inside the first backoff, got %d", dials.Load())
	}
}

func TestNotifyPublishesOnceAndCloses(t *testing.T) {
	ch := newFakeChannel()
	r := NewRelay("amqp://test", "eduitraya.changes", bus.New(), WithOrigin("cli"), WithDialer(dialerFor(ch)))

	if err := r.Notify(context.Background(), "eduitraya-recipients"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case msg := <-ch.published:
		parsed, err := ChangeMessageFromJSON(msg.Body)
		if err != nil || parsed.Origin != "cli" || parsed.Key != "eduitraya-recipients" {
			t.Fatalf("unexpected message %s (%v)", msg.Body, err)
		}
	default:
		t.Fatal("nothing published")
	}
	if n := len(ch.published); n != 0 {
		t.Fatalf("%d extra messages published", n)
	}
	if ch.kind != "fanout" || ch.exchange != "eduitraya.changes" {
		t.Fatalf("unexpected exchange %q (%s)", ch.exchange, ch.kind)
	}
	if ch.bound {
		t.Error("a one-shot notify should not bind a queue")
	}
	if !ch.closed {
		t.Error("channel left open")
	}
}

func TestNotifyErrors(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	r := NewRelay("amqp://test", "x", bus.New(), WithDialer(func(string) (Channel, io.Closer, error) {
		return nil, nil, refused
	}))
	if err := r.Notify(context.Background(), "k"); !errors.Is(err, refused) {
		t.Fatalf("expected dial error, got %v", err)
	}

	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	r = NewRelay("amqp://test", "x", bus.New(), WithDialer(dialerFor(ch)))
	if err := r.Notify(context.Background(), "k"); !errors.Is(err, ch.publishErr) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if !ch.closed {
		t.Error("channel left open after a failed publish")
	}
}
