package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned when publishing to a stopped bus.
	ErrNotRunning = errors.New("bus: not running")
	// ErrRequestTimeout is returned when no correlated reply arrives in time.
	ErrRequestTimeout = errors.New("bus: request timed out")
)

// RemoteError carries the content of a correlated error-type message
// received in answer to a request.
type RemoteError struct {
	Message string
	Details map[string]any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus: remote error: %s", e.Message)
}

// Handler consumes a delivered message. A returned error is logged by the
// dispatch loop; it never prevents delivery to other subscribers.
type Handler func(ctx context.Context, msg *Message) error

type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-process publish/subscribe bus with correlated
// request/response support. A single dispatch goroutine drains the queue,
// which makes delivery FIFO per channel.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]subscription
	pending     map[string]chan *Message
	queue       chan *Message
	running     bool
	nextSubID   int
	done        chan struct{}
	logger      *zap.Logger
}

// New creates a stopped bus. Call Start before publishing.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
		pending:     make(map[string]chan *Message),
		logger:      logger,
	}
}

// Start launches the dispatch loop. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.queue = make(chan *Message, 256)
	b.done = make(chan struct{})
	b.running = true
	go b.dispatch(b.queue, b.done)
	b.logger.Info("message bus started")
}

// Stop drains the queue and stops the dispatch loop. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.queue)
	done := b.done
	b.mu.Unlock()

	<-done
	b.logger.Info("message bus stopped")
}

// Running reports whether the dispatch loop is active.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Subscribe registers a handler for messages addressed to channel. Use the
// Broadcast channel to receive untargeted messages. The returned function
// removes this handler only.
func (b *Bus) Subscribe(channel string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.subscribers[channel] = append(b.subscribers[channel], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[channel]
		kept := subs[:0]
		for _, s := range subs {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subscribers, channel)
		} else {
			b.subscribers[channel] = kept
		}
	}
}

// Unsubscribe removes every handler registered on channel.
func (b *Bus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, channel)
}

// Publish hands the message to the dispatch loop without blocking. When the
// queue is saturated the message is dropped with a warning rather than
// stalling the caller.
func (b *Bus) Publish(msg *Message) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNotRunning
	}
	queue := b.queue
	b.mu.Unlock()

	select {
	case queue <- msg:
		return nil
	default:
		b.logger.Warn("bus queue full, dropping message",
			zap.String("id", msg.ID),
			zap.String("type", string(msg.Type)),
			zap.String("target", msg.Target))
		return fmt.Errorf("bus: queue full, dropped message %s", msg.ID)
	}
}

// Request publishes msg and suspends the caller until a message correlated
// to it arrives or timeout elapses. A correlated error-type message is
// surfaced as *RemoteError.
func (b *Bus) Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	reply := make(chan *Message, 1)

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil, ErrNotRunning
	}
	b.pending[msg.ID] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	if err := b.Publish(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-reply:
		if m.Type == TypeError {
			errMsg, _ := m.Content["error"].(string)
			details, _ := m.Content["details"].(map[string]any)
			return nil, &RemoteError{Message: errMsg, Details: details}
		}
		return m, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s (request %s)", ErrRequestTimeout, timeout, msg.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatch delivers queued messages until the queue closes. Correlated
// replies wake the waiting requester before normal fan-out.
func (b *Bus) dispatch(queue chan *Message, done chan struct{}) {
	defer close(done)
	for msg := range queue {
		b.resolvePending(msg)
		for _, h := range b.handlersFor(msg) {
			b.deliver(h, msg)
		}
	}
}

func (b *Bus) resolvePending(msg *Message) {
	if msg.CorrelationID == "" {
		return
	}
	b.mu.Lock()
	reply, ok := b.pending[msg.CorrelationID]
	if ok {
		delete(b.pending, msg.CorrelationID)
	}
	b.mu.Unlock()
	if ok {
		reply <- msg
	}
}

func (b *Bus) handlersFor(msg *Message) []Handler {
	channel := msg.Target
	if channel == "" {
		channel = Broadcast
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[channel]
	handlers := make([]Handler, 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.handler)
	}
	return handlers
}

// deliver invokes one handler, isolating panics and errors so a misbehaving
// subscriber cannot halt the loop or starve its peers.
func (b *Bus) deliver(h Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("message", msg.ID),
				zap.Any("panic", r))
		}
	}()
	if err := h(context.Background(), msg); err != nil {
		b.logger.Warn("subscriber returned error",
			zap.String("message", msg.ID),
			zap.Error(err))
	}
}
