package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"
)

const (
	defaultDispatchBuffer = 100

	subscribeKind   = "subscribe"
	unsubscribeKind = "unsubscribe"
)

var errPubSubClosed = errors.New("pubsub closed")

// Message is one delivery on a channel. Channel is the name given to
// Subscribe, without the key namespace.
type Message struct {
	Channel string
	Payload Value
}

type MessageHandler func(Message)

// registration identifies one Subscribe call so a failed call can withdraw
// exactly its own handler.
type registration struct {
	id      uint64
	handler MessageHandler
}

// PubSub is fire-and-forget messaging between processes sharing the store.
// Delivery is at-most-once and only to subscriptions that exist when the
// message is published. Nothing is persisted.
//
// A PubSub consumes the store's subscription connection, so create one per
// Store.
type PubSub struct {
	store      *Store
	bufferSize int

	mu        sync.Mutex
	nextID    uint64
	handlers  map[string][]registration
	confirmed map[string]bool
	waiters   map[string][]chan struct{}
	sub       *redis.PubSub
	done      chan struct{}
	closed    bool
}

type PubSubOption func(*PubSub)

// WithDispatchBuffer sizes the queue between the connection and handlers.
func WithDispatchBuffer(size int) PubSubOption {
	return func(p *PubSub) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

func NewPubSub(store *Store, opts ...PubSubOption) *PubSub {
	p := &PubSub{
		store:      store,
		bufferSize: defaultDispatchBuffer,
		handlers:   make(map[string][]registration),
		confirmed:  make(map[string]bool),
		waiters:    make(map[string][]chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PubSub) Log() Logger {
	return p.store.Log()
}

func (p *PubSub) channelName(channel string) string {
	return p.store.key(channel)
}

func (p *PubSub) logicalName(name string) string {
	return strings.TrimPrefix(name, p.store.Namespace()+keySeparator)
}

// Publish sends message to every current subscriber of channel and returns
// how many received it. Strings are sent as-is, other values JSON encoded.
func (p *PubSub) Publish(ctx context.Context, channel string, message any) (int64, error) {
	log := p.Log().FromContext(ctx)
	defer log.Close()

	if channel == "" {
		return 0, InvalidArgumentError("channel", "is empty")
	}
	text, err := encodeValue(message)
	if err != nil {
		return 0, err
	}
	name := p.channelName(channel)

	client, done, err := p.store.use("pubsub.Publish")
	if err != nil {
		return 0, err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.pubsub.Publish")
	defer span.Finish()

	receivers, err := client.Publish(ctx, name, text).Result()
	if err != nil {
		return 0, storeError(err, name)
	}
	p.store.observer.MessagePublished(channel)
	log.Debugf("Publish: %s receivers %d", name, receivers)
	return receivers, nil
}

// Subscribe registers handler for channel. The first subscription to a
// channel sends SUBSCRIBE and Subscribe returns only once the server has
// confirmed it, so any message published afterwards is delivered.
//
// Handlers run on a single goroutine in arrival order and must not block for
// long. If Subscribe returns an error the handler is not registered, so the
// call can be retried without duplicate deliveries.
func (p *PubSub) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	log := p.Log().FromContext(ctx)
	defer log.Close()

	if channel == "" {
		return InvalidArgumentError("channel", "is empty")
	}
	if handler == nil {
		return InvalidArgumentError("handler", "is nil")
	}
	name := p.channelName(channel)

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.pubsub.Subscribe")
	defer span.Finish()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return UnavailableError(errPubSubClosed, name)
	}
	sub, err := p.subscriber(ctx)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.nextID++
	id := p.nextID
	p.handlers[name] = append(p.handlers[name], registration{id: id, handler: handler})
	if p.confirmed[name] {
		p.mu.Unlock()
		log.Debugf("Subscribe: %s already subscribed", name)
		return nil
	}
	_, pending := p.waiters[name]
	confirmed := make(chan struct{})
	p.waiters[name] = append(p.waiters[name], confirmed)
	p.mu.Unlock()

	if !pending {
		if err := sub.Subscribe(ctx, name); err != nil {
			p.withdraw(name, id, confirmed)
			return storeError(err, name)
		}
	}

	select {
	case <-confirmed:
		log.Debugf("Subscribe: %s confirmed", name)
		return nil
	case <-p.done:
		return UnavailableError(errPubSubClosed, name)
	case <-ctx.Done():
		p.withdraw(name, id, confirmed)
		return fmt.Errorf("subscribe %s: %w", name, ctx.Err())
	}
}

// withdraw removes the handler registered as id and its confirmation waiter.
// When no waiter remains the next Subscribe sends SUBSCRIBE again.
func (p *PubSub) withdraw(name string, id uint64, confirmed chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	regs := p.handlers[name]
	for i, r := range regs {
		if r.id == id {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(p.handlers, name)
	} else {
		p.handlers[name] = regs
	}

	waiters := p.waiters[name]
	for i, w := range waiters {
		if w == confirmed {
			waiters = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(p.waiters, name)
	} else {
		p.waiters[name] = waiters
	}
}

// subscriber starts the dispatcher on first use. Callers hold mu.
func (p *PubSub) subscriber(ctx context.Context) (*redis.PubSub, error) {
	if p.sub != nil {
		return p.sub, nil
	}
	sub, err := p.store.Subscriber(ctx)
	if err != nil {
		return nil, err
	}
	p.sub = sub
	// The dispatcher outlives the Subscribe call that started it.
	go p.dispatch(sub.ChannelWithSubscriptions(context.WithoutCancel(ctx), p.bufferSize))
	return sub, nil
}

// Unsubscribe removes every handler for channel and sends UNSUBSCRIBE.
func (p *PubSub) Unsubscribe(ctx context.Context, channel string) error {
	log := p.Log().FromContext(ctx)
	defer log.Close()

	name := p.channelName(channel)

	p.mu.Lock()
	_, known := p.handlers[name]
	delete(p.handlers, name)
	delete(p.confirmed, name)
	sub := p.sub
	p.mu.Unlock()

	if !known || sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(ctx, name); err != nil {
		return storeError(err, name)
	}
	log.Debugf("Unsubscribe: %s", name)
	return nil
}

// Close unsubscribes from every channel and stops dispatching. The
// subscription connection itself is closed by Store.Disconnect.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	names := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		names = append(names, name)
	}
	p.handlers = make(map[string][]registration)
	p.confirmed = make(map[string]bool)
	p.waiters = make(map[string][]chan struct{})
	sub := p.sub
	close(p.done)
	p.mu.Unlock()

	if sub == nil || len(names) == 0 {
		return nil
	}
	// The subscription connection may already be gone on shutdown.
	if err := sub.Unsubscribe(context.Background(), names...); err != nil {
		p.Log().Infof("Close: unsubscribe failed: %v", err)
	}
	return nil
}

func (p *PubSub) dispatch(ch <-chan any) {
	for {
		select {
		case <-p.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			switch msg := m.(type) {
			case *redis.Subscription:
				p.onSubscription(msg)
			case *redis.Message:
				p.deliver(msg)
			}
		}
	}
}

func (p *PubSub) onSubscription(s *redis.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch s.Kind {
	case subscribeKind:
		p.confirmed[s.Channel] = true
		for _, w := range p.waiters[s.Channel] {
			close(w)
		}
		delete(p.waiters, s.Channel)
	case unsubscribeKind:
		if len(p.handlers[s.Channel]) == 0 {
			delete(p.confirmed, s.Channel)
		}
	}
}

func (p *PubSub) deliver(msg *redis.Message) {
	p.mu.Lock()
	regs := append([]registration(nil), p.handlers[msg.Channel]...)
	p.mu.Unlock()

	if len(regs) == 0 {
		return
	}
	m := Message{
		Channel: p.logicalName(msg.Channel),
		Payload: decodeValue(msg.Payload),
	}
	for _, r := range regs {
		p.call(r.handler, m)
	}
	p.store.observer.MessageDelivered(m.Channel)
}

// call isolates the dispatcher from a panicking handler.
func (p *PubSub) call(h MessageHandler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			p.Log().Infof("pubsub: handler for %s panicked: %v", m.Channel, r)
		}
	}()
	h(m)
}
