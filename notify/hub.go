package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-coordination/errhandling"
	"github.com/datatrails/go-datatrails-coordination/redis"
	"github.com/datatrails/go-datatrails-coordination/tenantid"
	"github.com/datatrails/go-datatrails-coordination/tracing"
)

const (
	defaultClientBuffer = 16
	defaultHeartbeat    = 30 * time.Second
)

var (
	errNoOrganization = errors.New("organization required")
	errNoStreaming    = errors.New("streaming unsupported")
)

// Subscriber is satisfied by *redis.PubSub.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler redis.MessageHandler) error
	Unsubscribe(ctx context.Context, channel string) error
}

type client struct {
	organizationID string
	events         chan Event
}

// Hub fans the events on Channel out to Server-Sent-Events streams. Each
// stream only receives the events of the organization it was opened for.
//
// A stream that cannot keep up loses events rather than holding up the
// others.
type Hub struct {
	log          Logger
	subscriber   Subscriber
	clientBuffer int
	heartbeat    time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	stop    chan struct{}
	stopped bool
}

type HubOption func(*Hub)

func WithClientBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuffer = size
		}
	}
}

// WithHeartbeat sets how often an idle stream gets a comment line, which
// keeps proxies from closing it.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func NewHub(log Logger, subscriber Subscriber, opts ...HubOption) *Hub {
	h := &Hub{
		log:          log,
		subscriber:   subscriber,
		clientBuffer: defaultClientBuffer,
		heartbeat:    defaultHeartbeat,
		clients:      make(map[*client]struct{}),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) String() string {
	return "notify.Hub"
}

// Start subscribes to Channel. It returns once the subscription is
// confirmed.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.subscriber.Subscribe(ctx, Channel, h.receive); err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	h.log.Infof("notify: subscribed to %s", Channel)
	return nil
}

// Listen is Start followed by waiting for Shutdown, so a Hub can run under
// startup.Listeners.
func (h *Hub) Listen() error {
	if err := h.Start(context.Background()); err != nil {
		return err
	}
	<-h.stop
	return nil
}

// Shutdown unsubscribes and ends every open stream.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.stop)
	h.mu.Unlock()

	return h.subscriber.Unsubscribe(ctx, Channel)
}

// Clients is the number of open streams.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(organizationID string) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, false
	}
	c := &client{organizationID: organizationID, events: make(chan Event, h.clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// receive runs on the pub/sub dispatch goroutine and must not block.
func (h *Hub) receive(m redis.Message) {
	var e Event
	if err := m.Payload.Decode(&e); err != nil {
		h.log.Infof("notify: dropping undecodable message: %v", err)
		return
	}
	if err := e.Validate(); err != nil {
		h.log.Infof("notify: dropping message: %v", err)
		return
	}

	span, _ := tracing.NewSpanWithAttributes(context.Background(), "notify.receive", h.log, e.Trace)
	defer span.Close()
	span.SetTag("event.type", string(e.Type))

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered, dropped := 0, 0
	for c := range h.clients {
		if c.organizationID != e.OrganizationID {
			continue
		}
		select {
		case c.events <- e:
			delivered++
		default:
			dropped++
		}
	}
	span.LogField("delivered", delivered)
	if dropped > 0 {
		h.log.WithOrganization(e.OrganizationID).Infof("notify: %d slow streams missed %s", dropped, e.Type)
	}
}

// ServeHTTP streams the events of the caller's organization until the
// client goes away or the Hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.FromContext(r.Context())
	defer log.Close()

	organizationID := tenantid.GetOrganizationIDFromHeader(r.Header)
	if organizationID == "" {
		errhandling.WriteError(w, errhandling.NewErrorStatus(errNoOrganization, http.StatusBadRequest))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		errhandling.WriteError(w, errNoStreaming)
		return
	}

	c, ok := h.register(organizationID)
	if !ok {
		errhandling.WriteError(w, errhandling.NewTransientError(errors.New("shutting down")))
		return
	}
	defer h.unregister(c)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debugf("notify: stream closed by client")
			return
		case <-h.stop:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-c.events:
			if err := writeEvent(w, e); err != nil {
				log.Infof("notify: write failed: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e Event) error {
	e.Trace = nil
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
