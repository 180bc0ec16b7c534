package startup

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = 5 * time.Second
)

// Listener is anything the service runs until shutdown: the HTTP server, the
// metrics server and the notification hub.
type Listener interface {
	Listen() error
	Shutdown(context.Context) error
}

// Listeners runs a set of Listener together. When one fails, or the process
// is signalled, all of them are shut down.
type Listeners struct {
	name            string
	log             Logger
	shutdownTimeout time.Duration
	listeners       []Listener
}

type ListenersOption func(*Listeners)

// WithListener adds h. A nil h is ignored so optional listeners, such as a
// disabled metrics server, can be passed unconditionally.
func WithListener(h Listener) ListenersOption {
	return WithListeners([]Listener{h})
}

func WithListeners(hs []Listener) ListenersOption {
	return func(l *Listeners) {
		for _, h := range hs {
			if h != nil {
				l.listeners = append(l.listeners, h)
			}
		}
	}
}

// WithShutdownTimeout bounds how long each listener may take to shut down.
func WithShutdownTimeout(d time.Duration) ListenersOption {
	return func(l *Listeners) {
		if d > 0 {
			l.shutdownTimeout = d
		}
	}
}

func NewListeners(log Logger, name string, opts ...ListenersOption) Listeners {
	l := Listeners{
		log:             log,
		name:            strings.ToLower(name),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

func (l *Listeners) String() string {
	return l.name
}

// Listen runs every listener until SIGINT or SIGTERM, or until one of them
// fails.
func (l *Listeners) Listen() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return l.ListenContext(ctx)
}

// ListenContext is Listen ending when ctx is done instead of on a signal.
func (l *Listeners) ListenContext(ctx context.Context) error {
	g, errCtx := errgroup.WithContext(ctx)

	l.log.Infof("%s: starting %d listeners", l, len(l.listeners))
	for _, h := range l.listeners {
		g.Go(h.Listen)
	}

	g.Go(func() error {
		<-errCtx.Done()
		l.log.Infof("%s: shutting down listeners", l)
		return l.Shutdown()
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown stops all listeners concurrently, each within the shutdown
// timeout, and joins their errors.
func (l *Listeners) Shutdown() error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, h := range l.listeners {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
			defer cancel()
			if err := h.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("cannot shutdown %v: %w", h, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
