package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// A http server that has an inbuilt logger, name and complies with the Listener interface in
// startup.Listeners.
//
// No write timeout is set: the notification stream holds responses open for
// as long as the client stays connected.
type Server struct {
	http.Server
	log             Logger
	name            string
	shutdownTimeout time.Duration
}

type ServerOption func(*Server)

// WithShutdownTimeout bounds how long Shutdown waits for open requests. Long
// lived streams are cut when it expires.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

func New(log Logger, name string, port string, handler http.Handler, opts ...ServerOption) *Server {
	m := Server{
		Server: http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		},
		name:            strings.ToLower(name),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.log = log.WithIndex("httpserver", m.String())
	// It is preferable to return a copy rather than a reference. Unfortunately http.Server has an
	// internal mutex and this cannot or should not be copied so we will return a reference instead.
	return &m
}

func (m *Server) String() string {
	// No logging here please
	return fmt.Sprintf("%s%s", m.name, m.Addr)
}

func (m *Server) Listen() error {
	m.log.Infof("Listen")
	err := m.Server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server terminated: %w", m, err)
	}
	return nil
}

func (m *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()
	m.log.Infof("Shutdown")
	err := m.Server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		// streams still open, cut them
		err = m.Server.Close()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
