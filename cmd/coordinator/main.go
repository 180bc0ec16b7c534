// Command coordinator streams live notifications to the users of an
// organization. It is the reference wiring of the coordination layer: one
// Store per process, the Hub consuming pub/sub, admission limiting in front
// of every stream.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/datatrails/go-datatrails-coordination/admission"
	"github.com/datatrails/go-datatrails-coordination/environment"
	"github.com/datatrails/go-datatrails-coordination/errhandling"
	"github.com/datatrails/go-datatrails-coordination/httpserver"
	"github.com/datatrails/go-datatrails-coordination/metrics"
	"github.com/datatrails/go-datatrails-coordination/notify"
	"github.com/datatrails/go-datatrails-coordination/redis"
	"github.com/datatrails/go-datatrails-coordination/startup"
	"github.com/datatrails/go-datatrails-coordination/tracing"
)

const (
	serviceName = "coordinator"
	portEnv     = "PORT"

	notificationsPath = "/notifications"
	healthPath        = "/healthz"

	disconnectTimeout = 10 * time.Second
)

func main() {
	startup.Run(serviceName, portEnv, run)
}

func run(log startup.Logger) error {
	m := metrics.NewFromEnvironment(log, serviceName, metrics.WithLabel("notifications", 0))

	var storeOpts []redis.StoreOption
	if m != nil {
		storeOpts = append(storeOpts, redis.WithObserver(metrics.NewCoordinationObservers(m)))
	}
	store := redis.NewStore(redis.FromEnvOrFatal(log), storeOpts...)

	// Without the store none of the coordination works, give up at once.
	if err := store.Connect(context.Background()); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := store.Disconnect(ctx); err != nil {
			log.Infof("disconnect: %v", err)
		}
	}()

	pubsub := redis.NewPubSub(store)
	defer pubsub.Close()

	hub := notify.NewHub(log, pubsub)
	limiter := admission.NewFromEnv(log, redis.NewRateLimiter(store))

	mux := http.NewServeMux()
	mux.Handle(notificationsPath, limiter.Handler(hub))
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			errhandling.WriteError(w, errhandling.NewTransientError(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	listeners := []startup.Listener{
		hub,
		httpserver.New(
			log, serviceName, environment.GetOrFatal(portEnv),
			tracing.HTTPMiddleware(m.NewLatencyMetricsHandler(mux)),
		),
	}
	if m != nil {
		listeners = append(listeners, httpserver.New(log, "metrics", m.Port(), m.NewPromHandler()))
	}

	l := startup.NewListeners(log, serviceName, startup.WithListeners(listeners))
	return l.Listen()
}
