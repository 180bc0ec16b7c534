package notify

import (
	"context"
	"time"

	"github.com/datatrails/go-datatrails-coordination/logger"
	"github.com/datatrails/go-datatrails-coordination/tracing"
)

type Logger = logger.Logger

// Publisher is satisfied by *redis.PubSub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) (int64, error)
}

type Notifier struct {
	log       Logger
	publisher Publisher
	now       func() time.Time
}

func NewNotifier(log Logger, publisher Publisher) *Notifier {
	return &Notifier{
		log:       log,
		publisher: publisher,
		now:       time.Now,
	}
}

// Notify publishes e to every connected Hub. It returns the number of Hubs
// that received it; zero is not an error.
func (n *Notifier) Notify(ctx context.Context, e Event) (int64, error) {
	log := n.log.FromContext(ctx).WithOrganization(e.OrganizationID)
	defer log.Close()

	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = n.now().UTC()
	}

	span, ctx := tracing.StartSpanFromContext(ctx, n.log, "notify.Notify")
	defer span.Close()
	span.SetTag("event.type", string(e.Type))
	e.Trace = span.Attributes()

	receivers, err := n.publisher.Publish(ctx, Channel, e)
	if err != nil {
		return 0, err
	}
	log.Debugf("Notify: %s %s to %d hubs", e.Type, e.EntityID, receivers)
	return receivers, nil
}
