package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deliveryTimeout = 2 * time.Second

func collect(ch chan Message) MessageHandler {
	return func(m Message) {
		ch <- m
	}
}

func receive(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(deliveryTimeout):
		t.Fatal("no message delivered")
	}
	return Message{}
}

func assertNothing(t *testing.T, ch chan Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPubSubDeliversAfterSubscribe(t *testing.T) {
	observer := &recordingObserver{}
	s, _ := testStore(t, WithObserver(observer))
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	// nobody is listening yet, this one is lost
	receivers, err := p.Publish(ctx, "orders", "early")
	require.NoError(t, err)
	assert.Equal(t, int64(0), receivers)

	got := make(chan Message, 10)
	require.NoError(t, p.Subscribe(ctx, "orders", collect(got)))

	receivers, err = p.Publish(ctx, "orders", map[string]any{"id": "o1", "total": 12.5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receivers)

	m := receive(t, got)
	assert.Equal(t, "orders", m.Channel)
	require.True(t, m.Payload.IsStructured())
	assert.Equal(t, map[string]any{"id": "o1", "total": 12.5}, m.Payload.Data())
	assertNothing(t, got)

	counts := observer.snapshot()
	assert.Equal(t, 2, counts.published)
	assert.Equal(t, 1, counts.delivered)
}

func TestPubSubRawPayload(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	got := make(chan Message, 1)
	require.NoError(t, p.Subscribe(ctx, "chat", collect(got)))

	_, err := p.Publish(ctx, "chat", "plain text, not json")
	require.NoError(t, err)

	m := receive(t, got)
	assert.Equal(t, Raw, m.Payload.Kind())
	assert.Equal(t, "plain text, not json", m.Payload.Text())
}

func TestPubSubEveryHandlerOnce(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	first := make(chan Message, 10)
	second := make(chan Message, 10)
	require.NoError(t, p.Subscribe(ctx, "orders", collect(first)))
	require.NoError(t, p.Subscribe(ctx, "orders", collect(second)))

	for _, n := range []int{1, 2, 3} {
		_, err := p.Publish(ctx, "orders", n)
		require.NoError(t, err)
	}

	for _, ch := range []chan Message{first, second} {
		for _, n := range []float64{1, 2, 3} {
			m := receive(t, ch)
			assert.Equal(t, n, m.Payload.Data(), "delivered in order")
		}
		assertNothing(t, ch)
	}
}

func TestPubSubChannelsAreSeparate(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	orders := make(chan Message, 1)
	payments := make(chan Message, 1)
	require.NoError(t, p.Subscribe(ctx, "orders", collect(orders)))
	require.NoError(t, p.Subscribe(ctx, "payments", collect(payments)))

	_, err := p.Publish(ctx, "payments", "paid")
	require.NoError(t, err)

	assert.Equal(t, "paid", receive(t, payments).Payload.Text())
	assertNothing(t, orders)
}

func TestPubSubHandlerPanicIsContained(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	got := make(chan Message, 2)
	require.NoError(t, p.Subscribe(ctx, "orders", func(Message) { panic("handler bug") }))
	require.NoError(t, p.Subscribe(ctx, "orders", collect(got)))

	_, err := p.Publish(ctx, "orders", "one")
	require.NoError(t, err)
	_, err = p.Publish(ctx, "orders", "two")
	require.NoError(t, err)

	assert.Equal(t, "one", receive(t, got).Payload.Text())
	assert.Equal(t, "two", receive(t, got).Payload.Text())
}

func TestPubSubUnsubscribe(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	got := make(chan Message, 1)
	require.NoError(t, p.Subscribe(ctx, "orders", collect(got)))
	require.NoError(t, p.Unsubscribe(ctx, "orders"))

	_, err := p.Publish(ctx, "orders", "late")
	require.NoError(t, err)
	assertNothing(t, got)

	// unknown channels are a no-op
	require.NoError(t, p.Unsubscribe(ctx, "never"))
}

func TestPubSubClosed(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Subscribe(context.Background(), "orders", func(Message) {})
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)
}

func TestPubSubInvalidArguments(t *testing.T) {
	s, _ := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	_, err := p.Publish(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, p.Subscribe(ctx, "", func(Message) {}), ErrInvalidArgument)
	assert.ErrorIs(t, p.Subscribe(ctx, "orders", nil), ErrInvalidArgument)
}

func TestPubSubRetryAfterFailedSubscribe(t *testing.T) {
	s, mr := testStore(t)
	p := NewPubSub(s)
	defer p.Close()
	ctx := context.Background()

	warm := make(chan Message, 1)
	require.NoError(t, p.Subscribe(ctx, "warm", collect(warm)))

	got := make(chan Message, 10)
	handler := collect(got)

	mr.Close()
	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	err := p.Subscribe(short, "orders", handler)
	cancel()
	require.Error(t, err)

	require.NoError(t, mr.Restart())

	// the connection may need more than one attempt to recover; none of the
	// failed attempts may leave the handler behind
	deadline := time.Now().Add(5 * time.Second)
	for {
		attempt, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		err = p.Subscribe(attempt, "orders", handler)
		cancel()
		if err == nil || time.Now().After(deadline) {
			break
		}
	}
	require.NoError(t, err)

	_, err = p.Publish(ctx, "orders", "o1")
	require.NoError(t, err)

	m := receive(t, got)
	assert.Equal(t, "o1", m.Payload.Text())
	assertNothing(t, got)
}
