package populate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegraph/filegraph/internal/fileevent"
	"github.com/filegraph/filegraph/internal/graph"
)

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeBus struct {
	mu          sync.Mutex
	deliveries  chan amqp.Delivery
	deadLetters []amqp.Delivery
}

func newFakeBus() *fakeBus {
	return &fakeBus{deliveries: make(chan amqp.Delivery, 16)}
}

func (b *fakeBus) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBus) DeadLetter(ctx context.Context, d amqp.Delivery, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetters = append(b.deadLetters, d)
	return d.Ack(false)
}

func (b *fakeBus) deadLettered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deadLetters)
}

type fakeStore struct {
	mu      sync.Mutex
	applied []*fileevent.FileEvent
	failAll error
}

func (s *fakeStore) Apply(ctx context.Context, ev *fileevent.FileEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	s.applied = append(s.applied, ev)
	return nil
}

func (s *fakeStore) GetFile(ctx context.Context, path string) (*graph.FileRecord, error) {
	return nil, graph.ErrNotFound
}

func (s *fakeStore) Neighbors(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) Close(ctx context.Context) error { return nil }

func (s *fakeStore) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func validBody(t *testing.T, path string) []byte {
	t.Helper()
	ev := &fileevent.FileEvent{
		Path:       path,
		Kind:       fileevent.KindCreated,
		SHA256:     "ab",
		XXH128:     "cd",
		Size:       1,
		Discovered: time.Now().UTC(),
	}
	body, err := ev.Encode()
	require.NoError(t, err)
	return body
}

func TestHandle_ValidEventAppliedAndAcked(t *testing.T) {
	bus := newFakeBus()
	store := &fakeStore{}
	c := NewConsumer(bus, store)

	ack := &fakeAcknowledger{}
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t, "/data/song.mp3"),
	})

	assert.Equal(t, 1, store.appliedCount())
	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 0, ack.nacks)
}

func TestHandle_MalformedDeadLetteredNotRequeued(t *testing.T) {
	bus := newFakeBus()
	store := &fakeStore{}
	c := NewConsumer(bus, store)

	ack := &fakeAcknowledger{}
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("{not json"),
	})

	assert.Equal(t, 1, bus.deadLettered())
	assert.Equal(t, 0, store.appliedCount(), "malformed messages never reach the store")
	assert.Equal(t, 1, ack.acks, "dead-lettering acks the original")
	assert.Equal(t, 0, ack.nacks)
}

func TestHandle_StoreUnavailableRequeued(t *testing.T) {
	bus := newFakeBus()
	store := &fakeStore{failAll: graph.ErrStoreUnavailable}
	c := NewConsumer(bus, store)

	ack := &fakeAcknowledger{}
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t, "/data/song.mp3"),
	})

	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue, "transient store failure requeues for redelivery")
	assert.Equal(t, 0, bus.deadLettered())
}

func TestHandle_UnexpectedStoreErrorRequeued(t *testing.T) {
	bus := newFakeBus()
	store := &fakeStore{failAll: errors.New("constraint violated")}
	c := NewConsumer(bus, store)

	ack := &fakeAcknowledger{}
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t, "/data/song.mp3"),
	})

	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestRun_ContinuesAfterPoisonMessage(t *testing.T) {
	bus := newFakeBus()
	store := &fakeStore{}
	c := NewConsumer(bus, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poisonAck := &fakeAcknowledger{}
	goodAck := &fakeAcknowledger{}
	bus.deliveries <- amqp.Delivery{Acknowledger: poisonAck, Body: []byte("garbage")}
	bus.deliveries <- amqp.Delivery{Acknowledger: goodAck, Body: validBody(t, "/data/after-poison.mp3")}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.appliedCount() == 1 && bus.deadLettered() == 1
	}, 5*time.Second, 10*time.Millisecond, "consumer must survive a poison message")

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
