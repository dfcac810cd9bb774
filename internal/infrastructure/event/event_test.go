package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingHandler struct {
	mu    sync.Mutex
	types []string
	seen  []shared.DomainEvent
	err   error
	panic bool
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) Handle(_ context.Context, evt shared.DomainEvent) error {
	if h.panic {
		panic("handler bug")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, evt)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func postedEvent() *trade.DocumentPostedEvent {
	doc := &trade.Document{Kind: trade.DocumentKindInvoice, Number: "INV-1", GrandTotal: decimal.RequireFromString("207")}
	doc.ID = uuid.New()
	doc.TenantID = uuid.New()
	return trade.NewDocumentPostedEvent(doc, []trade.StockMovement{
		{ProductID: uuid.New(), Delta: decimal.NewFromInt(-2), After: decimal.NewFromInt(3)},
	})
}

func submittedEvent() *catalog.CatalogEntrySubmittedEvent {
	entry := &catalog.CatalogEntry{DisplayName: "Widget", Status: catalog.StatusPending}
	entry.ID = uuid.New()
	return catalog.NewCatalogEntrySubmittedEvent(entry)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	posted := &recordingHandler{types: []string{trade.EventTypeDocumentPosted}}
	all := &recordingHandler{}
	bus.Subscribe(posted)
	bus.Subscribe(all)

	require.NoError(t, bus.Publish(context.Background(), postedEvent(), submittedEvent()))

	assert.Equal(t, 1, posted.count())
	assert.Equal(t, 2, all.count())

	bus.Unsubscribe(posted)
	require.NoError(t, bus.Publish(context.Background(), postedEvent()))
	assert.Equal(t, 1, posted.count())
	assert.Equal(t, 3, all.count())
}

func TestInMemoryEventBus_FailuresDoNotStopDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	broken := &recordingHandler{err: errors.New("sink down")}
	panicky := &recordingHandler{panic: true}
	healthy := &recordingHandler{}
	bus.Subscribe(broken)
	bus.Subscribe(panicky)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), postedEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 1, healthy.count())
}

func TestInMemoryEventBus_Stop(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))

	assert.ErrorIs(t, bus.Publish(context.Background(), postedEvent()), ErrBusStopped)
}

func TestEncode(t *testing.T) {
	evt := postedEvent()
	body, err := Encode(evt)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, evt.ID, env.EventID)
	assert.Equal(t, trade.EventTypeDocumentPosted, env.EventType)
	require.NotNil(t, env.TenantID)
	assert.Equal(t, *evt.TenantID, *env.TenantID)

	var payload trade.DocumentPostedEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.True(t, payload.GrandTotal.Equal(decimal.NewFromInt(207)))
	require.Len(t, payload.Movements, 1)

	platform, err := NewEnvelope(submittedEvent())
	require.NoError(t, err)
	assert.Nil(t, platform.TenantID)
}

type fakePublisher struct {
	mu       sync.Mutex
	channel  string
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channel = channel
	p.messages = append(p.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func TestRedisNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub, "posting-engine:notifications")

	require.NoError(t, n.Handle(context.Background(), postedEvent()))
	assert.Equal(t, "posting-engine:notifications", pub.channel)
	require.Len(t, pub.messages, 1)
	assert.Contains(t, string(pub.messages[0]), `"event_type":"DocumentPosted"`)

	pub.err = errors.New("connection refused")
	err := n.Handle(context.Background(), postedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.ElementsMatch(t, []string{
		catalog.EventTypeCatalogEntrySubmitted,
		catalog.EventTypeCatalogEntryReviewed,
		trade.EventTypeDocumentPosted,
	}, n.EventTypes())
}

type failingStore struct{ shared.IdempotencyStore }

func (failingStore) MarkProcessed(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestIdempotentHandler(t *testing.T) {
	store := cache.NewMemoryIdempotencyStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("delivers each event once", func(t *testing.T) {
		inner := &recordingHandler{}
		h := NewIdempotentHandler("redis", inner, store, time.Hour, nil)
		evt := postedEvent()

		require.NoError(t, h.Handle(context.Background(), evt))
		require.NoError(t, h.Handle(context.Background(), evt))
		require.NoError(t, h.Handle(context.Background(), postedEvent()))

		assert.Equal(t, 2, inner.count())
	})

	t.Run("names scope the keys", func(t *testing.T) {
		a, b := &recordingHandler{}, &recordingHandler{}
		evt := postedEvent()
		require.NoError(t, NewIdempotentHandler("a", a, store, time.Hour, nil).Handle(context.Background(), evt))
		require.NoError(t, NewIdempotentHandler("b", b, store, time.Hour, nil).Handle(context.Background(), evt))

		assert.Equal(t, 1, a.count())
		assert.Equal(t, 1, b.count())
	})

	t.Run("store failure still delivers", func(t *testing.T) {
		inner := &recordingHandler{}
		h := NewIdempotentHandler("x", inner, failingStore{}, time.Hour, nil)

		require.NoError(t, h.Handle(context.Background(), postedEvent()))
		assert.Equal(t, 1, inner.count())
	})
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewLogHandler(zap.New(core))

	require.NoError(t, h.Handle(context.Background(), postedEvent()))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "invoice", fields["kind"])
	assert.Equal(t, "207.00", fields["grand_total"])
	assert.Nil(t, h.EventTypes())
}
