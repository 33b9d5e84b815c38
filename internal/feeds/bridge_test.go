package feeds

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/realtime"
	"github.com/betbot/sentinel/pkg/realtime/memory"
)

type memRecorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *memRecorder) Record(topic string, payload json.RawMessage, at time.Time) error {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

func startBridge(t *testing.T, opts ...BridgeOption) (*memory.Broker, *state.Store, *Bridge) {
	t.Helper()
	broker := memory.NewBroker()
	client := realtime.NewClient(broker)
	store := state.NewStore()
	b := NewBridge(client, store, opts...)
	b.Start()
	t.Cleanup(b.Stop)
	require.Eventually(t, store.Connected, time.Second, 5*time.Millisecond)
	return broker, store, b
}

func TestBridge_AppliesEveryTopic(t *testing.T) {
	rec := &memRecorder{}
	broker, store, _ := startBridge(t, WithRecorder(rec))

	broker.Publish(TopicAlerts, []byte(`{"id":7,"trader":"alice","symbol":"AAPL","severity":"HIGH","actualValue":150,"threshold":100}`))
	broker.Publish(TopicPositions, []byte(`[{"id":1,"trader":"alice","symbol":"AAPL","quantity":-20}]`))
	broker.Publish(TopicTrades, []byte(`{"id":3,"trader":"bob","symbol":"MSFT","quantity":5,"price":"410.5","side":"BUY"}`))

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return len(snap.Alerts) == 1 && len(snap.Positions) == 1 && len(snap.Trades) == 1
	}, time.Second, 5*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, int64(7), snap.Alerts[0].ID)
	assert.Equal(t, int64(-20), snap.Positions[0].Quantity)
	assert.Equal(t, "410.5", snap.Trades[0].Price.String())
	assert.Equal(t, "2000", snap.Metrics.TotalExposure.String())
	assert.Equal(t, 3, rec.count())
}

func TestBridge_MalformedPayloadKeepsState(t *testing.T) {
	broker, store, _ := startBridge(t)

	broker.Publish(TopicPositions, []byte(`[{"id":1,"trader":"a","symbol":"X","quantity":1}]`))
	require.Eventually(t, func() bool { return len(store.Snapshot().Positions) == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(TopicPositions, []byte(`{"not":"a list"}`))
	broker.Publish(TopicPositions, []byte(`not json`))
	broker.Publish(TopicPositions, []byte(`[{"id":2,"trader":"b","symbol":"Y","quantity":2},{"id":3,"trader":"c","symbol":"Z","quantity":3}]`))

	require.Eventually(t, func() bool { return len(store.Snapshot().Positions) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, store.Connected())
}

func TestBridge_ReconnectsAfterDrop(t *testing.T) {
	broker, store, b := startBridge(t)
	reconnected := make(chan struct{}, 1)
	b.OnConnected = func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	}

	broker.DropAll()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect")
	}
	require.Eventually(t, store.Connected, time.Second, 5*time.Millisecond)

	broker.Publish(TopicTrades, []byte(`{"id":11,"trader":"t","symbol":"S","quantity":1,"price":1,"side":"SELL"}`))
	require.Eventually(t, func() bool { return len(store.Snapshot().Trades) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBridge_ErrorMarksDisconnected(t *testing.T) {
	broker := memory.NewBroker()
	broker.SetDown(true)
	client := realtime.NewClientWithConfig(broker, &realtime.Config{ReconnectDelay: time.Millisecond, MaxReconnectAttempts: 0})
	store := state.NewStore()
	b := NewBridge(client, store)
	b.Start()
	defer b.Stop()

	require.Eventually(t, func() bool { return store.Snapshot().LastError != "" }, time.Second, 5*time.Millisecond)
	snap := store.Snapshot()
	assert.False(t, snap.Connected)
	assert.Contains(t, snap.LastError, "unavailable")
}

func TestSubscribe_TypedDecode(t *testing.T) {
	broker := memory.NewBroker()
	client := realtime.NewClient(broker)
	defer client.Disconnect()

	got := make(chan domain.Trade, 2)
	SubscribeTrades(client, func(tr domain.Trade) { got <- tr })
	client.Connect(nil, nil)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	broker.Publish(TopicTrades, []byte(`{"id":"wrong type"}`))
	broker.Publish(TopicTrades, []byte(`{"id":5,"side":"BUY","price":2,"quantity":3}`))

	select {
	case tr := <-got:
		assert.Equal(t, int64(5), tr.ID)
		assert.Equal(t, "6", tr.Notional().String())
	case <-time.After(time.Second):
		t.Fatal("no trade")
	}
	assert.Empty(t, got)
}
