package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sentinel/pkg/realtime"
)

type inbox struct {
	mu     sync.Mutex
	bodies []string
}

func (i *inbox) add(b []byte) {
	i.mu.Lock()
	i.bodies = append(i.bodies, string(b))
	i.mu.Unlock()
}

func (i *inbox) all() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.bodies...)
}

func TestBroker_PublishReachesEverySession(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	s1, err := b.Dial(ctx)
	require.NoError(t, err)
	s2, err := b.Dial(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Sessions())

	var in1, in2 inbox
	_, err = s1.Subscribe("/topic/alerts", in1.add)
	require.NoError(t, err)
	_, err = s2.Subscribe("/topic/alerts", in2.add)
	require.NoError(t, err)

	require.NoError(t, s1.Send("/topic/alerts", []byte(`{"id":1}`)))

	require.Eventually(t, func() bool { return len(in1.all()) == 1 && len(in2.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"id":1}`}, in2.all())
	assert.Equal(t, int64(1), b.Published())
}

func TestBroker_PreservesOrderPerSubscription(t *testing.T) {
	b := NewBroker()
	s, err := b.Dial(context.Background())
	require.NoError(t, err)

	var in inbox
	_, err = s.Subscribe("/topic/trades", in.add)
	require.NoError(t, err)

	for _, body := range []string{"1", "2", "3", "4"} {
		b.Publish("/topic/trades", []byte(body))
	}
	require.Eventually(t, func() bool { return len(in.all()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3", "4"}, in.all())
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	s, err := b.Dial(context.Background())
	require.NoError(t, err)

	var in inbox
	h, err := s.Subscribe("/topic/positions", in.add)
	require.NoError(t, err)
	assert.Equal(t, "/topic/positions", h.Topic())
	require.NoError(t, h.Unsubscribe())

	assert.Equal(t, 0, b.Publish("/topic/positions", []byte("[]")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, in.all())
}

func TestBroker_DropAllEndsSessions(t *testing.T) {
	b := NewBroker()
	s, err := b.Dial(context.Background())
	require.NoError(t, err)

	b.DropAll()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not ended")
	}
	assert.ErrorIs(t, s.Err(), realtime.ErrConnectionLost)
	assert.Equal(t, 0, b.Sessions())
	assert.ErrorIs(t, s.Send("/topic/x", []byte("{}")), realtime.ErrSessionClosed)
	_, err = s.Subscribe("/topic/x", func([]byte) {})
	assert.ErrorIs(t, err, realtime.ErrSessionClosed)
}

func TestBroker_CloseIsClean(t *testing.T) {
	b := NewBroker()
	s, err := b.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	<-s.Done()
	assert.NoError(t, s.Err())
	assert.NoError(t, s.Close())
}

func TestBroker_Down(t *testing.T) {
	b := NewBroker()
	b.SetDown(true)
	_, err := b.Dial(context.Background())
	assert.ErrorIs(t, err, ErrBrokerDown)

	b.SetDown(false)
	_, err = b.Dial(context.Background())
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Dial(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBroker_DrivesRealtimeClient(t *testing.T) {
	b := NewBroker()
	c := realtime.NewClient(b)
	defer c.Disconnect()

	got := make(chan realtime.Message, 1)
	c.Subscribe("/topic/alerts", func(msg realtime.Message) { got <- msg })

	connected := make(chan struct{})
	c.Connect(func() { close(connected) }, nil)
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("not connected")
	}

	require.NoError(t, c.Send("/topic/alerts", map[string]int{"id": 7}))
	select {
	case msg := <-got:
		assert.Equal(t, "/topic/alerts", msg.Topic)
		assert.JSONEq(t, `{"id":7}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}
