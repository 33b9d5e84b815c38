package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/sentinel/internal/domain"
	"github.com/betbot/sentinel/internal/journal"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/ratelimit"
	"github.com/betbot/sentinel/pkg/realtime"
	"github.com/betbot/sentinel/pkg/realtime/memory"
)

type fakeAck struct {
	ids []int64
	err error
}

func (f *fakeAck) Acknowledge(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

type fixture struct {
	broker  *memory.Broker
	client  *realtime.Client
	store   *state.Store
	journal *journal.Journal
	ack     *fakeAck
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	broker := memory.NewBroker()
	client := realtime.NewClient(broker)
	t.Cleanup(client.Disconnect)

	f := &fixture{
		broker:  broker,
		client:  client,
		store:   state.NewStore(),
		journal: j,
		ack:     &fakeAck{},
	}
	f.handler = New(Deps{
		Realtime:     client,
		Store:        f.store,
		Journal:      j,
		Acknowledger: f.ack,
		Debug:        true,
	}).Router()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(method, target, r))
	return w
}

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/debug/vars", "").Code)
}

func TestServer_Status(t *testing.T) {
	f := newFixture(t)
	f.store.SetAlerts([]domain.Alert{{ID: 1, Severity: domain.SeverityHigh}})
	f.client.Subscribe("/topic/alerts", func(realtime.Message) {})
	_, err := f.journal.Append(context.Background(), "/topic/alerts", json.RawMessage(`{}`), time.Now())
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Alerts)
	assert.Equal(t, "HIGH", resp.RiskLevel)
	assert.Equal(t, "disconnected", resp.Realtime.State)
	assert.Equal(t, []string{"/topic/alerts"}, resp.Realtime.Topics)
	assert.Equal(t, int64(1), resp.JournalCounts["/topic/alerts"])
}

func TestServer_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.store.SetPositions([]domain.Position{{ID: 1, Trader: "a", Symbol: "X", Quantity: -3}})

	w := f.do(t, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "300", snap.Metrics.TotalExposure.String())
}

func TestServer_Journal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, topic := range []string{"/topic/alerts", "/topic/trades", "/topic/trades"} {
		_, err := f.journal.Append(ctx, topic, json.RawMessage(`{"x":1}`), time.Now())
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/journal?topic=/topic/trades&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "/topic/trades", entries[0].Topic)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/journal?limit=abc", "").Code)
}

func TestServer_JournalDisabled(t *testing.T) {
	h := New(Deps{Store: state.NewStore()}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Acknowledge(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/alerts/42/acknowledge", "").Code)
	assert.Equal(t, []int64{42}, f.ack.ids)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/alerts/x/acknowledge", "").Code)

	f.ack.err = errors.New("upstream 404")
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/alerts/1/acknowledge", "").Code)
}

func TestServer_Publish(t *testing.T) {
	f := newFixture(t)

	got := make(chan realtime.Message, 1)
	f.client.Subscribe("/topic/trades", func(msg realtime.Message) { got <- msg })
	f.client.Connect(nil, nil)
	require.Eventually(t, f.client.IsConnected, time.Second, 5*time.Millisecond)

	w := f.do(t, http.MethodPost, "/api/publish?topic=/topic/trades", `{"id": 3}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"ok":true,"sent":true}`, w.Body.String())

	select {
	case msg := <-got:
		assert.JSONEq(t, `{"id":3}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/publish", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/publish?topic=/topic/x", `{bad`).Code)
}

func TestServer_WritesAreRateLimited(t *testing.T) {
	ack := &fakeAck{}
	h := New(Deps{
		Store:        state.NewStore(),
		Acknowledger: ack,
		WriteLimit:   ratelimit.NewTokenBucket(1, 0),
	}).Router()

	post := func() int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/alerts/5/acknowledge", nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
	assert.Equal(t, []int64{5}, ack.ids)

	// 读接口不受影响
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	f := newFixture(t)
	srv := New(Deps{Store: f.store, Realtime: f.client})

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := srv.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr.String() + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
