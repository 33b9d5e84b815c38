package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal", "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AppendAndRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, topic := range []string{"/topic/alerts", "/topic/trades", "/topic/alerts"} {
		_, err := j.Append(ctx, topic, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	all, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.JSONEq(t, `{"n":2}`, string(all[0].Payload), "最新的在前")
	assert.True(t, all[0].ReceivedAt.Equal(base.Add(2*time.Second)))
	assert.NotEmpty(t, all[0].ID)

	alerts, err := j.Recent(ctx, "/topic/alerts", 1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.JSONEq(t, `{"n":2}`, string(alerts[0].Payload))

	counts, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/topic/alerts": 2, "/topic/trades": 1}, counts)
}

func TestJournal_RecordUsesNowForZeroTime(t *testing.T) {
	j := openTemp(t)
	fixed := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	require.NoError(t, j.Record("/topic/positions", json.RawMessage(`[]`), time.Time{}))
	got, err := j.Recent(context.Background(), "/topic/positions", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ReceivedAt.Equal(fixed))
}

func TestJournal_RejectsBadInput(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	_, err := j.Append(ctx, "", json.RawMessage(`{}`), time.Now())
	assert.Error(t, err)
	_, err = j.Append(ctx, "/topic/x", json.RawMessage(`{oops`), time.Now())
	assert.Error(t, err)
}

func TestJournal_Prune(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	_, err := j.Append(ctx, "/topic/trades", json.RawMessage(`{}`), now.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = j.Append(ctx, "/topic/trades", json.RawMessage(`{}`), now)
	require.NoError(t, err)

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestJournal_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record("/topic/alerts", json.RawMessage(`{"id":1}`), time.Now()))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Recent(context.Background(), "/topic/alerts", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
