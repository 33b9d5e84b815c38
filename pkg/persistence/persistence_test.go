package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func exerciseService(t *testing.T, svc Service) {
	t.Helper()
	store := svc.NewStore("dashboard", "default", "snapshot")

	var got sample
	assert.ErrorIs(t, store.Load(&got), ErrNotExists)

	require.NoError(t, store.Save(sample{Name: "a", Items: []string{"x", "y"}}))
	require.NoError(t, store.Load(&got))
	assert.Equal(t, sample{Name: "a", Items: []string{"x", "y"}}, got)

	require.NoError(t, store.Save(sample{Name: "b"}))
	got = sample{}
	require.NoError(t, store.Load(&got))
	assert.Equal(t, "b", got.Name)

	other := svc.NewStore("dashboard", "other", "snapshot")
	assert.ErrorIs(t, other.Load(&got), ErrNotExists, "不同 id 互不影响")
}

func TestFileService(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	svc := NewFileService(dir)
	defer svc.Close()
	exerciseService(t, svc)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "不留下临时文件")
	assert.Equal(t, "dashboard_default_snapshot.json", entries[0].Name())
}

func TestFileStore_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p_i_t.json"), nil, 0o644))
	var got sample
	assert.ErrorIs(t, NewFileService(dir).NewStore("p", "i", "t").Load(&got), ErrNotExists)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p_i_t.json"), []byte("{oops"), 0o644))
	var got sample
	err := NewFileService(dir).NewStore("p", "i", "t").Load(&got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotExists)
	assert.Contains(t, err.Error(), "p:i:t")
}

func TestBadgerService_Disk(t *testing.T) {
	dir := t.TempDir()
	svc, err := OpenBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	exerciseService(t, svc)
	require.NoError(t, svc.Close())

	// 重新打开后数据仍在
	svc, err = OpenBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	defer svc.Close()
	var got sample
	require.NoError(t, svc.NewStore("dashboard", "default", "snapshot").Load(&got))
	assert.Equal(t, "b", got.Name)
}

func TestBadgerService_InMemory(t *testing.T) {
	svc, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer svc.Close()
	exerciseService(t, svc)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerOptions{})
	assert.Error(t, err)
}
