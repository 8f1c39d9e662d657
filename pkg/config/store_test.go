package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreSetGetPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore[SourceConfig](dir)
	require.NoError(t, err)

	cfg := SourceConfig{Name: "cam1", Plugin: "00000000-0000-0000-0000-000000000001", DropWhenBusy: true}
	require.NoError(t, store.Set("cam1", cfg))

	got, ok := store.Get("cam1")
	require.True(t, ok)
	require.Equal(t, cfg, got)

	reloaded, err := NewStore[SourceConfig](dir)
	require.NoError(t, err)
	got2, ok := reloaded.Get("cam1")
	require.True(t, ok)
	require.Equal(t, cfg, got2)
}

func TestStoreDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore[SourceConfig](dir)
	require.NoError(t, err)

	require.NoError(t, store.Set("cam1", SourceConfig{Name: "cam1"}))
	require.NoError(t, store.Delete("cam1"))

	_, ok := store.Get("cam1")
	require.False(t, ok)

	reloaded, err := NewStore[SourceConfig](dir)
	require.NoError(t, err)
	_, ok = reloaded.Get("cam1")
	require.False(t, ok)
}

func TestWatcherFiresOnWriteAndRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore[SourceConfig](dir)
	require.NoError(t, err)

	events := make(chan struct {
		id      string
		removed bool
	}, 4)
	watcher, err := NewWatcher(dir, func(id string, removed bool) {
		events <- struct {
			id      string
			removed bool
		}{id, removed}
	})
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, store.Set("cam1", SourceConfig{Name: "cam1"}))

	select {
	case ev := <-events:
		require.Equal(t, "cam1", ev.id)
		require.False(t, ev.removed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write event")
	}

	require.NoError(t, store.Delete("cam1"))

	// os.WriteFile in Set also reports a Write after the Create consumed
	// above; skip such change events until the removal arrives.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			require.Equal(t, "cam1", ev.id)
			if !ev.removed {
				continue
			}
			require.True(t, ev.removed)
		case <-timeout:
			t.Fatal("timed out waiting for remove event")
		}
		break
	}
}
