// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderGetReturnsCopy(t *testing.T) {
	initial := Defaults()
	initial.Log.Level = "warn"
	holder := NewHolder(initial, NewLoader("", "test"), "")

	got := holder.Get()
	got.Log.Level = "debug"
	assert.Equal(t, "warn", holder.Get().Log.Level)
}

func TestHolderReloadSwapsConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: \"info\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: \"debug\"\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))
	assert.Equal(t, "debug", holder.Get().Log.Level)
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: \"info\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	for name, broken := range map[string]string{
		"unknown field":      "logLevel: debug\n",
		"type mismatch":      "chain:\n  defaultLength: \"four\"\n",
		"validation failure": "storage:\n  backend: \"cassandra\"\n",
	} {
		require.NoError(t, os.WriteFile(path, []byte(broken), 0o600), name)
		require.Error(t, holder.Reload(context.Background()), name)
		assert.Equal(t, "info", holder.Get().Log.Level, name)
	}
}

func TestHolderNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: \"info\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	// An unbuffered listener with no reader must not block the reload.
	holder.RegisterListener(make(chan AppConfig))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: \"debug\"\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, "debug", got.Log.Level)
	default:
		t.Fatal("listener did not receive reloaded config")
	}
}

func TestHolderWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: \"info\"\n")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))
	defer holder.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: \"debug\"\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for holder.Get().Log.Level != "debug" {
		select {
		case <-deadline:
			t.Fatal("watcher did not apply the config change")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestHolderWatcherDisabledWithoutPath(t *testing.T) {
	holder := NewHolder(Defaults(), NewLoader("", "test"), "")
	require.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
