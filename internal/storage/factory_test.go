// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	mem, err := open(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	// Empty backend falls back to memory so dev runs need no config file.
	def, err := open(ctx, config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, def)

	sq, err := open(ctx, config.StorageConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "state.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, sq)
	require.NoError(t, sq.Close())

	_, err = open(ctx, config.StorageConfig{Backend: "dynamo"})
	assert.Error(t, err)
}

func TestOpenWrapsWithInstrumentation(t *testing.T) {
	store, err := Open(context.Background(), config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)

	// The wrapper must stay a drop-in Store.
	_, err = store.Insert(context.Background(), TableSessions, Entity{
		PartitionKey: SessionsPartition, RowKey: "s1", Value: []byte("{}"),
	})
	require.NoError(t, err)
	got, err := store.Get(context.Background(), TableSessions, SessionsPartition, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), got.Value)
	assert.NoError(t, store.Close())
}
