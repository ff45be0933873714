// SPDX-License-Identifier: MIT

package anticheat

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/storage"
)

var rowKeyPattern = regexp.MustCompile(`^\d{20}_[A-Za-z0-9_-]+$`)

func TestNewRowKeySortsByTime(t *testing.T) {
	early := NewRowKey(time.Unix(1_700_000_000, 0))
	late := NewRowKey(time.Unix(1_700_000_001, 0))

	assert.Regexp(t, rowKeyPattern, early)
	assert.Less(t, early, late, "later seconds sort after earlier ones")

	a := NewRowKey(time.Unix(1_700_000_000, 0))
	b := NewRowKey(time.Unix(1_700_000_000, 0))
	assert.NotEqual(t, a, b, "same-second writers get distinct keys")
}

func TestAppendAndList(t *testing.T) {
	st := storage.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	rec := NewRecorder(st)
	now := time.Unix(1_700_000_000, 0)
	rec.now = func() time.Time { return now }
	ctx := context.Background()

	rec.Append(ctx, domain.ScanLog{
		SessionID: "s1",
		Flow:      domain.FlowEntryChain,
		TokenID:   "tok-1",
		ScannerID: "bob",
		HolderID:  "alice",
		Result:    domain.ScanSuccess,
	})
	now = now.Add(2 * time.Second)
	rec.Append(ctx, domain.ScanLog{
		SessionID: "s1",
		Flow:      domain.FlowEntryChain,
		TokenID:   "tok-1",
		ScannerID: "carol",
		Result:    domain.ScanTokenInvalid,
		Error:     "token already used",
	})
	rec.Append(ctx, domain.ScanLog{
		SessionID: "s2",
		Flow:      domain.FlowJoin,
		ScannerID: "dave",
		Result:    domain.ScanSuccess,
	})

	entries, err := rec.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].ScannerID)
	assert.Equal(t, domain.ScanSuccess, entries[0].Result)
	assert.Equal(t, int64(1_700_000_000), entries[0].ScannedAt)
	assert.Equal(t, "carol", entries[1].ScannerID)
	assert.Equal(t, "token already used", entries[1].Error)
	assert.Regexp(t, rowKeyPattern, entries[0].RowKey)

	other, err := rec.List(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

type insertFailStore struct {
	storage.Store
}

func (s insertFailStore) Insert(context.Context, string, storage.Entity) (string, error) {
	return "", errors.New("backend down")
}

func TestAppendFailureNeverPropagates(t *testing.T) {
	st := storage.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	rec := NewRecorder(insertFailStore{Store: st})

	assert.NotPanics(t, func() {
		rec.Append(context.Background(), domain.ScanLog{
			SessionID: "s1",
			Flow:      domain.FlowEntryChain,
			Result:    domain.ScanError,
		})
	})

	entries, err := rec.List(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
