// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/token"
)

func TestLateEntryStartScanRotate(t *testing.T) {
	f := newFixture(t, Config{DefaultOwnerTransfer: true})
	ctx := context.Background()

	sess, _, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)

	live, err := f.svc.StartLateEntry(ctx, sess.SessionID, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenLateEntry, live.Type)
	assert.True(t, live.SingleUse)
	assert.Equal(t, f.now.Add(60*time.Second).Unix(), live.Exp)

	got, err := f.svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.True(t, got.LateEntryActive)
	assert.Equal(t, live.TokenID, got.CurrentLateTokenID)
	assert.Equal(t, live.TokenID, CurrentRotatingToken(got, domain.TokenLateEntry))

	// One student spends the window's token; the next one loses.
	_, err = f.tokens.Consume(ctx, sess.SessionID, live.TokenID, "")
	require.NoError(t, err)
	_, err = f.tokens.Consume(ctx, sess.SessionID, live.TokenID, "")
	assert.True(t, domain.IsCode(err, domain.CodeTokenAlreadyUsed))

	next, err := f.svc.RotateLateEntry(ctx, sess.SessionID, "t1")
	require.NoError(t, err)
	assert.NotEqual(t, live.TokenID, next.TokenID)

	got, err = f.svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, next.TokenID, got.CurrentLateTokenID, "cache invalidated on rotate")
}

func TestRotateRevokesDisplacedToken(t *testing.T) {
	f := newFixture(t, Config{DefaultOwnerTransfer: true})
	ctx := context.Background()

	sess, _, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	old, err := f.svc.StartEarlyLeave(ctx, sess.SessionID, "t1")
	require.NoError(t, err)

	_, err = f.svc.RotateEarlyLeave(ctx, sess.SessionID, "t1")
	require.NoError(t, err)

	v, err := f.tokens.Validate(ctx, sess.SessionID, old.TokenID)
	require.NoError(t, err)
	assert.Equal(t, token.VerdictRevoked, v)
}

func TestStopClearsStateAndRevokes(t *testing.T) {
	f := newFixture(t, Config{DefaultOwnerTransfer: true})
	ctx := context.Background()

	sess, _, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	live, err := f.svc.StartLateEntry(ctx, sess.SessionID, "t1")
	require.NoError(t, err)

	require.NoError(t, f.svc.StopLateEntry(ctx, sess.SessionID, "t1"))

	got, err := f.svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.False(t, got.LateEntryActive)
	assert.Empty(t, got.CurrentLateTokenID)
	assert.Empty(t, CurrentRotatingToken(got, domain.TokenLateEntry))

	v, err := f.tokens.Validate(ctx, sess.SessionID, live.TokenID)
	require.NoError(t, err)
	assert.Equal(t, token.VerdictRevoked, v)
}

func TestRotationGuards(t *testing.T) {
	f := newFixture(t, Config{DefaultOwnerTransfer: true})
	ctx := context.Background()

	sess, _, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = f.svc.RotateLateEntry(ctx, sess.SessionID, "t1")
	assert.True(t, domain.IsCode(err, domain.CodeInvalidRequest), "rotate before start")

	_, err = f.svc.StartLateEntry(ctx, sess.SessionID, "intruder")
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))

	_, err = f.svc.End(ctx, sess.SessionID, "t1")
	require.NoError(t, err)
	_, err = f.svc.StartLateEntry(ctx, sess.SessionID, "t1")
	assert.True(t, domain.IsCode(err, domain.CodeSessionEnded))

	// The flows are independent toggles.
	sess2, _, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.svc.StartLateEntry(ctx, sess2.SessionID, "t1")
	require.NoError(t, err)
	_, err = f.svc.RotateEarlyLeave(ctx, sess2.SessionID, "t1")
	assert.True(t, domain.IsCode(err, domain.CodeInvalidRequest))
}

func TestStartWhileActiveRotates(t *testing.T) {
	f := newFixture(t, Config{DefaultOwnerTransfer: true})
	ctx := context.Background()

	sess, _, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)

	first, err := f.svc.StartLateEntry(ctx, sess.SessionID, "t1")
	require.NoError(t, err)
	second, err := f.svc.StartLateEntry(ctx, sess.SessionID, "t1")
	require.NoError(t, err)
	assert.NotEqual(t, first.TokenID, second.TokenID)

	v, err := f.tokens.Validate(ctx, sess.SessionID, first.TokenID)
	require.NoError(t, err)
	assert.Equal(t, token.VerdictRevoked, v)

	got, err := f.svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, second.TokenID, got.CurrentLateTokenID)
}
