// SPDX-License-Identifier: MIT

package attendance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/bus"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/realtime"
	"github.com/chainpass/chainpass/internal/storage"
)

type fixture struct {
	svc  *Service
	sink *realtime.MemorySink
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		sink: realtime.NewMemorySink(),
		now:  time.Unix(1_700_000_000, 0),
	}
	f.svc = NewService(st, f.sink)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestEnsureJoinedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.EnsureJoined(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Empty(t, rec.EntryStatus, "joining alone never attests presence")
	assert.False(t, rec.ExitVerified)

	again, err := f.svc.EnsureJoined(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, rec, again)

	assert.Len(t, f.sink.ByTarget("attendanceUpdate"), 1, "re-join emits nothing")
}

func TestMarkEntryCreatesAndMerges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Straight to entry without a prior join.
	rec, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryPresent, rec.EntryStatus)
	assert.Equal(t, f.now.Unix(), rec.EntryAt)
	assert.False(t, rec.ExitVerified)

	// Joined first, then marked late.
	_, err = f.svc.EnsureJoined(ctx, "s1", "bob")
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Minute)
	rec, err = f.svc.MarkEntry(ctx, "s1", "bob", domain.EntryLate)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryLate, rec.EntryStatus)
	assert.Equal(t, f.now.Unix(), rec.EntryAt)

	_, err = f.svc.MarkEntry(ctx, "s1", "eve", "WANDERED_IN")
	assert.True(t, domain.IsCode(err, domain.CodeInvalidRequest))
}

func TestMarksAreFieldDisjoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Exit verification arriving before entry must not conjure entry state.
	rec, err := f.svc.MarkExitVerified(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.True(t, rec.ExitVerified)
	assert.Empty(t, rec.EntryStatus)

	rec, err = f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	assert.True(t, rec.ExitVerified, "entry merge preserves exit fields")
	assert.Equal(t, domain.EntryPresent, rec.EntryStatus)

	rec, err = f.svc.MarkEarlyLeave(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.True(t, rec.ExitVerified)
	assert.Equal(t, domain.EntryPresent, rec.EntryStatus)
	assert.Equal(t, f.now.Unix(), rec.EarlyLeaveAt)
}

func TestConcurrentMergesCommute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ops := []func() error{
		func() error { _, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent); return err },
		func() error { _, err := f.svc.MarkExitVerified(ctx, "s1", "alice"); return err },
		func() error { _, err := f.svc.MarkEarlyLeave(ctx, "s1", "alice"); return err },
	}
	errs := make([]error, len(ops))
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op func() error) {
			defer wg.Done()
			errs[i] = op()
		}(i, op)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rec, err := f.svc.Get(ctx, "s1", "alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.EntryPresent, rec.EntryStatus)
	assert.True(t, rec.ExitVerified)
	assert.NotZero(t, rec.EarlyLeaveAt)
}

func TestRealtimePayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	_, err = f.svc.MarkExitVerified(ctx, "s1", "alice")
	require.NoError(t, err)
	_, err = f.svc.MarkEarlyLeave(ctx, "s1", "bob")
	require.NoError(t, err)

	msgs := f.sink.ByTarget("attendanceUpdate")
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, "session:s1", m.Group)
		require.Len(t, m.Arguments, 1)
	}

	entry := msgs[0].Arguments[0].(realtime.AttendancePayload)
	assert.Equal(t, "alice", entry.StudentID)
	assert.Equal(t, domain.EntryPresent, entry.EntryStatus)

	exit := msgs[1].Arguments[0].(realtime.AttendancePayload)
	require.NotNil(t, exit.ExitVerified)
	assert.True(t, *exit.ExitVerified)

	leave := msgs[2].Arguments[0].(realtime.AttendancePayload)
	assert.Equal(t, "bob", leave.StudentID)
	assert.Equal(t, f.now.Unix(), leave.EarlyLeaveAt)
}

func TestEmitFailureDoesNotRollBackMutation(t *testing.T) {
	st := storage.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	// A bus publish against a dead context is the real failure path.
	svc := NewService(st, realtime.NewBusSink(bus.NewMemoryBus()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryPresent, rec.EntryStatus)

	got, err := svc.Get(context.Background(), "s1", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.EntryPresent, got.EntryStatus)
}

func TestGetMissingAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Get(ctx, "s1", "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := f.svc.EnsureJoined(ctx, "s1", id)
		require.NoError(t, err)
	}
	_, err = f.svc.EnsureJoined(ctx, "s2", "dave")
	require.NoError(t, err)

	recs, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "alice", recs[0].StudentID)
	assert.Equal(t, "bob", recs[1].StudentID)
	assert.Equal(t, "carol", recs[2].StudentID)
}

func TestFinalizeComputesStatusTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	_, err = f.svc.MarkExitVerified(ctx, "s1", "alice")
	require.NoError(t, err)

	_, err = f.svc.MarkEntry(ctx, "s1", "bob", domain.EntryLate)
	require.NoError(t, err)
	_, err = f.svc.MarkExitVerified(ctx, "s1", "bob")
	require.NoError(t, err)

	_, err = f.svc.MarkEntry(ctx, "s1", "carol", domain.EntryPresent)
	require.NoError(t, err)

	_, err = f.svc.MarkEarlyLeave(ctx, "s1", "dave")
	require.NoError(t, err)

	_, err = f.svc.EnsureJoined(ctx, "s1", "eve")
	require.NoError(t, err)

	recs, err := f.svc.Finalize(ctx, "s1")
	require.NoError(t, err)

	byStudent := make(map[string]domain.FinalStatus, len(recs))
	for _, rec := range recs {
		byStudent[rec.StudentID] = rec.FinalStatus
	}
	assert.Equal(t, domain.FinalPresent, byStudent["alice"])
	assert.Equal(t, domain.FinalLate, byStudent["bob"])
	assert.Equal(t, domain.FinalLeftEarly, byStudent["carol"])
	assert.Equal(t, domain.FinalEarlyLeave, byStudent["dave"])
	assert.Equal(t, domain.FinalAbsent, byStudent["eve"])
}

func TestFinalizeIsComputedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)

	recs, err := f.svc.Finalize(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.FinalLeftEarly, recs[0].FinalStatus)

	// A straggling exit mark after finalization must not flip the outcome.
	_, err = f.svc.MarkExitVerified(ctx, "s1", "alice")
	require.NoError(t, err)

	recs, err = f.svc.Finalize(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.FinalLeftEarly, recs[0].FinalStatus)
}

func TestWriteReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	_, err = f.svc.MarkExitVerified(ctx, "s1", "alice")
	require.NoError(t, err)
	_, err = f.svc.EnsureJoined(ctx, "s1", "bob")
	require.NoError(t, err)

	recs, err := f.svc.Finalize(ctx, "s1")
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := WriteReport(ctx, dir, "s1", recs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "s1.csv"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "studentId,entryStatus,entryAt,exitVerified,exitVerifiedAt,earlyLeaveAt,finalStatus", lines[0])
	assert.Contains(t, lines[1], "alice,PRESENT_ENTRY,")
	assert.Contains(t, lines[1], ",PRESENT")
	assert.Contains(t, lines[2], "bob,,")
	assert.Contains(t, lines[2], ",ABSENT")
}

func TestWriteReportGolden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkEntry(ctx, "s1", "alice", domain.EntryPresent)
	require.NoError(t, err)
	_, err = f.svc.MarkExitVerified(ctx, "s1", "alice")
	require.NoError(t, err)
	_, err = f.svc.MarkEarlyLeave(ctx, "s1", "carol")
	require.NoError(t, err)

	recs, err := f.svc.Finalize(ctx, "s1")
	require.NoError(t, err)

	path, err := WriteReport(ctx, t.TempDir(), "s1", recs)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "studentId,entryStatus,entryAt,exitVerified,exitVerifiedAt,earlyLeaveAt,finalStatus\n" +
		"alice,PRESENT_ENTRY,1700000000,true,1700000000,,PRESENT\n" +
		"carol,,,false,,1700000000,EARLY_LEAVE\n"
	if diff := cmp.Diff(want, string(raw)); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}
