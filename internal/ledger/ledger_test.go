package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wfprobe/internal/testutil"
)

// createTestLedger creates a new in-memory ledger on a fake clock.
func createTestLedger(t *testing.T) (*Ledger, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock()
	l, err := OpenMemory(WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, clk
}

var ignoreTimes = cmpopts.IgnoreFields(Resource{}, "CreatedAt")

func TestRecord_AssignsSeqInOrder(t *testing.T) {
	ctx := context.Background()
	l, _ := createTestLedger(t)

	a, err := l.Record(ctx, Resource{Kind: KindIssue, ID: "12", Case: "labels/applies-marker"})
	require.NoError(t, err)
	b, err := l.Record(ctx, Resource{Kind: KindPullRequest, ID: "13", BranchName: "test/issue-12-x"})
	require.NoError(t, err)

	assert.Less(t, a.Seq, b.Seq)

	all, err := l.List(ctx, "")
	require.NoError(t, err)
	want := []Resource{
		{Seq: a.Seq, Kind: KindIssue, ID: "12", Case: "labels/applies-marker"},
		{Seq: b.Seq, Kind: KindPullRequest, ID: "13", BranchName: "test/issue-12-x"},
	}
	if diff := cmp.Diff(want, all, ignoreTimes); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_DuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	l, clk := createTestLedger(t)

	first, err := l.Record(ctx, Resource{Kind: KindBranch, ID: "test/b"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	again, err := l.Record(ctx, Resource{Kind: KindBranch, ID: "test/b", Case: "other"})
	require.NoError(t, err)

	assert.Equal(t, first, again)

	branches, err := l.List(ctx, KindBranch)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}

func TestRecord_RequiresKindAndID(t *testing.T) {
	l, _ := createTestLedger(t)
	_, err := l.Record(context.Background(), Resource{Kind: KindIssue})
	assert.Error(t, err)
}

func TestRecord_RejectsUnknownKind(t *testing.T) {
	l, _ := createTestLedger(t)
	_, err := l.Record(context.Background(), Resource{Kind: "label", ID: "x"})
	assert.Error(t, err)
}

func TestRecord_UsesClock(t *testing.T) {
	l, clk := createTestLedger(t)
	r, err := l.Record(context.Background(), Resource{Kind: KindMilestone, ID: "3"})
	require.NoError(t, err)
	assert.True(t, r.CreatedAt.Equal(clk.Now()))
}

func TestPending_MostRecentFirstAndSkipsSettled(t *testing.T) {
	ctx := context.Background()
	l, _ := createTestLedger(t)

	var seqs []int64
	for _, id := range []string{"1", "2", "3"} {
		r, err := l.Record(ctx, Resource{Kind: KindIssue, ID: id})
		require.NoError(t, err)
		seqs = append(seqs, r.Seq)
	}

	require.NoError(t, l.RecordOutcome(ctx, seqs[1], StatusClosed, ""))
	require.NoError(t, l.RecordOutcome(ctx, seqs[2], StatusFailed, "boom"))

	pending, err := l.Pending(ctx, KindIssue)
	require.NoError(t, err)

	ids := make([]string, 0, len(pending))
	for _, r := range pending {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"3", "1"}, ids)
}

func TestSettledAndOutcomes(t *testing.T) {
	ctx := context.Background()
	l, _ := createTestLedger(t)

	r, err := l.Record(ctx, Resource{Kind: KindBranch, ID: "test/x"})
	require.NoError(t, err)

	settled, err := l.Settled(ctx, r.Seq)
	require.NoError(t, err)
	assert.False(t, settled)

	require.NoError(t, l.RecordOutcome(ctx, r.Seq, StatusFailed, "HTTP 502"))
	require.NoError(t, l.RecordOutcome(ctx, r.Seq, StatusAlreadyGone, "reference does not exist"))

	settled, err = l.Settled(ctx, r.Seq)
	require.NoError(t, err)
	assert.True(t, settled)

	outcomes, err := l.Outcomes(ctx, r.Seq)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, StatusAlreadyGone, outcomes[1].Status)
}

func TestRecordOutcome_UnknownResource(t *testing.T) {
	l, _ := createTestLedger(t)
	err := l.RecordOutcome(context.Background(), 999, StatusClosed, "")
	assert.Error(t, err, "foreign key should reject unknown resource")
}

func TestStatus_Succeeded(t *testing.T) {
	assert.True(t, StatusClosed.Succeeded())
	assert.True(t, StatusDeleted.Succeeded())
	assert.True(t, StatusAlreadyGone.Succeeded())
	assert.False(t, StatusFailed.Succeeded())
}

func TestResource_Number(t *testing.T) {
	n, err := Resource{Kind: KindIssue, ID: "42"}.Number()
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Resource{Kind: KindBranch, ID: "test/x"}.Number()
	assert.Error(t, err)
}

func TestOpen_FileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Record(ctx, Resource{Kind: KindIssue, ID: "1"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	var version int
	require.NoError(t, l.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	all, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
