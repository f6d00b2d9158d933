package journal

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rozgar/core/events"
	"rozgar/native/gig"
)

var client = gig.MustParseAddress("0xF67bF71D9Bb8c7B48994DE38b3FfBc7eEdAB2Bb8")

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestTimelineOrdersEntries(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.nowFn = func() time.Time { base = base.Add(time.Second); return base }

	created, err := j.Record(ctx, Entry{EventType: gig.EventTypeGigCreated, Stage: StageSubmitted, TxHash: "0xaa", Actor: client})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Zero(t, created.GigID)

	_, err = j.Record(ctx, Entry{EventType: gig.EventTypeGigCreated, Stage: StageConfirmed, TxHash: "0xaa", Actor: client, BlockNumber: 12})
	require.NoError(t, err)
	require.NoError(t, j.AssignGig(ctx, "0xaa", 7))
	_, err = j.Record(ctx, Entry{GigID: 7, EventType: gig.EventTypeGigAccepted, Stage: StageSubmitted, TxHash: "0xbb"})
	require.NoError(t, err)
	_, err = j.Record(ctx, Entry{GigID: 8, EventType: gig.EventTypeGigAccepted, Stage: StageSubmitted, TxHash: "0xcc"})
	require.NoError(t, err)

	timeline, err := j.Timeline(ctx, 7)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	require.Equal(t, StageSubmitted, timeline[0].Stage)
	require.Equal(t, StageConfirmed, timeline[1].Stage)
	require.EqualValues(t, 12, timeline[1].BlockNumber)
	require.Equal(t, client, timeline[0].Actor)
	require.Equal(t, gig.EventTypeGigAccepted, timeline[2].EventType)
	require.Equal(t, "Freelancer accepted the gig", timeline[2].Description())
	require.True(t, timeline[0].RecordedAt.Before(timeline[1].RecordedAt))
}

func TestPendingExcludesResolvedTransactions(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	for _, e := range []Entry{
		{GigID: 1, EventType: gig.EventTypeGigAccepted, Stage: StageSubmitted, TxHash: "0x01"},
		{GigID: 1, EventType: gig.EventTypeGigAccepted, Stage: StageConfirmed, TxHash: "0x01"},
		{GigID: 2, EventType: gig.EventTypeGigPaid, Stage: StageSubmitted, TxHash: "0x02"},
		{GigID: 3, EventType: gig.EventTypeGigWorkSubmitted, Stage: StageSubmitted, TxHash: "0x03"},
		{GigID: 3, EventType: gig.EventTypeGigWorkSubmitted, Stage: StageFailed, TxHash: "0x03", Detail: "Rejected"},
	} {
		_, err := j.Record(ctx, e)
		require.NoError(t, err)
	}

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "0x02", pending[0].TxHash)
}

func TestRecordValidates(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	_, err := j.Record(ctx, Entry{Stage: StageSubmitted})
	require.Error(t, err)
	_, err = j.Record(ctx, Entry{EventType: gig.EventTypeGigPaid, Stage: "lost"})
	require.Error(t, err)

	require.NoError(t, j.Close())
	_, err = j.Record(ctx, Entry{EventType: gig.EventTypeGigPaid, Stage: StageSubmitted})
	require.Error(t, err)
}

func TestInMemoryJournal(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Record(context.Background(), Entry{GigID: 4, EventType: gig.EventTypeGigPaid, Stage: StageConfirmed})
	require.NoError(t, err)
	timeline, err := j.Timeline(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
}

func TestSinkJournalsLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	sink := NewSink(j, nil)

	sink.Emit(events.Lifecycle{Type: gig.EventTypeGigCreated, Stage: events.StageSubmitted, Creation: true, TxHash: "0xfeed", Actor: client})
	sink.Emit(events.Lifecycle{Type: gig.EventTypeGigCreated, Stage: events.StageConfirmed, Creation: true, GigID: 5, TxHash: "0xfeed", Actor: client, BlockNumber: 3})
	sink.Emit(events.Lifecycle{Type: gig.EventTypeGigAccepted, Stage: events.StageFailed, GigID: 5, TxHash: "0xbeef", Detail: "Rejected"})

	timeline, err := j.Timeline(ctx, 5)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	require.Equal(t, StageSubmitted, timeline[0].Stage)
	require.Equal(t, StageFailed, timeline[2].Stage)
	require.Equal(t, "Rejected", timeline[2].Detail)
}

func TestSinkLogsDroppedEventWithAttributes(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	var buf bytes.Buffer
	sink := NewSink(j, slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Emit(events.Lifecycle{Type: gig.EventTypeGigAccepted, Stage: "pending", GigID: 5, TxHash: "0xdead", Actor: client})

	timeline, err := j.Timeline(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, timeline)
	out := buf.String()
	require.Contains(t, out, "journal record failed")
	require.Contains(t, out, "gigId=5")
	require.Contains(t, out, "txHash=0xdead")
	require.Contains(t, out, "stage=pending")
}

func TestEntryReceipt(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)

	created := Entry{ID: "c", EventType: gig.EventTypeGigCreated, Stage: StageSubmitted, TxHash: hash, Actor: client, Detail: "Logo"}
	receipt, err := created.Receipt()
	require.NoError(t, err)
	require.True(t, receipt.Creation)
	require.Equal(t, "Logo", receipt.Title)
	require.Equal(t, client, receipt.Submitter)
	require.Equal(t, hash, receipt.TxHash.Hex())

	paid := Entry{ID: "p", GigID: 9, EventType: gig.EventTypeGigPaid, Stage: StageSubmitted, TxHash: hash}
	receipt, err = paid.Receipt()
	require.NoError(t, err)
	require.False(t, receipt.Creation)
	require.Equal(t, gig.ActionApproveAndPay, receipt.Action)
	require.EqualValues(t, 9, receipt.GigID)

	_, err = Entry{ID: "x", EventType: gig.EventTypeGigPaid, Stage: StageConfirmed, TxHash: hash}.Receipt()
	require.Error(t, err)
	_, err = Entry{ID: "y", EventType: gig.EventTypeGigPaid, Stage: StageSubmitted, TxHash: "0x02"}.Receipt()
	require.Error(t, err)
	_, err = Entry{ID: "z", EventType: "gig.disputed", Stage: StageSubmitted, TxHash: hash}.Receipt()
	require.Error(t, err)
}
