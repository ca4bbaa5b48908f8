package persistence_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"BlueLedger/internal/core"
	"BlueLedger/internal/event"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/persistence"
	"BlueLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a02")
)

// runCommands applies n admin commands, the last one rejected, and returns
// the core outputs.
func runCommands(t *testing.T, c *core.DeterministicCore, out chan core.CoreOutput, n int) []core.CoreOutput {
	t.Helper()
	for i := 0; i < n; i++ {
		caller := owner
		if i == n-1 {
			caller = alice
		}
		cmd := &event.EnableLltv{
			Meta: event.Meta{Key: fmt.Sprintf("lltv-%d", i), Seq: int64(i), Time: 1_700_000_000, Caller: caller},
			Lltv: fpmath.Wad(uint64(50+i), 2),
		}
		c.ProcessEvent(cmd)
	}
	outputs := make([]core.CoreOutput, 0, n)
	for len(outputs) < n {
		outputs = append(outputs, <-out)
	}
	return outputs
}

func newCore(out chan core.CoreOutput) *core.DeterministicCore {
	opts := core.DefaultOptions()
	opts.Owner = owner
	return core.NewDeterministicCore(opts, out, nil, nil, nil)
}

func TestNewEventRow(t *testing.T) {
	out := make(chan core.CoreOutput, 8)
	outputs := runCommands(t, newCore(out), out, 2)

	ok := persistence.FromCoreOutput(outputs[0])
	require.Equal(t, int64(0), ok.EventRow.Sequence)
	require.Equal(t, "enable_lltv", ok.EventRow.CommandType)
	require.Equal(t, "lltv-0", ok.EventRow.IdempotencyKey)
	require.False(t, ok.EventRow.Rejected)
	require.Nil(t, ok.EventRow.Error)
	require.Len(t, ok.EventRow.StateHash, 32)

	rejected := persistence.FromCoreOutput(outputs[1])
	require.True(t, rejected.EventRow.Rejected)
	require.NotNil(t, rejected.EventRow.Error)
	require.Equal(t, ok.EventRow.StateHash, rejected.EventRow.PrevHash)

	cmd, err := rejected.EventRow.Command()
	require.NoError(t, err)
	require.Equal(t, event.CommandTypeEnableLltv, cmd.CommandType())
	require.Equal(t, alice, cmd.Sender())
}

func TestEventRowUnknownCommandType(t *testing.T) {
	_, err := persistence.EventRow{Sequence: 7, CommandType: "open_position"}.Command()
	require.Error(t, err)
}

func TestEventLogRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	out := make(chan core.CoreOutput, 16)
	live := newCore(out)
	outputs := runCommands(t, live, out, 4)

	in := make(chan persistence.CoreOutput, len(outputs))
	for _, o := range outputs {
		in <- persistence.FromCoreOutput(o)
	}
	close(in)
	worker := persistence.NewPersistenceWorker(db, in, 2, time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	snapMgr := persistence.NewSnapshotManager(db)
	head, err := snapMgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), head)

	rows, err := snapMgr.LoadEventsFrom(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// Replaying the stored payloads reproduces every state hash.
	replica := newCore(nil)
	for _, row := range rows {
		cmd, err := row.Command()
		require.NoError(t, err)
		replica.ProcessEvent(cmd)
		hash := replica.GetStateHash()
		require.Equal(t, row.StateHash, hash[:], "sequence %d", row.Sequence)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("enable_lltv", "lltv-1")
	require.NoError(t, err)
	require.False(t, dup, "inactive checker never reports duplicates")

	checker.SetActive(true)
	dup, err = checker.IsDuplicate("enable_lltv", "lltv-1")
	require.NoError(t, err)
	require.True(t, dup)
	dup, err = checker.IsDuplicate("enable_lltv", "lltv-99")
	require.NoError(t, err)
	require.False(t, dup)
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db)

	none, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, none)

	out := make(chan core.CoreOutput, 16)
	live := newCore(out)
	runCommands(t, live, out, 3)

	snap := live.CreateSnapshotState()
	size, err := snapMgr.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	require.Positive(t, size)

	// Unverified snapshots are not loaded.
	none, err = snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, none)

	require.NoError(t, snapMgr.MarkVerified(ctx, snap.Sequence))
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, snap.Sequence, loaded.Sequence)

	restored := newCore(nil)
	require.NoError(t, restored.RestoreFromSnapshot(loaded))
	require.Equal(t, live.GetStateHash(), restored.GetStateHash())
	require.Equal(t, live.GetSequence(), restored.GetSequence())
}
