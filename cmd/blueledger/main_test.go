package main

import (
	"bytes"
	"testing"

	"BlueLedger/internal/core"
	"BlueLedger/internal/event"
	"BlueLedger/internal/ingestion"
	"BlueLedger/internal/observability"
	"BlueLedger/internal/persistence"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "replay", "migrate", "submit", "market", "health", "verify"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, cmd.Name())
	}

	up, _, err := root.Find([]string{"migrate", "up"})
	require.NoError(t, err)
	require.Equal(t, "up", up.Name())
}

func TestClientCommandsValidateArgs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"health", "0x01"})
	require.Error(t, root.Execute())
}

func TestBridgeSkipsReplayedOutputs(t *testing.T) {
	in := make(chan core.CoreOutput, 4)
	persistOut := make(chan persistence.CoreOutput, 4)
	publishOut := make(chan ingestion.PublishableRecord, 4)
	health := observability.NewHealthChecker()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	for seq := int64(0); seq < 3; seq++ {
		in <- core.CoreOutput{Envelope: &event.EventEnvelope{
			Sequence:       seq,
			CommandType:    event.CommandTypeSetOwner,
			IdempotencyKey: "k",
		}}
	}
	close(in)

	bridgeCoreOutputs(in, persistOut, publishOut, 1, health, metrics, zerolog.Nop())

	var persisted []int64
	for out := range persistOut {
		persisted = append(persisted, out.EventRow.Sequence)
	}
	require.Equal(t, []int64{2}, persisted)

	_, open := <-publishOut
	require.False(t, open)
}
