package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustdesk/internal/transport"
)

func TestLoopback_DeliversQueuedTurnsThenCloses(t *testing.T) {
	ctx := context.Background()
	l := New(2)
	require.NoError(t, l.Push(ctx, transport.Turn{SubmitterID: 1, Text: "a"}))
	require.NoError(t, l.Push(ctx, transport.Turn{SubmitterID: 1, Text: "b"}))
	l.Close()

	turn, err := l.ReceiveTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", turn.Text)
	turn, err = l.ReceiveTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", turn.Text)

	_, err = l.ReceiveTurn(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, l.Push(ctx, transport.Turn{}), transport.ErrClosed)
}

func TestLoopback_ReceiveHonorsContext(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.ReceiveTurn(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopback_RecordsAndFailsDeliveries(t *testing.T) {
	ctx := context.Background()
	l := New(0)
	require.NoError(t, l.SendText(ctx, 5, "hello", transport.Affordance{Label: "x", Payload: "cancel"}))
	require.NoError(t, l.SendFile(ctx, 5, transport.FileRef{Kind: transport.FilePhoto, ID: "p"}, "cap"))

	msgs := l.Sent(5)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "photo:p", msgs[1].File.Token())

	boom := errors.New("unreachable")
	l.FailDeliveriesTo(6, boom)
	assert.ErrorIs(t, l.SendText(ctx, 6, "x"), boom)
	assert.Empty(t, l.Sent(6))

	l.FailDeliveriesTo(6, nil)
	require.NoError(t, l.SendText(ctx, 6, "x"))
	last, ok := l.Last(6)
	require.True(t, ok)
	assert.Equal(t, "x", last.Text)
}
