package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ScanID string
}

func TestSendRecvCommitRoundTrip(t *testing.T) {
	q, err := Open(t.TempDir(), 5)
	require.NoError(t, err)

	sender, err := q.OpenSender()
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := q.OpenReceiver()
	require.NoError(t, err)
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sender.Send(ctx, testItem{ScanID: "abc"}))

	handle, err := receiver.Recv(ctx)
	require.NoError(t, err)

	var got testItem
	require.NoError(t, handle.Decode(&got))
	assert.Equal(t, "abc", got.ScanID)

	require.NoError(t, handle.Commit())
}

func TestOpenSenderTwiceFails(t *testing.T) {
	q, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	s1, err := q.OpenSender()
	require.NoError(t, err)
	defer s1.Close()

	_, err = q.OpenSender()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOpenReceiverTwiceFails(t *testing.T) {
	q, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	r1, err := q.OpenReceiver()
	require.NoError(t, err)
	defer r1.Close()

	_, err = q.OpenReceiver()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestUncommittedHandleRedeliversOnReopen(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 5)
	require.NoError(t, err)

	sender, err := q.OpenSender()
	require.NoError(t, err)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx, testItem{ScanID: "redeliver-me"}))

	receiver, err := q.OpenReceiver()
	require.NoError(t, err)

	handle, err := receiver.Recv(ctx)
	require.NoError(t, err)
	var got testItem
	require.NoError(t, handle.Decode(&got))
	assert.Equal(t, "redeliver-me", got.ScanID)
	// Deliberately never commit, then close without committing.
	require.NoError(t, receiver.Close())

	q2, err := Open(dir, 5)
	require.NoError(t, err)
	receiver2, err := q2.OpenReceiver()
	require.NoError(t, err)
	defer receiver2.Close()

	handle2, err := receiver2.Recv(ctx)
	require.NoError(t, err)
	var got2 testItem
	require.NoError(t, handle2.Decode(&got2))
	assert.Equal(t, "redeliver-me", got2.ScanID, "uncommitted item must redeliver")
	require.NoError(t, handle2.Commit())
}

func TestSendBlocksAtCapacity(t *testing.T) {
	q, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	sender, err := q.OpenSender()
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := q.OpenReceiver()
	require.NoError(t, err)
	defer receiver.Close()

	ctx := context.Background()
	require.NoError(t, sender.Send(ctx, testItem{ScanID: "one"}))

	blockedCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = sender.Send(blockedCtx, testItem{ScanID: "two"})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "Send must block while at capacity")

	handle, err := receiver.Recv(context.Background())
	require.NoError(t, err)
	require.NoError(t, handle.Commit())

	require.NoError(t, sender.Send(context.Background(), testItem{ScanID: "two"}))
}

func TestRecvBlocksWhenEmpty(t *testing.T) {
	q, err := Open(t.TempDir(), 5)
	require.NoError(t, err)

	receiver, err := q.OpenReceiver()
	require.NoError(t, err)
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err = receiver.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockFilesPresentWhileOpenAbsentAfterClose(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 5)
	require.NoError(t, err)

	sendLockPath := filepath.Join(dir, "send.lock")
	recvLockPath := filepath.Join(dir, "recv.lock")

	sender, err := q.OpenSender()
	require.NoError(t, err)
	_, err = os.Stat(sendLockPath)
	require.NoError(t, err, "send.lock must exist while a Sender is open")

	receiver, err := q.OpenReceiver()
	require.NoError(t, err)
	_, err = os.Stat(recvLockPath)
	require.NoError(t, err, "recv.lock must exist while a Receiver is open")

	require.NoError(t, sender.Close())
	_, err = os.Stat(sendLockPath)
	assert.True(t, os.IsNotExist(err), "send.lock must be removed once the Sender is closed")

	require.NoError(t, receiver.Close())
	_, err = os.Stat(recvLockPath)
	assert.True(t, os.IsNotExist(err), "recv.lock must be removed once the Receiver is closed")
}

func TestFIFOOrdering(t *testing.T) {
	q, err := Open(t.TempDir(), 10)
	require.NoError(t, err)

	sender, err := q.OpenSender()
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := q.OpenReceiver()
	require.NoError(t, err)
	defer receiver.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sender.Send(ctx, testItem{ScanID: id}))
	}

	for _, want := range []string{"a", "b", "c"} {
		handle, err := receiver.Recv(ctx)
		require.NoError(t, err)
		var got testItem
		require.NoError(t, handle.Decode(&got))
		assert.Equal(t, want, got.ScanID)
		require.NoError(t, handle.Commit())
	}
}
