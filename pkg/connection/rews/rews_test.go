package rews_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealtodo/internal/fakeremote"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealtodo/pkg/connection/rews"
)

func newConn(s *fakeremote.Server, interval time.Duration) *rews.Connection[*gorillaws.Connection] {
	cfg := &connection.Config{
		BaseURL:   s.WSURL(),
		Namespace: "app",
		Database:  "todo",
		Timeout:   time.Second,
	}
	return rews.New(func() *gorillaws.Connection { return gorillaws.New(cfg) }, interval, nil)
}

func TestSendRedialsAfterServerDrop(t *testing.T) {
	s := fakeremote.NewServer("task")
	defer s.Close()
	ctx := context.Background()

	// A long interval leaves redialing to Send.
	conn := newConn(s, time.Hour)
	require.NoError(t, conn.Connect(ctx))
	defer conn.Close(ctx)

	_, err := conn.Send(ctx, connection.MethodPing)
	require.NoError(t, err)

	s.SetOffline(true)
	require.Eventually(t, func() bool {
		return conn.State() == rews.StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	_, err = conn.Send(ctx, connection.MethodPing)
	require.Error(t, err)
	assert.True(t, connection.IsTransient(err))

	s.SetOffline(false)
	_, err = conn.Send(ctx, connection.MethodPing)
	require.NoError(t, err)
	assert.Equal(t, rews.StateConnected, conn.State())
	assert.Len(t, s.Calls(connection.MethodUse), 2)
}

func TestConnectFailureIsNotFatal(t *testing.T) {
	s := fakeremote.NewServer("task")
	defer s.Close()
	ctx := context.Background()
	s.SetOffline(true)

	conn := newConn(s, 20*time.Millisecond)
	err := conn.Connect(ctx)
	require.ErrorIs(t, err, rews.ErrDisconnected)
	assert.True(t, connection.IsTransient(err))
	defer conn.Close(ctx)

	s.SetOffline(false)
	require.Eventually(t, func() bool {
		return conn.State() == rews.StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	_, err = conn.Send(ctx, connection.MethodPing)
	require.NoError(t, err)
}

func TestCloseStopsRedialing(t *testing.T) {
	s := fakeremote.NewServer("task")
	defer s.Close()
	ctx := context.Background()

	conn := newConn(s, 20*time.Millisecond)
	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))
	assert.Equal(t, rews.StateClosed, conn.State())

	_, err := conn.Send(ctx, connection.MethodPing)
	require.ErrorIs(t, err, connection.ErrClosed)

	uses := len(s.Calls(connection.MethodUse))
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, s.Calls(connection.MethodUse), uses)
}

func TestCloseWithoutConnect(t *testing.T) {
	s := fakeremote.NewServer("task")
	defer s.Close()
	ctx := context.Background()

	conn := newConn(s, 20*time.Millisecond)
	require.NoError(t, conn.Close(ctx))
	require.ErrorIs(t, conn.Connect(ctx), connection.ErrClosed)
}
