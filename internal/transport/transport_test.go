package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitDone polls req until it completes or the deadline passes.
func waitDone(t *testing.T, req Request) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		done, err := req.Test()
		require.NoError(t, err)
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("request did not complete")
}

func exchange(t *testing.T, a, b Transport) {
	t.Helper()
	ctx := context.Background()

	recv, err := b.Irecv(ctx, a.Rank(), 3)
	require.NoError(t, err)
	done, err := recv.Test()
	require.NoError(t, err)
	assert.False(t, done, "receive completed before any send")

	first, err := a.Isend(ctx, b.Rank(), 3, []byte("one"))
	require.NoError(t, err)
	waitDone(t, first)
	second, err := a.Isend(ctx, b.Rank(), 3, []byte("two"))
	require.NoError(t, err)
	waitDone(t, second)

	waitDone(t, recv)
	assert.Equal(t, []byte("one"), recv.Payload())

	next, err := b.Irecv(ctx, a.Rank(), 3)
	require.NoError(t, err)
	waitDone(t, next)
	assert.Equal(t, []byte("two"), next.Payload())

	// Other tags are separate queues.
	other, err := b.Irecv(ctx, a.Rank(), 4)
	require.NoError(t, err)
	done, err = other.Test()
	require.NoError(t, err)
	assert.False(t, done)
}

func TestHub(t *testing.T) {
	hub := NewHub(2)
	defer hub.Close()
	a, b := hub.Endpoint(0), hub.Endpoint(1)
	exchange(t, a, b)

	_, err := a.Isend(context.Background(), 7, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownPeer)
	_, err = a.Irecv(context.Background(), -1, 0)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestHubSendCopiesPayload(t *testing.T) {
	hub := NewHub(2)
	payload := []byte("abc")
	_, err := hub.Endpoint(0).Isend(context.Background(), 1, 0, payload)
	require.NoError(t, err)
	payload[0] = 'x'

	recv, err := hub.Endpoint(1).Irecv(context.Background(), 0, 0)
	require.NoError(t, err)
	waitDone(t, recv)
	assert.Equal(t, []byte("abc"), recv.Payload())
}

func TestMailboxClosedAndCancelled(t *testing.T) {
	mb := NewMailbox()
	require.NoError(t, mb.Deliver(1, 0, []byte("x")))
	assert.Equal(t, 1, mb.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	req := mb.Receive(ctx, 2, 0)
	cancel()
	_, err := req.Test()
	assert.ErrorIs(t, err, ErrTransportFailure)

	mb.Close()
	assert.ErrorIs(t, mb.Deliver(1, 0, nil), ErrTransportFailure)
	_, _, err = mb.Take(1, 0)
	assert.ErrorIs(t, err, ErrTransportFailure)
}

func newHTTPNode(t *testing.T, rank int) (*HTTP, *httptest.Server) {
	t.Helper()
	inbox := NewMailbox()
	r := chi.NewRouter()
	Mount(r, inbox)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewHTTP(rank, nil, inbox), srv
}

func TestHTTP(t *testing.T) {
	a, srvA := newHTTPNode(t, 0)
	b, srvB := newHTTPNode(t, 1)
	a.SetPeer(1, srvB.URL)
	b.SetPeer(0, srvA.URL)
	defer a.Close()
	defer b.Close()

	exchange(t, a, b)

	_, err := a.Isend(context.Background(), 5, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestHTTPSendFailure(t *testing.T) {
	a, _ := newHTTPNode(t, 0)
	dead := httptest.NewServer(chi.NewRouter())
	a.SetPeer(1, dead.URL)
	dead.Close()

	req, err := a.Isend(context.Background(), 1, 0, []byte("x"))
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		done, err := req.Test()
		if err != nil {
			assert.ErrorIs(t, err, ErrTransportFailure)
			assert.False(t, done)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("send to a dead peer never failed")
}

func TestHaloHandlerRejectsBadAddress(t *testing.T) {
	inbox := NewMailbox()
	r := chi.NewRouter()
	Mount(r, inbox)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/halo/abc/1", "application/octet-stream", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
	assert.Zero(t, inbox.Pending())
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewRedis(client, "run1", 0, 2)
	b := NewRedis(client, "run1", 1, 2)
	exchange(t, a, b)

	_, err = a.Isend(context.Background(), 2, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	// A leftover message is removed by Cleanup.
	_, err = a.Isend(context.Background(), 1, 9, []byte("stale"))
	require.NoError(t, err)
	assert.True(t, mr.Exists(Key("run1", 1, 0, 9)))
	require.NoError(t, Cleanup(context.Background(), client, "run1"))
	assert.False(t, mr.Exists(Key("run1", 1, 0, 9)))
}

func TestRedisServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = NewRedis(client, "r", 0, 2).Isend(context.Background(), 1, 0, []byte("x"))
	assert.ErrorIs(t, err, ErrTransportFailure)
}
