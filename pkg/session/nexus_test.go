package session

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDispatcher(_ context.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return bytes.ToUpper(out), nil
}

func newLoopbackPair(t *testing.T) (*Nexus, *Nexus, func()) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	cfg := DefaultConfig()
	client := New(cfg, echoDispatcher, nil, nil)
	server := New(cfg, echoDispatcher, nil, nil)

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.AcceptLogin(context.Background(), "t1", serverConn, serverConn)
	}()
	go func() {
		errCh <- client.Login(context.Background(), "t1", clientConn, clientConn, Terminus{UUID: uuid.New()})
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errCh)
	}

	return client, server, func() {
		client.Close()
		server.Close()
		_ = clientConn.Close()
		_ = serverConn.Close()
	}
}

func TestNexus_LoginEstablishesSession(t *testing.T) {
	client, server, cleanup := newLoopbackPair(t)
	defer cleanup()

	assert.Equal(t, LoggedIn, client.State())
	assert.Equal(t, LoggedIn, server.State())
}

func TestNexus_SubmitRoundTrip(t *testing.T) {
	client, _, cleanup := newLoopbackPair(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := client.Submit(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(res.Payload))
}

func TestNexus_DumpStatsReflectsNegotiatedOptions(t *testing.T) {
	client, _, cleanup := newLoopbackPair(t)
	defer cleanup()

	stats := client.DumpStats()
	assert.Equal(t, "LoggedIn", stats.State)
	assert.Equal(t, 1, stats.TransportsUp)
	assert.NotEmpty(t, stats.NegotiatedOptions["queueDepth"])
}

func TestNexus_MultipleSubmitsOutOfOrderArrival(t *testing.T) {
	client, _, cleanup := newLoopbackPair(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type out struct {
		payload string
		err     error
	}
	results := make(chan out, 3)
	for _, p := range []string{"a", "b", "c"} {
		p := p
		go func() {
			res, err := client.Submit(ctx, []byte(p))
			if err != nil {
				results <- out{err: err}
				return
			}
			results <- out{payload: string(res.Payload)}
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		r := <-results
		require.NoError(t, r.err)
		seen[r.payload] = true
	}
	assert.True(t, seen["A"])
	assert.True(t, seen["B"])
	assert.True(t, seen["C"])
}
