package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type contextKey struct{}

func TestNewHTTPServer(t *testing.T) {
	ctx := context.WithValue(context.Background(), contextKey{}, "door")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	requestValues := make(chan interface{}, 1)
	server := newHTTPServer(ctx, listener.Addr().String(), 50*time.Millisecond, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestValues <- r.Context().Value(contextKey{})
	}))
	go server.Serve(listener)
	defer server.Close()

	t.Run("RequestContext", func(t *testing.T) {
		resp, err := http.Get("http://" + listener.Addr().String() + "/")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, "door", <-requestValues)
	})

	t.Run("SlowRequestHeaders", func(t *testing.T) {
		// A client that never finishes sending its request headers
		// gets disconnected once the read header timeout expires.
		conn, err := net.Dial("tcp", listener.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: door\r\n"))
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		_, err = io.ReadAll(conn)
		var netErr net.Error
		if err != nil {
			require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "Connection was not closed by the server")
		}
	})
}
