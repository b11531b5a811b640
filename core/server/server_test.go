package server_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/server"
)

func TestNew_MissingAddress(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Config{}, nil)
	assert.ErrorIs(t, err, server.ErrMissingAddress)
}

func TestServer_RunAndShutdown(t *testing.T) {
	t.Parallel()

	srv, err := server.New(server.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	run := srv.Run(ctx, handler)
	done := make(chan error, 1)
	go func() { done <- run() }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "pong", body)

	assert.ErrorIs(t, srv.Run(ctx, handler)(), server.ErrServerAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
