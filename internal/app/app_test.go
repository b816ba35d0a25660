package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryApp_ServeAndStop(t *testing.T) {
	t.Parallel()

	app, err := NewRegistryApp(context.Background(), WithConfig(createValidTestConfig(t)))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Serve(ln) }()

	url := fmt.Sprintf("http://%s/health", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:gosec,noctx // test server on loopback
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, app.Stop(5*time.Second))

	select {
	case err := <-done:
		assert.NoError(t, err, "a graceful stop is not a serve error")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRegistryApp_StartFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	app, err := NewRegistryApp(context.Background(),
		WithConfig(createValidTestConfig(t)),
		WithAddress(busy.Addr().String()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	require.Error(t, app.Start())
}

func TestRegistryApp_StopWithoutStart(t *testing.T) {
	t.Parallel()

	app, err := NewRegistryApp(context.Background(), WithConfig(createValidTestConfig(t)))
	require.NoError(t, err)
	assert.NoError(t, app.Stop(time.Second))
	assert.Equal(t, ":5000", app.GetHTTPServer().Addr)
}
