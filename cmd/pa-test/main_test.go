package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rk-labs/pulse/internal/bootstrap"
	"github.com/rk-labs/pulse/internal/pulsetest"
)

func TestRunPlaysUntilSIGTERM(t *testing.T) {
	t.Setenv("PULSE_COOKIE", filepath.Join(t.TempDir(), "cookie"))
	srv := pulsetest.NewServer(t, pulsetest.Missing(8192))

	var stderr bytes.Buffer
	done := make(chan int, 1)
	go func() { done <- run(&stderr, bootstrap.WithServer(srv.Addr)) }()

	data := srv.WaitReceived(0, 8192, 5*time.Second)
	assert.Equal(t, []byte{0xC8, 0x00, 0xC6, 0x00}, data[:4])

	// The tone continues where the last buffer ended.
	srv.Request(0, 4)
	data = srv.WaitReceived(0, 8196, 5*time.Second)
	assert.Len(t, data, 8196)

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGTERM))
	select {
	case code := <-done:
		assert.Equal(t, 143, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after SIGTERM")
	}
	assert.Equal(t, "\npa-test: signal 15; exiting...\n", stderr.String())
}

func TestRunStreamFailure(t *testing.T) {
	t.Setenv("PULSE_COOKIE", filepath.Join(t.TempDir(), "cookie"))
	srv := pulsetest.NewServer(t, pulsetest.Missing(2))

	var stderr bytes.Buffer
	done := make(chan int, 1)
	go func() { done <- run(&stderr, bootstrap.WithServer(srv.Addr)) }()

	srv.WaitReceived(0, 2, 5*time.Second)
	srv.Kill(0)
	select {
	case code := <-done:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the stream was killed")
	}
	assert.Equal(t, 1, strings.Count(stderr.String(), "\n"), "output %q", stderr.String())
	assert.True(t, strings.HasPrefix(stderr.String(), "pa-test: stream failed:"), "output %q", stderr.String())
}

func TestRunSetupFailure(t *testing.T) {
	var stderr bytes.Buffer
	code := run(&stderr, bootstrap.WithServer("unix:"+filepath.Join(t.TempDir(), "missing")))
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, strings.Count(stderr.String(), "\n"), "output %q", stderr.String())
	assert.True(t, strings.HasPrefix(stderr.String(), "failed to connect to pulseaudio server"), "output %q", stderr.String())
}
