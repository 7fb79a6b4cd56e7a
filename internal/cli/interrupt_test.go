package cli

import (
	"bytes"
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptHandlerDefaults(t *testing.T) {
	h := NewInterruptHandler(nil)
	assert.NotNil(t, h.writer)
	assert.False(t, h.WasInterrupted())
}

func TestShowInterruptMessage(t *testing.T) {
	var buf bytes.Buffer
	h := NewInterruptHandler(&buf)
	h.showProgress = true

	h.showInterruptMessage()

	out := buf.String()
	assert.Contains(t, out, "Scan interrupted!")
	assert.Contains(t, out, "Progress has been saved")
}

func TestHandleInterruptsCancelsContext(t *testing.T) {
	var buf bytes.Buffer
	h := NewInterruptHandler(&buf)

	ctx := h.HandleInterrupts(context.Background(), false)
	require.NoError(t, ctx.Err())

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after interrupt")
	}
	assert.True(t, h.WasInterrupted())
}
