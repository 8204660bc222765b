package source

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPSourceParsesLines(t *testing.T) {
	src, err := NewTCPSource(context.Background(), "127.0.0.1:0", StdinConfig{BufferSize: 8})
	require.NoError(t, err)
	defer src.Stop()
	assert.Equal(t, 8, cap(src.ch))

	conn, err := net.Dial("tcp", src.Addr())
	require.NoError(t, err)
	_, err = conn.Write([]byte("garbage\nMessageLog SMS Received from: 010-9876\n"))
	require.NoError(t, err)
	conn.Close()

	select {
	case ev := <-src.Events():
		assert.Equal(t, "MessageLog", ev.Category)
		assert.Equal(t, "SMS Received from: 010-9876", ev.Content)
		assert.Equal(t, "tcp", ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestTCPSourceStopClosesEvents(t *testing.T) {
	src, err := NewTCPSource(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("tcp", src.Addr())
	require.NoError(t, err)
	defer conn.Close()

	src.Stop()
	src.Stop()
	assert.Empty(t, drain(t, src.Events()))
}

func TestTCPSourceListenError(t *testing.T) {
	_, err := NewTCPSource(context.Background(), "256.0.0.1:0")
	assert.Error(t, err)
}
