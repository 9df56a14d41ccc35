package ingress

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPAdapterDeliversDatagramsAsFrames(t *testing.T) {
	received := make(chan []byte, 1)
	a := NewUDPAdapter("127.0.0.1:0", 0, func(buf []byte, ts int64) {
		received <- buf
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Start(ctx)

	require.Eventually(t, func() bool { return a.conn != nil }, time.Second, time.Millisecond)
	require.True(t, a.Connected())

	addr := a.conn.LocalAddr().(*net.UDPAddr)
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello-frame"))
	require.NoError(t, err)

	select {
	case buf := <-received:
		require.Equal(t, []byte("hello-frame"), buf)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered frame")
	}

	require.NoError(t, a.Stop())
}

func TestReaderAdapterReplaysLengthPrefixedFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, []byte("two")))

	var got [][]byte
	a := NewReaderAdapter(&buf, 0, func(frame []byte, ts int64) {
		got = append(got, append([]byte{}, frame...))
	})

	err := a.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
	require.False(t, a.Connected())
}

func TestReaderAdapterStopsCleanlyOnEOF(t *testing.T) {
	r, w := io.Pipe()

	a := NewReaderAdapter(r, 0, func(frame []byte, ts int64) {})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	require.Eventually(t, func() bool { return a.Connected() }, time.Second, time.Millisecond)
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after reader EOF")
	}
	require.False(t, a.Connected())
}
