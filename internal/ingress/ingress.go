// Package ingress provides reference implementations of the ingress
// contract (spec §6): a registered callback delivering opaque byte
// buffers, one call per sensor frame, on an arbitrary thread, with a
// start/stop lifecycle and a connected-or-not status. Both adapters here
// are collaborators outside the tracking core, wired only at
// cmd/tracking-engine; the pipeline only ever sees RawFrame.
//
// UDPAdapter's read-loop-with-deadline-for-cancellation shape is grounded
// on the reference codebase's network.UDPListener.Start
// (internal/lidar/network/listener.go): a per-read deadline lets the loop
// notice context cancellation without a second goroutine.
package ingress

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// FrameCallback is invoked once per received frame with its raw bytes and
// arrival timestamp (unix nanoseconds).
type FrameCallback func(buf []byte, timestampNanos int64)

// Adapter is the ingress contract every collaborator in this package
// satisfies (spec §6, "Ingress contract").
type Adapter interface {
	Start(ctx context.Context) error
	Stop() error
	Connected() bool
}

// UDPAdapter delivers one frame per received UDP datagram. Sized for
// radar frame payloads rather than LiDAR's Pandar40P packets, but the
// read-loop discipline is the same as the reference codebase's listener.
type UDPAdapter struct {
	addr    string
	rcvBuf  int
	onFrame FrameCallback

	conn      *net.UDPConn
	connected atomic.Bool
}

// NewUDPAdapter constructs a UDP ingress adapter bound to addr (e.g.
// ":9000"). rcvBuf configures the OS receive buffer size; zero leaves the
// OS default.
func NewUDPAdapter(addr string, rcvBuf int, onFrame FrameCallback) *UDPAdapter {
	return &UDPAdapter{addr: addr, rcvBuf: rcvBuf, onFrame: onFrame}
}

// Start resolves and binds the UDP socket and reads datagrams until ctx is
// cancelled or Stop is called. Blocks until the loop exits.
func (a *UDPAdapter) Start(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", a.addr)
	if err != nil {
		return fmt.Errorf("resolve udp address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	a.conn = conn
	if a.rcvBuf > 0 {
		_ = conn.SetReadBuffer(a.rcvBuf)
	}
	a.connected.Store(true)
	defer a.connected.Store(false)

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				continue
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			a.onFrame(frame, time.Now().UnixNano())
		}
	}
}

// Stop closes the UDP socket, unblocking Start's read loop.
func (a *UDPAdapter) Stop() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// Connected reports whether the socket is currently bound and reading.
func (a *UDPAdapter) Connected() bool {
	return a.connected.Load()
}

// ReaderAdapter replays frames from an io.Reader of length-prefixed
// records (uint32 big-endian length followed by that many bytes) — the
// file/reader-based adapter used for scenario replay and golden-frame
// capture playback (spec §6, "a file/reader-based adapter for scenario
// replay"). pace, if nonzero, sleeps between frames to approximate a live
// feed; zero replays as fast as the reader yields frames.
type ReaderAdapter struct {
	r       io.Reader
	onFrame FrameCallback
	pace    time.Duration

	connected atomic.Bool
}

// NewReaderAdapter constructs a replay adapter over r.
func NewReaderAdapter(r io.Reader, pace time.Duration, onFrame FrameCallback) *ReaderAdapter {
	return &ReaderAdapter{r: r, onFrame: onFrame, pace: pace}
}

// Start reads length-prefixed frames until EOF or ctx cancellation.
func (a *ReaderAdapter) Start(ctx context.Context) error {
	br := bufio.NewReader(a.r)
	a.connected.Store(true)
	defer a.connected.Store(false)

	var lenBuf [4]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(br, frame); err != nil {
			return fmt.Errorf("read frame payload: %w", err)
		}
		a.onFrame(frame, time.Now().UnixNano())
		if a.pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.pace):
			}
		}
	}
}

// Stop marks the adapter disconnected; Start observes ctx cancellation
// for actual loop termination since io.Reader has no interrupt primitive.
func (a *ReaderAdapter) Stop() error {
	a.connected.Store(false)
	return nil
}

// Connected reports whether a replay is in progress.
func (a *ReaderAdapter) Connected() bool {
	return a.connected.Load()
}

// WriteFrame writes one length-prefixed frame to w, the inverse of
// ReaderAdapter's read loop — used by tooling that captures live frames
// for later replay.
func WriteFrame(w io.Writer, buf []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}
